package ratelimiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type CleanupOpts struct {
	TTL      time.Duration
	Interval time.Duration
}

// KeyedLimiter holds one token bucket per key, e.g. one per chat for outgoing
// typing notices.
type KeyedLimiter struct {
	limiters map[string]*rate.Limiter
	lastSeen map[string]time.Time
	mu       sync.Mutex
	Cancel   context.CancelFunc
	rate     rate.Limit
	burst    int
	CleanupOpts
}

// NewKeyedLimiter allows requests events per window for each key. Idle keys
// are dropped after cleanupOpts.TTL; a zero Interval disables the sweeper.
func NewKeyedLimiter(requests int, window time.Duration, cleanupOpts CleanupOpts) *KeyedLimiter {
	if requests <= 0 {
		requests = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	rl := &KeyedLimiter{
		limiters:    make(map[string]*rate.Limiter),
		lastSeen:    make(map[string]time.Time),
		Cancel:      cancel,
		rate:        rate.Every(window / time.Duration(requests)),
		burst:       requests,
		CleanupOpts: cleanupOpts,
	}

	if cleanupOpts.Interval > 0 {
		go rl.cleanup(ctx)
	}

	return rl
}

func (rl *KeyedLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.Sweep(now)
		}
	}
}

// Sweep forgets keys idle for longer than TTL as of now.
func (rl *KeyedLimiter) Sweep(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	n := 0
	for key, ls := range rl.lastSeen {
		if now.Sub(ls) > rl.TTL {
			delete(rl.limiters, key)
			delete(rl.lastSeen, key)
			n++
		}
	}
	return n
}

func (rl *KeyedLimiter) Allow(key string) bool {
	return rl.AllowAt(key, time.Now())
}

// AllowAt reports whether an event for key may happen at now.
func (rl *KeyedLimiter) AllowAt(key string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	bucket, ok := rl.limiters[key]
	if !ok {
		bucket = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = bucket
	}

	rl.lastSeen[key] = now
	return bucket.AllowN(now, 1)
}

// Reset refills key's bucket so its next event is allowed immediately.
func (rl *KeyedLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.limiters, key)
	delete(rl.lastSeen, key)
}

func (rl *KeyedLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}
