// Package engine is the client sync engine. It owns the chat list, message
// logs and presence of one session and keeps them consistent with the event
// stream of the backend.
//
// All state is owned by a single goroutine (Run). Inbound events and public
// commands are posted to one inbox, so they apply in the order they arrive.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/johndosdos/chatter-sync/internal/broker"
	"github.com/johndosdos/chatter-sync/internal/model"
	ratelimiter "github.com/johndosdos/chatter-sync/internal/rate_limiter"
)

// ErrStopped is returned by commands issued after Run has returned.
var ErrStopped = errors.New("internal/engine: engine stopped")

// Conn is the event channel to the backend.
type Conn interface {
	Send(event string, payload any) error
	Status() model.ConnectionState
	OnEvent(event string, h broker.Handler)
	OnStateChange(fn func(model.ConnectionState))
}

// Fetcher loads a chat's message window over REST. Without one the engine
// asks for it with get_messages.
type Fetcher interface {
	Messages(ctx context.Context, chatID string) ([]model.Message, error)
}

// Uploader stores an attachment and returns its URL.
type Uploader interface {
	Upload(ctx context.Context, name string, r io.Reader) (string, error)
}

type sanitizer interface {
	Sanitize(s string) string
}

type Config struct {
	Self model.User

	SendTimeout        time.Duration
	TypingTTL          time.Duration
	TypingEmitInterval time.Duration
	// TickInterval is how often expired typing indicators are purged.
	TickInterval time.Duration
	FetchTimeout time.Duration

	Fetcher  Fetcher
	Uploader Uploader

	// Now replaces time.Now in tests.
	Now func() time.Time
}

func (c *Config) setDefaults() {
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.TypingTTL <= 0 {
		c.TypingTTL = 3 * time.Second
	}
	if c.TypingEmitInterval <= 0 {
		c.TypingEmitInterval = 2 * time.Second
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 500 * time.Millisecond
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 15 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Engine is one session's sync engine. Build it with New, then start Run.
type Engine struct {
	cfg   Config
	conn  Conn
	state *State

	inbox chan func()
	done  chan struct{}
	ctx   context.Context

	typing *ratelimiter.KeyedLimiter
	timers map[string]*time.Timer
	subs   []chan Change
}

// New wires an engine to conn. Events published by conn before Run starts
// are queued.
func New(conn Conn, cfg Config) *Engine {
	cfg.setDefaults()

	e := &Engine{
		cfg:   cfg,
		conn:  conn,
		state: newState(cfg.Self, cfg.TypingTTL, cfg.Now, bluemonday.StrictPolicy()),
		inbox: make(chan func(), 1024),
		done:  make(chan struct{}),
		ctx:   context.Background(),
		typing: ratelimiter.NewKeyedLimiter(1, cfg.TypingEmitInterval, ratelimiter.CleanupOpts{
			TTL:      time.Minute,
			Interval: time.Minute,
		}),
		timers: make(map[string]*time.Timer),
	}
	e.state.restLoad = cfg.Fetcher != nil
	e.state.Status = conn.Status()

	conn.OnEvent(broker.Wildcard, func(event string, data json.RawMessage) {
		e.post(func() { e.dispatch(event, data) })
	})
	conn.OnStateChange(func(s model.ConnectionState) {
		e.post(func() { e.setStatus(s) })
	})

	return e
}

// Run processes events and commands until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.ctx = ctx
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer func() {
		ticker.Stop()
		e.typing.Cancel()
		for _, t := range e.timers {
			t.Stop()
		}
		close(e.done)
		for _, ch := range e.subs {
			close(ch)
		}
	}()

	for {
		select {
		case fn := <-e.inbox:
			fn()
			e.flush()

		case <-ticker.C:
			if e.state.Presence.Tick(e.cfg.Now()) > 0 {
				e.state.changed(TypingChanged, "")
				e.flush()
			}

		case <-ctx.Done():
			slog.DebugContext(ctx, "engine stopped", "reason", ctx.Err())
			return
		}
	}
}

// Done is closed once Run has returned.
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) post(fn func()) bool {
	select {
	case e.inbox <- fn:
		return true
	case <-e.done:
		return false
	}
}

// call runs fn on the engine goroutine and waits for it.
func (e *Engine) call(fn func()) error {
	finished := make(chan struct{})
	if !e.post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-e.done:
		return ErrStopped
	}
}

// Subscribe returns a channel of change notifications. Slow subscribers miss
// notifications rather than stall the engine. Subscribe before Run.
func (e *Engine) Subscribe(buf int) <-chan Change {
	ch := make(chan Change, max(buf, 1))
	e.subs = append(e.subs, ch)
	return ch
}

// flush performs the effects queued by the last step and notifies
// subscribers.
func (e *Engine) flush() {
	st := e.state

	for len(st.effects) > 0 {
		effects := st.effects
		st.effects = nil

		for _, ef := range effects {
			if ef.fetch != "" {
				e.fetch(ef.fetch, ef.seq)
				continue
			}
			if err := e.conn.Send(ef.event, ef.payload); err != nil {
				slog.WarnContext(e.ctx, "failed to send event",
					"event", ef.event,
					"error", err)
			}
		}
	}

	changes := st.changes
	st.changes = nil
	for _, c := range changes {
		for _, ch := range e.subs {
			select {
			case ch <- c:
			default:
				slog.Debug("skipping change notification", "kind", c.Kind.String())
			}
		}
	}
}

func (e *Engine) fetch(chatID string, seq uint64) {
	go func() {
		ctx, cancel := context.WithTimeout(e.ctx, e.cfg.FetchTimeout)
		defer cancel()

		msgs, err := e.cfg.Fetcher.Messages(ctx, chatID)
		e.post(func() { e.state.completeFetch(seq, chatID, msgs, err) })
	}()
}

func (e *Engine) dispatch(event string, data json.RawMessage) {
	if err := e.state.Apply(event, data); err != nil {
		e.state.logDrop(event, err)
	}
}

func (e *Engine) setStatus(s model.ConnectionState) {
	if e.state.Status == s {
		return
	}
	e.state.Status = s
	e.state.changed(StatusChanged, "")
}
