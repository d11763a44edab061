// Package broker routes inbound events to subscribers inside the process.
package broker

import (
	"encoding/json"
	"sync"
)

// Handler receives the raw payload of one event.
type Handler func(event string, data json.RawMessage)

// Router fans events out to handlers registered per event name. Handlers run
// synchronously on the publishing goroutine, in registration order.
type Router struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string][]Handler)}
}

// On registers h for event. Use Wildcard to receive everything.
func (r *Router) On(event string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[event] = append(r.handlers[event], h)
}

// Publish delivers data to the handlers of event, then to wildcard handlers.
// It reports whether any handler received it.
func (r *Router) Publish(event string, data json.RawMessage) bool {
	r.mu.RLock()
	hs := make([]Handler, 0, len(r.handlers[event])+len(r.handlers[Wildcard]))
	hs = append(hs, r.handlers[event]...)
	hs = append(hs, r.handlers[Wildcard]...)
	r.mu.RUnlock()

	for _, h := range hs {
		h(event, data)
	}
	return len(hs) > 0
}
