// Package stream delivers terminal login events to waiting client
// connections.
package stream

import (
	"sync"

	"github.com/warrelis/loginrelay/internal/services/relay/domain"
)

// Event is a named terminal payload serialized for a watcher.
type Event struct {
	ID   string // unique event id, carried on the SSE id field
	Name string // event name, e.g. domain.EventLoggedIn
	Data []byte // JSON-encoded body
}

// Output is a one-shot handle between the hub and a transport handler. The
// hub pushes at most one terminal event and then closes; the handler drains
// Events until it yields the event or is closed without one.
type Output struct {
	events chan Event
	once   sync.Once
}

// NewOutput creates an unattached output handle.
func NewOutput() *Output {
	return &Output{events: make(chan Event, 1)}
}

// Events yields the terminal event, then closes. A close without an event
// means the registration was released (expiry race or replaced connection).
func (o *Output) Events() <-chan Event {
	return o.events
}

// send buffers the terminal event. Only the hub calls this, under its lock,
// at most once per output, so the buffered channel never blocks.
func (o *Output) send(ev Event) {
	select {
	case o.events <- ev:
	default:
	}
}

// close releases the handle. Safe to call more than once; only the hub calls
// this, under its lock.
func (o *Output) close() {
	o.once.Do(func() { close(o.events) })
}

// Hub tracks at most one live output per correlation token.
//
// Registration and delivery are mutually exclusive: the pending check on
// register and the store claim on deliver run inside the hub critical
// section, so a watch racing a callback either registers before the claim
// and receives the event, or observes the token gone and fails fast. There
// is no interleaving that registers a watcher and loses the event.
type Hub struct {
	mu       sync.Mutex
	watchers map[domain.Token]*Output
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{watchers: make(map[domain.Token]*Output)}
}

// Register installs out as the watcher for token. pending reports whether
// the token still has a live pending login; a dead token is rejected with
// domain.ErrUnknownToken so clients never wait on tokens that can no longer
// complete. A second registration while one is live is rejected with
// domain.ErrAlreadyWatching, leaving the original watcher intact.
func (h *Hub) Register(token domain.Token, out *Output, pending func(domain.Token) bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, busy := h.watchers[token]; busy {
		return domain.ErrAlreadyWatching
	}
	if pending != nil && !pending(token) {
		return domain.ErrUnknownToken
	}
	h.watchers[token] = out
	return nil
}

// Deliver claims token through claim and, when the claim wins, pushes the
// terminal event to the registered watcher. Without a watcher the event is
// dropped; completion is not buffered. Deliver reports whether the claim
// won: false means the token was already delivered, expired, or never
// issued, and the caller must treat the callback as unknown.
func (h *Hub) Deliver(token domain.Token, ev Event, claim func(domain.Token) bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if claim != nil && !claim(token) {
		return false
	}
	if out, ok := h.watchers[token]; ok {
		out.send(ev)
		out.close()
		delete(h.watchers, token)
	}
	return true
}

// Close pushes a terminal event to the watcher for token, if any, and
// discards the registration. The expiry sweep uses this to end streams for
// tokens that never completed.
func (h *Hub) Close(token domain.Token, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out, ok := h.watchers[token]
	if !ok {
		return
	}
	out.send(ev)
	out.close()
	delete(h.watchers, token)
}

// Release clears the registration for token if out is still its current
// watcher and closes out either way. Transport handlers call this when the
// client connection ends, so a disconnect frees the token for a new watch
// without an explicit remove.
func (h *Hub) Release(token domain.Token, out *Output) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.watchers[token]; ok && current == out {
		delete(h.watchers, token)
	}
	out.close()
}

// Watching reports whether token has a live watcher.
func (h *Hub) Watching(token domain.Token) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.watchers[token]
	return ok
}
