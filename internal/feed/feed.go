// Package feed delivers diagnostic events from the connected application.
//
// A Feed is push-based but only exposes the most recent event: subscribers
// are told that something arrived and then read Latest. Bursts therefore
// coalesce instead of queueing, and nothing is buffered across
// disconnects.
package feed

import (
	"sync"

	"github.com/fyrsmithlabs/autofixd/internal/event"
)

// Feed is the inbound event source.
type Feed interface {
	// Subscribe registers fn to be called after each new event. fn runs on
	// the publisher's goroutine and must not block. The returned function
	// removes the subscription; calling it more than once is harmless.
	Subscribe(fn func()) (unsubscribe func())

	// Latest returns the most recent event, if any.
	Latest() (event.Event, bool)

	// IsConnected reports whether the transport is up.
	IsConnected() bool
}

// hub holds the latest event and the subscriber set shared by feed
// implementations.
type hub struct {
	mu     sync.RWMutex
	latest event.Event
	has    bool
	subs   map[uint64]func()
	nextID uint64
}

func (h *hub) Subscribe(fn func()) func() {
	h.mu.Lock()
	if h.subs == nil {
		h.subs = make(map[uint64]func())
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

func (h *hub) Latest() (event.Event, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest, h.has
}

func (h *hub) publish(ev event.Event) {
	h.mu.Lock()
	h.latest = ev
	h.has = true
	fns := make([]func(), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (h *hub) subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
