package feed

import (
	"sync"
	"sync/atomic"

	"github.com/fyrsmithlabs/autofixd/internal/event"
	"github.com/fyrsmithlabs/autofixd/internal/scene"
)

// Stream is an in-process Feed. It is used by tests and by embedders that
// produce events themselves.
type Stream struct {
	hub
	disconnected atomic.Bool

	sceneMu sync.RWMutex
	scene   scene.Snapshot
}

var (
	_ Feed         = (*Stream)(nil)
	_ scene.Source = (*Stream)(nil)
)

// NewStream returns a connected Stream.
func NewStream() *Stream {
	return &Stream{}
}

// Publish makes ev the latest event and notifies subscribers. Events
// published while disconnected are dropped.
func (s *Stream) Publish(ev event.Event) {
	if s.disconnected.Load() {
		return
	}
	s.publish(ev)
}

// SetConnected toggles the reported connectivity.
func (s *Stream) SetConnected(connected bool) {
	s.disconnected.Store(!connected)
}

// IsConnected implements Feed.
func (s *Stream) IsConnected() bool {
	return !s.disconnected.Load()
}

// SetScene replaces the current scene snapshot.
func (s *Stream) SetScene(snap scene.Snapshot) {
	s.sceneMu.Lock()
	s.scene = snap
	s.sceneMu.Unlock()
}

// Scene implements scene.Source.
func (s *Stream) Scene() scene.Snapshot {
	s.sceneMu.RLock()
	defer s.sceneMu.RUnlock()
	return s.scene
}

// Subscribers returns the number of active subscriptions.
func (s *Stream) Subscribers() int { return s.subscribers() }
