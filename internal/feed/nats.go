package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autofixd/internal/event"
	"github.com/fyrsmithlabs/autofixd/internal/scene"
)

// Default subjects.
const (
	DefaultEventSubject = "autofix.events"
	DefaultSceneSubject = "autofix.scene.snapshot"
)

// ErrClosed is returned when using a closed NATSFeed.
var ErrClosed = errors.New("feed closed")

// NATSFeed receives events and scene snapshots from NATS subjects.
type NATSFeed struct {
	hub

	nc     *nats.Conn
	logger *zap.Logger

	stateMu  sync.Mutex
	natsSubs []*nats.Subscription
	closed   bool
	sceneMu  sync.RWMutex
	snapshot scene.Snapshot
}

var (
	_ Feed         = (*NATSFeed)(nil)
	_ scene.Source = (*NATSFeed)(nil)
)

// NewNATSFeed subscribes to eventSubject and, when non-empty,
// sceneSubject.
func NewNATSFeed(nc *nats.Conn, eventSubject, sceneSubject string, logger *zap.Logger) (*NATSFeed, error) {
	if nc == nil {
		return nil, errors.New("nats connection is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if eventSubject == "" {
		eventSubject = DefaultEventSubject
	}

	f := &NATSFeed{nc: nc, logger: logger}

	sub, err := nc.Subscribe(eventSubject, f.handleEvent)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", eventSubject, err)
	}
	f.natsSubs = append(f.natsSubs, sub)

	if sceneSubject != "" {
		sub, err := nc.Subscribe(sceneSubject, f.handleScene)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("subscribe %s: %w", sceneSubject, err)
		}
		f.natsSubs = append(f.natsSubs, sub)
	}

	return f, nil
}

func (f *NATSFeed) handleEvent(msg *nats.Msg) {
	ev, err := event.Parse(msg.Data)
	if err != nil {
		f.logger.Warn("dropping malformed event",
			zap.String("subject", msg.Subject),
			zap.Error(err))
		return
	}
	f.publish(ev)
}

func (f *NATSFeed) handleScene(msg *nats.Msg) {
	var snap scene.Snapshot
	if err := json.Unmarshal(msg.Data, &snap); err != nil {
		f.logger.Warn("dropping malformed scene snapshot",
			zap.String("subject", msg.Subject),
			zap.Error(err))
		return
	}
	f.sceneMu.Lock()
	f.snapshot = snap
	f.sceneMu.Unlock()
}

// IsConnected implements Feed.
func (f *NATSFeed) IsConnected() bool {
	f.stateMu.Lock()
	closed := f.closed
	f.stateMu.Unlock()
	return !closed && f.nc.IsConnected()
}

// Scene implements scene.Source.
func (f *NATSFeed) Scene() scene.Snapshot {
	f.sceneMu.RLock()
	defer f.sceneMu.RUnlock()
	return f.snapshot
}

// Close drops the NATS subscriptions. The connection itself is owned by
// the caller.
func (f *NATSFeed) Close() error {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true

	var errs []error
	for _, sub := range f.natsSubs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	f.natsSubs = nil
	return errors.Join(errs...)
}
