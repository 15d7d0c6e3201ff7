package feed

import (
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/autofixd/internal/event"
	"github.com/fyrsmithlabs/autofixd/internal/scene"
)

func TestStream_NotifiesAndCoalesces(t *testing.T) {
	s := NewStream()
	var calls atomic.Int32
	unsub := s.Subscribe(func() { calls.Add(1) })

	_, ok := s.Latest()
	assert.False(t, ok)

	first := event.New(event.TypeRuntimeError, event.SeverityError, "a", nil)
	second := event.New(event.TypeRuntimeError, event.SeverityError, "b", nil)
	s.Publish(first)
	s.Publish(second)

	assert.Equal(t, int32(2), calls.Load())
	latest, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, second.ID, latest.ID)

	unsub()
	unsub()
	s.Publish(first)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 0, s.Subscribers())
}

func TestStream_DisconnectedDropsEvents(t *testing.T) {
	s := NewStream()
	s.SetConnected(false)
	assert.False(t, s.IsConnected())

	s.Publish(event.New(event.TypeRuntimeError, event.SeverityError, "lost", nil))
	_, ok := s.Latest()
	assert.False(t, ok)

	s.SetConnected(true)
	assert.True(t, s.IsConnected())
}

func TestStream_Scene(t *testing.T) {
	s := NewStream()
	assert.Empty(t, s.Scene().Nodes)
	s.SetScene(scene.Snapshot{Nodes: []scene.Node{{ID: "n1"}}})
	_, ok := s.Scene().Node("n1")
	assert.True(t, ok)
}

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:           "127.0.0.1",
		Port:           -1, // Random port
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 2048,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func TestNATSFeed_ReceivesEventsAndScene(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	f, err := NewNATSFeed(nc, "", DefaultSceneSubject, nil)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, nc.Flush())
	assert.True(t, f.IsConnected())

	notified := make(chan struct{}, 4)
	f.Subscribe(func() {
		select {
		case notified <- struct{}{}:
		default:
		}
	})

	pub, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer pub.Close()

	require.NoError(t, pub.Publish(DefaultEventSubject, []byte("not json")))
	require.NoError(t, pub.Publish(DefaultEventSubject, []byte(`{
		"id": "evt-1",
		"type": "gameplay.capture",
		"severity": "info",
		"message": "capture",
		"payload": {"attackerValue": 5, "defenderValue": 2, "result": false}
	}`)))

	snap, err := json.Marshal(scene.Snapshot{Nodes: []scene.Node{{ID: "hud", Name: "HUD"}}})
	require.NoError(t, err)
	require.NoError(t, pub.Publish(DefaultSceneSubject, snap))
	require.NoError(t, pub.Flush())

	select {
	case <-notified:
	case <-time.After(5 * time.Second):
		t.Fatal("no notification")
	}

	ev, ok := f.Latest()
	require.True(t, ok)
	assert.Equal(t, "evt-1", ev.ID)
	capture, ok := ev.Payload.(event.CapturePayload)
	require.True(t, ok)
	assert.True(t, capture.Failed())

	assert.Eventually(t, func() bool {
		_, ok := f.Scene().Node("hud")
		return ok
	}, 5*time.Second, 10*time.Millisecond)
}

func TestNATSFeed_CloseReportsDisconnected(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	f, err := NewNATSFeed(nc, "events", "", nil)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	assert.False(t, f.IsConnected())
}

func TestNATSFeed_RequiresConnection(t *testing.T) {
	_, err := NewNATSFeed(nil, "", "", nil)
	assert.Error(t, err)
}
