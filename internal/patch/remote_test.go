package patch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/autofixd/internal/fix"
	"github.com/fyrsmithlabs/autofixd/internal/scene"
)

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

func connect(t *testing.T, server *natsserver.Server) *nats.Conn {
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func TestRemote_PublishesCommands(t *testing.T) {
	server := startTestNATSServer(t)
	nc := connect(t, server)
	sub, err := nc.SubscribeSync("game.cmd.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	r := NewRemote(nc, "game.cmd", time.Second, nil)
	ctx := context.Background()

	require.NoError(t, r.ApplyAssetAction(ctx, fix.KindRefresh, "Stone", "Assets/Stone.mat"))
	require.NoError(t, r.ApplyCodePatch(ctx, "Player.cs", "Player.Update", "guard"))
	require.NoError(t, r.SetTransform(ctx, "hud", scene.PropPosition, scene.Vec3{X: 1, Y: 20}))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "game.cmd.asset", msg.Subject)
	var asset AssetCommand
	require.NoError(t, json.Unmarshal(msg.Data, &asset))
	assert.Equal(t, AssetCommand{Action: fix.KindRefresh, AssetID: "Stone", Path: "Assets/Stone.mat"}, asset)

	msg, err = sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "game.cmd.code", msg.Subject)

	msg, err = sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "game.cmd.transform", msg.Subject)
	var change scene.Change
	require.NoError(t, json.Unmarshal(msg.Data, &change))
	assert.Equal(t, "hud", change.NodeID)
	assert.Equal(t, 20.0, change.Value.Y)
}

func TestRemote_TriggerRebuild(t *testing.T) {
	server := startTestNATSServer(t)
	nc := connect(t, server)

	_, err := nc.Subscribe("game.cmd.rebuild", func(m *nats.Msg) {
		data, _ := json.Marshal(RebuildReply{Success: true})
		_ = m.Respond(data)
	})
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	r := NewRemote(nc, "game.cmd", time.Second, nil)
	ok, err := r.TriggerRebuild(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRemote_TriggerRebuildTimesOut(t *testing.T) {
	server := startTestNATSServer(t)
	nc := connect(t, server)

	r := NewRemote(nc, "game.cmd", 100*time.Millisecond, nil)
	ok, err := r.TriggerRebuild(context.Background())
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestRemote_NotConnected(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	nc.Close()

	r := NewRemote(nc, "game.cmd", time.Second, nil)
	assert.ErrorIs(t, r.ApplyCodePatch(context.Background(), "", "", "x"), ErrNotConnected)
	_, err = r.TriggerRebuild(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}
