package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fyrsmithlabs/autofixd/internal/dispatcher"
	"github.com/fyrsmithlabs/autofixd/internal/event"
	"github.com/fyrsmithlabs/autofixd/internal/evolution"
	"github.com/fyrsmithlabs/autofixd/internal/feed"
	"github.com/fyrsmithlabs/autofixd/internal/gamecfg"
	"github.com/fyrsmithlabs/autofixd/internal/logging"
	"github.com/fyrsmithlabs/autofixd/internal/macro"
	"github.com/fyrsmithlabs/autofixd/internal/patch/patchtest"
	"github.com/fyrsmithlabs/autofixd/internal/planner"
	"github.com/fyrsmithlabs/autofixd/internal/telemetry"
)

func newEngine(t *testing.T, mutate func(*Config)) (*Engine, *feed.Stream, *patchtest.Recorder) {
	t.Helper()
	stream := feed.NewStream()
	rec := patchtest.New()
	cfg := Config{
		Feed:                stream,
		Transformer:         rec,
		Docs:                rec,
		Applier:             rec,
		DispatcherAutostart: true,
		PlannerInterval:     time.Hour,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Start())
	t.Cleanup(e.Stop)
	return e, stream, rec
}

func waitProcessed(t *testing.T, e *Engine, n int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return e.Status().DispatcherStats.Processed >= n
	}, 5*time.Second, time.Millisecond)
}

func TestEngine_NullReferenceIsGuarded(t *testing.T) {
	e, stream, rec := newEngine(t, nil)

	stream.Publish(event.New(event.TypeRuntimeError, event.SeverityError, "NullReferenceException at Foo.Bar", nil))
	waitProcessed(t, e, 1)

	require.Eventually(t, func() bool {
		_, _, code, _ := rec.Counts()
		return code == 1
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, int64(1), e.Status().DispatcherStats.Applied)
}

func TestEngine_TiesEvolveThreshold(t *testing.T) {
	e, stream, rec := newEngine(t, nil)

	for i := 0; i < 10; i++ {
		stream.Publish(event.New(event.TypeCapture, event.SeverityInfo, "capture", event.CapturePayload{
			AttackerValue: 2,
			DefenderValue: 2,
			Result:        event.Ptr(false),
		}))
		waitProcessed(t, e, int64(i+1))
	}
	require.True(t, e.Memory().Flag(evolution.PatternTooManyTies))

	actions, err := e.Evolve(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, actions)

	doc, ok := rec.Document(gamecfg.DefaultPath)
	require.True(t, ok)
	assert.Equal(t, 0.0, doc.CaptureThreshold())
	assert.False(t, e.Memory().Flag(evolution.PatternTooManyTies))
}

func TestEngine_PlannerTick(t *testing.T) {
	e, _, rec := newEngine(t, func(c *Config) { c.PlannerEnabled = true })
	e.Memory().SetFlag(evolution.PatternTooManyTies, true, 0.8)

	d, status, err := e.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, planner.StatusDecided, status)
	assert.Equal(t, planner.ActionRebalanceThreshold, d.Action)
	assert.Equal(t, macro.RebalanceRules, d.Macro)
	assert.True(t, d.Success)

	doc, _ := rec.Document(gamecfg.DefaultPath)
	assert.Equal(t, 0.0, doc.CaptureThreshold())

	_, status, err = e.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, planner.StatusCooldown, status)

	st := e.Status()
	require.NotNil(t, st.LastDecision)
	assert.Equal(t, d.TickID, st.LastDecision.TickID)
}

func TestEngine_PlannerToggleKeepsMemory(t *testing.T) {
	e, _, _ := newEngine(t, nil)
	e.Memory().UpdatePattern("tieCount", 4, 0.5)

	_, status, err := e.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, planner.StatusDisabled, status)

	e.SetPlannerEnabled(true)
	assert.True(t, e.Status().PlannerEnabled)
	p, ok := e.Memory().Pattern("tieCount")
	require.True(t, ok)
	assert.Equal(t, 4.0, p.Value)
}

func TestEngine_DispatcherControl(t *testing.T) {
	e, stream, _ := newEngine(t, func(c *Config) { c.DispatcherAutostart = false })
	assert.Equal(t, dispatcher.StateIdle, e.Status().Dispatcher)

	stream.Publish(event.New(event.TypeRuntimeError, event.SeverityError, "boom", nil))
	assert.True(t, e.StartDispatcher())
	assert.False(t, e.StartDispatcher())

	// The event that was latest before start is skipped.
	stream.Publish(event.New(event.TypeRuntimeError, event.SeverityError, "boom again", nil))
	waitProcessed(t, e, 1)
	assert.Equal(t, int64(1), e.Status().DispatcherStats.Processed)

	assert.True(t, e.StopDispatcher())
	assert.False(t, e.StopDispatcher())
	assert.Equal(t, dispatcher.StateIdle, e.Status().Dispatcher)
}

func TestEngine_ResetMemory(t *testing.T) {
	e, stream, _ := newEngine(t, nil)
	stream.Publish(event.New(event.TypeCapture, event.SeverityInfo, "capture", event.CapturePayload{
		AttackerValue: 2,
		DefenderValue: 2,
		Result:        event.Ptr(false),
	}))
	waitProcessed(t, e, 1)
	require.NotEmpty(t, e.Snapshot().Patterns)

	require.NoError(t, e.ResetMemory(context.Background()))
	snap := e.Snapshot()
	assert.Empty(t, snap.Patterns)
	assert.Empty(t, snap.StabilityMetrics)
	assert.Empty(t, snap.History)
}

func TestEngine_RunMacro(t *testing.T) {
	e, _, _ := newEngine(t, nil)

	res, err := e.RunMacro(context.Background(), macro.WrapMissingColliders)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, e.Memory().Flag(macro.PatternCollidersAdded))

	_, err = e.RunMacro(context.Background(), macro.Name("nope"))
	assert.ErrorIs(t, err, macro.ErrUnknownMacro)
}

func TestEngine_Lifecycle(t *testing.T) {
	stream := feed.NewStream()
	rec := patchtest.New()
	tl := logging.NewTestLogger()
	e, err := New(Config{
		Feed:        stream,
		Transformer: rec,
		Docs:        rec,
		Applier:     rec,
		Logger:      tl.Underlying(),
	})
	require.NoError(t, err)

	_, _, err = e.Tick(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.False(t, e.Status().Running)

	require.NoError(t, e.Start())
	assert.ErrorIs(t, e.Start(), ErrAlreadyRunning)
	st := e.Status()
	assert.True(t, st.Running)
	assert.NotNil(t, st.StartedAt)
	assert.Equal(t, e.ID(), st.ID)

	e.Stop()
	e.Stop()
	assert.False(t, e.Status().Running)
	assert.ErrorIs(t, e.ResetMemory(context.Background()), ErrNotRunning)

	entries := tl.FilterMessage("engine started").All()
	require.Len(t, entries, 1)
	assert.Equal(t, e.ID(), entries[0].ContextMap()["engine.id"])
}

func TestEngine_LogsCarryCorrelationIDs(t *testing.T) {
	tl := logging.NewTestLogger()
	e, stream, _ := newEngine(t, func(c *Config) {
		c.PlannerEnabled = true
		c.Logger = tl.Underlying()
	})
	ctx := logging.WithRequestID(context.Background(), "req-1")

	_, err := e.RunMacro(ctx, macro.WrapMissingColliders)
	require.NoError(t, err)
	tl.AssertField(t, "macro finished", "request.id", "req-1")
	tl.AssertField(t, "macro finished", "engine.id", e.ID())

	e.Memory().SetFlag(evolution.PatternTooManyTies, true, 0.8)
	d, status, err := e.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, planner.StatusDecided, status)
	tl.AssertField(t, "planner decision", "tick.id", d.TickID)
	tl.AssertField(t, "planner decision", "request.id", "req-1")
	tl.AssertField(t, "planner decision", "engine.id", e.ID())

	ev := event.New(event.TypeRuntimeError, event.SeverityError, "NullReferenceException at Foo.Bar", nil)
	stream.Publish(ev)
	require.Eventually(t, func() bool {
		return tl.FilterMessage("fix applied").Len() > 0
	}, 5*time.Second, time.Millisecond)
	tl.AssertField(t, "fix applied", "event.id", ev.ID)
	tl.AssertField(t, "fix applied", "engine.id", e.ID())
}

func TestEngine_Telemetry(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	tel.Install(t)

	e, stream, _ := newEngine(t, func(c *Config) { c.PlannerEnabled = true })
	stream.Publish(event.New(event.TypeRuntimeError, event.SeverityError, "NullReferenceException at Foo.Bar", nil))
	waitProcessed(t, e, 1)

	e.Memory().SetFlag(evolution.PatternTooManyTies, true, 0.8)
	_, _, err := e.Tick(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return tel.SpanByName("dispatcher.process") != nil
	}, 5*time.Second, time.Millisecond)
	tel.AssertSpanAttribute(t, "dispatcher.process", "outcome", "applied")
	tel.AssertSpanExists(t, "planner.tick")
	tel.AssertSpanAttribute(t, "planner.tick", "decision.action", planner.ActionRebalanceThreshold)
	assert.Equal(t, int64(1), tel.CounterValue(t, "autofixd.dispatcher.events_total",
		attribute.String("outcome", "applied")))
}

func TestNew_Validation(t *testing.T) {
	rec := patchtest.New()
	_, err := New(Config{})
	assert.Error(t, err)
	_, err = New(Config{Feed: feed.NewStream(), Docs: rec, Applier: rec})
	assert.Error(t, err, "transformer is required")
}
