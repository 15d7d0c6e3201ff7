package monitor

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/autofixd/internal/dispatcher"
	"github.com/fyrsmithlabs/autofixd/internal/engine"
	api "github.com/fyrsmithlabs/autofixd/internal/http"
	"github.com/fyrsmithlabs/autofixd/internal/memory"
	"github.com/fyrsmithlabs/autofixd/internal/planner"
)

func key(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func sampleState(processed int64) stateMsg {
	started := time.Now().Add(-90 * time.Second)
	return stateMsg{
		status: api.StatusResponse{Engine: engine.Status{
			Running:         true,
			Connected:       true,
			Dispatcher:      dispatcher.StateActive,
			DispatcherStats: dispatcher.Stats{Processed: processed, Applied: processed / 2},
			PlannerEnabled:  true,
			PlannerInterval: 2 * time.Second,
			LastDecision: &planner.Decision{
				Action:     planner.ActionRebalanceThreshold,
				Confidence: 0.8,
				Success:    true,
			},
			StartedAt: &started,
		}},
		snapshot: memory.Snapshot{
			StabilityMetrics: map[string]memory.StabilityMetric{
				"errorRate": {Key: "errorRate", Value: 0.5, Threshold: 0.3, Status: memory.StatusCritical},
			},
			BalanceMetrics: map[string]memory.BalanceMetric{
				"winRate": {Key: "winRate", Value: 0.7, Target: 0.5, Deviation: 0.2},
			},
			Patterns: map[string]memory.Pattern{
				"tieCount": {Key: "tieCount", Value: 4, Confidence: 0.5},
			},
			History: []memory.Entry{
				{Type: "fix_applied", Action: "guard_null", Success: true, Timestamp: time.Now()},
			},
		},
	}
}

func TestModel_Init(t *testing.T) {
	m := NewModel(NewClient("http://localhost:9090"), 5*time.Second)
	assert.Equal(t, 5*time.Second, m.interval)
	assert.NotNil(t, m.Init())
}

func TestModel_Update_Keys(t *testing.T) {
	m := NewModel(NewClient("http://localhost:9090"), time.Second)

	for _, r := range []rune{'r', 't', 'e', 'p', 'd'} {
		updated, cmd := m.Update(key(r))
		assert.False(t, updated.(Model).quitting)
		assert.NotNil(t, cmd, "key %q", r)
	}

	updated, cmd := m.Update(key('q'))
	assert.True(t, updated.(Model).quitting)
	assert.NotNil(t, cmd)
	assert.Empty(t, updated.View())
}

func TestModel_Update_State(t *testing.T) {
	m := NewModel(NewClient("http://localhost:9090"), time.Second)

	updated, _ := m.Update(sampleState(10))
	m = updated.(Model)
	assert.Empty(t, m.throughput, "first refresh sets the baseline")

	updated, _ = m.Update(sampleState(14))
	m = updated.(Model)
	assert.Equal(t, []float64{4}, m.throughput)
	assert.False(t, m.lastUpdate.IsZero())

	view := m.View()
	assert.Contains(t, view, "autofixd Monitor")
	assert.Contains(t, view, "RUNNING")
	assert.Contains(t, view, "errorRate")
	assert.Contains(t, view, "winRate")
	assert.Contains(t, view, "tieCount")
	assert.Contains(t, view, planner.ActionRebalanceThreshold)
	assert.Contains(t, view, "guard_null")
}

func TestModel_Update_ErrorAndFlash(t *testing.T) {
	m := NewModel(NewClient("http://localhost:9090"), time.Second)

	updated, _ := m.Update(errMsg{assert.AnError})
	m = updated.(Model)
	assert.Contains(t, m.View(), "Cannot reach autofixd")
	assert.Contains(t, m.View(), "http://localhost:9090")

	updated, _ = m.Update(sampleState(1))
	updated, _ = updated.Update(flashMsg("tick: cooldown"))
	m = updated.(Model)
	assert.Nil(t, m.err)
	assert.Contains(t, m.View(), "tick: cooldown")
}

func TestModel_ActionsAgainstDaemon(t *testing.T) {
	c, e := newDaemon(t)

	msg := fetchState(c)()
	state, ok := msg.(stateMsg)
	require.True(t, ok, "%T", msg)
	assert.Equal(t, e.ID(), state.status.Engine.ID)

	flash, err := togglePlanner(false)(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "planner enabled=false", flash)
	assert.False(t, e.Status().PlannerEnabled)

	flash, err = runTick(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "tick: disabled", flash)

	flash, err = toggleDispatcher(false)(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "dispatcher idle", flash)

	flash, err = runEvolve(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "evolve: 0 rule change(s)", flash)
}

func TestFormatters(t *testing.T) {
	assert.Equal(t, "50.0%", FormatPercentage(0.5))
	assert.Equal(t, "-", FormatRatio(1, 0))
	assert.Equal(t, "25.0%", FormatRatio(1, 4))
	assert.Equal(t, "1h 2m", FormatDuration(62*time.Minute))
	assert.Equal(t, "1m 30s", FormatDuration(90*time.Second))
	assert.Equal(t, "5s", FormatDuration(5*time.Second))
	assert.Equal(t, "+0.20", FormatSigned(0.2))
	assert.Equal(t, "-0.10", FormatSigned(-0.1))
}

func TestPushSample_KeepsNewest(t *testing.T) {
	var s []float64
	for i := 0; i < maxSamples+5; i++ {
		s = pushSample(s, float64(i))
	}
	require.Len(t, s, maxSamples)
	assert.Equal(t, float64(5), s[0])
	assert.Equal(t, float64(maxSamples+4), s[len(s)-1])
}
