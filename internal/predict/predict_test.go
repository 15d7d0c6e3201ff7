package predict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/autofixd/internal/event"
	"github.com/fyrsmithlabs/autofixd/internal/gamecfg"
	"github.com/fyrsmithlabs/autofixd/internal/memory"
	"github.com/fyrsmithlabs/autofixd/internal/scene"
)

func capture(attacker, defender float64, result bool) *event.Event {
	ev := event.New(event.TypeCapture, event.SeverityInfo, "capture", event.CapturePayload{
		AttackerValue: attacker,
		DefenderValue: defender,
		Result:        event.Ptr(result),
	})
	return &ev
}

func TestAnalyze(t *testing.T) {
	tieMemory := memory.New()
	tieMemory.UpdatePattern(PatternTieCount, 4, 1)

	criticalMemory := memory.New()
	criticalMemory.UpdateStabilityMetric(MetricErrorRate, 0.9, 0.3)

	tests := []struct {
		name   string
		in     Input
		want   Action
		node   string
		exists bool
	}{
		{
			name: "nothing to predict",
			in:   Input{Document: gamecfg.Default(), Memory: memory.New()},
		},
		{
			name:   "large value gap",
			in:     Input{Event: capture(9, 2, true)},
			want:   ActionRebalanceCards,
			exists: true,
		},
		{
			name:   "repeated ties",
			in:     Input{Event: capture(2, 2, false), Memory: tieMemory},
			want:   ActionAdjustTieThreshold,
			exists: true,
		},
		{
			name: "few ties",
			in:   Input{Event: capture(2, 2, false), Memory: memory.New()},
		},
		{
			name: "tiny card",
			in: Input{Scene: scene.Snapshot{Nodes: []scene.Node{
				{ID: "c1", Name: "Card_01", Scale: scene.Vec3{X: 1, Y: 0.05, Z: 1}},
			}}},
			want:   ActionFixCardScale,
			node:   "c1",
			exists: true,
		},
		{
			name: "floating object",
			in: Input{Scene: scene.Snapshot{Nodes: []scene.Node{
				{ID: "rock", Name: "Rock", Position: scene.Vec3{Y: 150}, Scale: scene.One},
			}}},
			want:   ActionFixFloatingObject,
			node:   "rock",
			exists: true,
		},
		{
			name: "ui below screen",
			in: Input{Scene: scene.Snapshot{Nodes: []scene.Node{
				{ID: "hud", Name: "HUD", Position: scene.Vec3{Y: -3}, Scale: scene.One},
			}}},
			want:   ActionFixUIPosition,
			node:   "hud",
			exists: true,
		},
		{
			name:   "negative threshold",
			in:     Input{Document: gamecfg.Default().WithCaptureThreshold(-1)},
			want:   ActionFixThreshold,
			exists: true,
		},
		{
			name:   "balance factor out of range",
			in:     Input{Document: gamecfg.Default().WithBalanceFactor(7)},
			want:   ActionFixBalanceFactor,
			exists: true,
		},
		{
			name:   "critical error rate",
			in:     Input{Memory: criticalMemory},
			want:   ActionStabilizeRuntime,
			exists: true,
		},
		{
			name:   "capture check wins over stability",
			in:     Input{Event: capture(10, 1, false), Memory: criticalMemory},
			want:   ActionRebalanceCards,
			exists: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := Analyze(tt.in)
			require.Equal(t, tt.exists, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.want, p.Action)
			assert.Equal(t, tt.node, p.NodeID)
			assert.Greater(t, p.Confidence, 0.7)
			assert.NotEmpty(t, p.Reason)
		})
	}
}

func TestAnalyze_Deterministic(t *testing.T) {
	in := Input{Event: capture(9, 2, true), Document: gamecfg.Default()}
	first, ok := Analyze(in)
	require.True(t, ok)
	for i := 0; i < 10; i++ {
		again, _ := Analyze(in)
		assert.Equal(t, first, again)
	}
}
