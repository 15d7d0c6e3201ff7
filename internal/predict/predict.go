// Package predict looks for problems before the application reports them.
//
// Analyze walks a fixed, ordered table of checks over the latest event,
// the scene, the configuration document and memory, and returns the first
// prediction that matches.
package predict

import (
	"fmt"

	"github.com/fyrsmithlabs/autofixd/internal/event"
	"github.com/fyrsmithlabs/autofixd/internal/gamecfg"
	"github.com/fyrsmithlabs/autofixd/internal/memory"
	"github.com/fyrsmithlabs/autofixd/internal/scene"
)

// Action names a predicted remedy.
type Action string

const (
	ActionRebalanceCards     Action = "rebalance_cards"
	ActionAdjustTieThreshold Action = "adjust_tie_threshold"
	ActionFixCardScale       Action = "fix_card_scale"
	ActionFixFloatingObject  Action = "fix_floating_object"
	ActionFixUIPosition      Action = "fix_ui_position"
	ActionFixThreshold       Action = "fix_threshold"
	ActionFixBalanceFactor   Action = "fix_balance_factor"
	ActionStabilizeRuntime   Action = "stabilize_runtime"
)

// AllActions lists every Action Analyze can return.
var AllActions = []Action{
	ActionRebalanceCards,
	ActionAdjustTieThreshold,
	ActionFixCardScale,
	ActionFixFloatingObject,
	ActionFixUIPosition,
	ActionFixThreshold,
	ActionFixBalanceFactor,
	ActionStabilizeRuntime,
}

// Memory keys read by Analyze.
const (
	PatternTieCount  = "tieCount"
	MetricErrorRate  = "errorRate"
	MaxBalanceFactor = 5.0
	ValueGap         = 5.0
	TieCountLimit    = 3
)

// Prediction is a suspected problem and the action that would fix it.
type Prediction struct {
	Action     Action  `json:"action"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
	// NodeID is set for predictions about a single scene node.
	NodeID string `json:"nodeId,omitempty"`
}

// Input is everything Analyze looks at. Event is nil when no event has
// arrived yet; Document nil means the built-in default.
type Input struct {
	Event    *event.Event
	Scene    scene.Snapshot
	Document gamecfg.Document
	Memory   *memory.Store
}

// Analyze returns the first matching prediction.
func Analyze(in Input) (Prediction, bool) {
	if p, ok := analyzeCapture(in); ok {
		return p, true
	}
	if p, ok := analyzeScene(in.Scene); ok {
		return p, true
	}
	if p, ok := analyzeDocument(in.Document); ok {
		return p, true
	}
	if in.Memory != nil {
		if m, ok := in.Memory.StabilityMetric(MetricErrorRate); ok && m.Status == memory.StatusCritical {
			return Prediction{
				Action:     ActionStabilizeRuntime,
				Confidence: 0.9,
				Reason:     fmt.Sprintf("high error rate %.2f", m.Value),
			}, true
		}
	}
	return Prediction{}, false
}

func analyzeCapture(in Input) (Prediction, bool) {
	if in.Event == nil || in.Event.Type != event.TypeCapture {
		return Prediction{}, false
	}
	p, ok := in.Event.Payload.(event.CapturePayload)
	if !ok {
		return Prediction{}, false
	}

	if p.AttackerValue != 0 && p.DefenderValue != 0 && p.AttackerValue-p.DefenderValue > ValueGap {
		return Prediction{
			Action:     ActionRebalanceCards,
			Confidence: 0.8,
			Reason:     fmt.Sprintf("large value gap (%g vs %g)", p.AttackerValue, p.DefenderValue),
		}, true
	}

	if p.Failed() && in.Memory != nil {
		if tc, ok := in.Memory.Pattern(PatternTieCount); ok && tc.Value > TieCountLimit {
			return Prediction{
				Action:     ActionAdjustTieThreshold,
				Confidence: 0.75,
				Reason:     fmt.Sprintf("%d ties, threshold may be too strict", int(tc.Value)),
			}, true
		}
	}
	return Prediction{}, false
}

func analyzeScene(s scene.Snapshot) (Prediction, bool) {
	for _, n := range s.Nodes {
		if n.IsCard() && (n.Scale.X < scene.MinCardScale || n.Scale.Y < scene.MinCardScale || n.Scale.Z < scene.MinCardScale) {
			return Prediction{
				Action:     ActionFixCardScale,
				Confidence: 0.9,
				Reason:     fmt.Sprintf("card %s has invalid scale (%g, %g, %g)", n.Name, n.Scale.X, n.Scale.Y, n.Scale.Z),
				NodeID:     n.ID,
			}, true
		}
		if n.Position.Y > scene.FloatLimit {
			return Prediction{
				Action:     ActionFixFloatingObject,
				Confidence: 0.85,
				Reason:     fmt.Sprintf("%s is floating (y=%g)", n.Name, n.Position.Y),
				NodeID:     n.ID,
			}, true
		}
		if n.IsUI() && n.Position.Y < 0 {
			return Prediction{
				Action:     ActionFixUIPosition,
				Confidence: 0.8,
				Reason:     fmt.Sprintf("UI element %s is below the screen (y=%g)", n.Name, n.Position.Y),
				NodeID:     n.ID,
			}, true
		}
	}
	return Prediction{}, false
}

func analyzeDocument(doc gamecfg.Document) (Prediction, bool) {
	if doc == nil {
		return Prediction{}, false
	}
	if t := doc.CaptureThreshold(); t < 0 {
		return Prediction{
			Action:     ActionFixThreshold,
			Confidence: 0.95,
			Reason:     fmt.Sprintf("capture threshold is negative (%g)", t),
		}, true
	}
	if f := doc.BalanceFactor(); f < 0 || f > MaxBalanceFactor {
		return Prediction{
			Action:     ActionFixBalanceFactor,
			Confidence: 0.9,
			Reason:     fmt.Sprintf("balance factor %g outside [0, %g]", f, MaxBalanceFactor),
		}, true
	}
	return Prediction{}, false
}
