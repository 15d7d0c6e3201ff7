package planner

import (
	"context"
	"fmt"
	"math"

	"github.com/fyrsmithlabs/autofixd/internal/evolution"
	"github.com/fyrsmithlabs/autofixd/internal/gamecfg"
	"github.com/fyrsmithlabs/autofixd/internal/macro"
	"github.com/fyrsmithlabs/autofixd/internal/predict"
	"github.com/fyrsmithlabs/autofixd/internal/scene"
)

// Decision actions for the non-predictive checks.
const (
	ActionRebalanceThreshold  = "rebalance_threshold"
	ActionRebalanceFactor     = "rebalance_factor"
	ActionFixSceneLayout      = "fix_scene_layout"
	ActionStabilizeRuntime    = string(predict.ActionStabilizeRuntime)
	ActionRebalanceDifficulty = "rebalance_difficulty"
)

type predictionHandler func(p *Planner, ctx context.Context, d Decision, pr predict.Prediction, doc gamecfg.Document, snap scene.Snapshot) Decision

// predictionHandlers covers every predict.Action.
var predictionHandlers = map[predict.Action]predictionHandler{
	predict.ActionRebalanceCards:     flagAndRebalance(evolution.PatternCardOverpower),
	predict.ActionAdjustTieThreshold: flagAndRebalance(evolution.PatternTooManyTies),
	predict.ActionFixCardScale:       (*Planner).fixCardScale,
	predict.ActionFixFloatingObject:  (*Planner).fixFloatingObject,
	predict.ActionFixUIPosition:      macroHandler(macro.AutofixUI),
	predict.ActionFixThreshold:       (*Planner).fixThreshold,
	predict.ActionFixBalanceFactor:   (*Planner).fixBalanceFactor,
	predict.ActionStabilizeRuntime:   macroHandler(macro.FullAutoRepair),
}

// eventPredictions are derived from the latest event and are acted on once
// per event.
var eventPredictions = map[predict.Action]bool{
	predict.ActionRebalanceCards:     true,
	predict.ActionAdjustTieThreshold: true,
}

func (p *Planner) checkPrediction(ctx context.Context, doc gamecfg.Document, snap scene.Snapshot) (Decision, bool) {
	ev := p.latestUnseen()
	pr, ok := predict.Analyze(predict.Input{Event: ev, Scene: snap, Document: doc, Memory: p.cfg.Memory})
	if !ok || pr.Confidence <= PredictionThreshold {
		return Decision{}, false
	}
	handle, ok := predictionHandlers[pr.Action]
	if !ok {
		return Decision{}, false
	}
	if eventPredictions[pr.Action] && ev != nil {
		p.markEventSeen(ev.ID)
	}

	d := Decision{Action: string(pr.Action), Confidence: pr.Confidence, Reason: pr.Reason}
	if pr.NodeID != "" {
		d.Params = map[string]any{"nodeId": pr.NodeID}
	}
	return handle(p, ctx, d, pr, doc, snap), true
}

func macroHandler(name macro.Name) predictionHandler {
	return func(p *Planner, ctx context.Context, d Decision, _ predict.Prediction, _ gamecfg.Document, _ scene.Snapshot) Decision {
		return p.runMacro(ctx, d, name)
	}
}

// flagAndRebalance raises the evolution pattern behind the prediction and
// lets rule evolution consume it.
func flagAndRebalance(pattern string) predictionHandler {
	return func(p *Planner, ctx context.Context, d Decision, pr predict.Prediction, _ gamecfg.Document, _ scene.Snapshot) Decision {
		p.cfg.Memory.SetFlag(pattern, true, pr.Confidence)
		return p.runMacro(ctx, d, macro.RebalanceRules)
	}
}

func (p *Planner) fixCardScale(ctx context.Context, d Decision, pr predict.Prediction, _ gamecfg.Document, _ scene.Snapshot) Decision {
	return finish(d, p.cfg.Transformer.SetTransform(ctx, pr.NodeID, scene.PropScale, scene.One))
}

func (p *Planner) fixFloatingObject(ctx context.Context, d Decision, pr predict.Prediction, _ gamecfg.Document, snap scene.Snapshot) Decision {
	n, ok := snap.Node(pr.NodeID)
	if !ok {
		return finish(d, fmt.Errorf("node %s not in scene", pr.NodeID))
	}
	grounded := scene.Vec3{X: n.Position.X, Y: 0, Z: n.Position.Z}
	return finish(d, p.cfg.Transformer.SetTransform(ctx, n.ID, scene.PropPosition, grounded))
}

func (p *Planner) fixThreshold(ctx context.Context, d Decision, _ predict.Prediction, doc gamecfg.Document, _ scene.Snapshot) Decision {
	if doc == nil {
		doc = gamecfg.Default()
	}
	d.Params = map[string]any{"from": doc.CaptureThreshold(), "to": 0.0}
	return finish(d, p.cfg.Applier.ApplyDocumentPatch(ctx, p.cfg.Target, gamecfg.Document{}.WithCaptureThreshold(0)))
}

func (p *Planner) fixBalanceFactor(ctx context.Context, d Decision, _ predict.Prediction, doc gamecfg.Document, _ scene.Snapshot) Decision {
	if doc == nil {
		doc = gamecfg.Default()
	}
	from := doc.BalanceFactor()
	to := math.Max(0.1, math.Min(predict.MaxBalanceFactor, from))
	d.Params = map[string]any{"from": from, "to": to}
	return finish(d, p.cfg.Applier.ApplyDocumentPatch(ctx, p.cfg.Target, gamecfg.Document{}.WithBalanceFactor(to)))
}

func (p *Planner) checkPatterns(ctx context.Context, snap scene.Snapshot) (Decision, bool) {
	if pat, ok := p.cfg.Memory.Pattern(evolution.PatternTooManyTies); ok && pat.True() {
		d := Decision{Action: ActionRebalanceThreshold, Confidence: pat.Confidence, Reason: "too many ties"}
		return p.runMacro(ctx, d, macro.RebalanceRules), true
	}
	if pat, ok := p.cfg.Memory.Pattern(evolution.PatternCardOverpower); ok && pat.True() {
		d := Decision{Action: ActionRebalanceFactor, Confidence: pat.Confidence, Reason: "cards overpowered"}
		return p.runMacro(ctx, d, macro.RebalanceRules), true
	}

	floating := 0
	for _, n := range snap.Nodes {
		if scene.OutOfBounds(n) {
			floating++
		}
	}
	if floating > 0 {
		d := Decision{
			Action:     ActionFixSceneLayout,
			Confidence: 0.8,
			Reason:     fmt.Sprintf("%d objects outside the scene envelope", floating),
		}
		return p.runMacro(ctx, d, macro.FixScene), true
	}
	return Decision{}, false
}

func (p *Planner) checkStability(ctx context.Context) (Decision, bool) {
	critical := p.cfg.Memory.CriticalStability()
	if len(critical) == 0 {
		return Decision{}, false
	}
	m := critical[0]
	d := Decision{
		Action:     ActionStabilizeRuntime,
		Confidence: 0.9,
		Reason:     fmt.Sprintf("critical %s: %.2f", m.Key, m.Value),
	}
	return p.runMacro(ctx, d, macro.FullAutoRepair), true
}

func (p *Planner) checkBalance(ctx context.Context) (Decision, bool) {
	b, ok := p.cfg.Memory.BalanceMetric(evolution.BalanceWinRate)
	if !ok || b.Deviation <= BalanceDeviationLimit {
		return Decision{}, false
	}
	d := Decision{
		Action:     ActionRebalanceDifficulty,
		Confidence: 0.75,
		Reason:     fmt.Sprintf("win rate deviation %.1f%%", b.Deviation*100),
	}
	return p.runMacro(ctx, d, macro.RebalanceRules), true
}
