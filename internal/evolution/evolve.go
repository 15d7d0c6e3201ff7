package evolution

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autofixd/internal/fix"
	"github.com/fyrsmithlabs/autofixd/internal/gamecfg"
	"github.com/fyrsmithlabs/autofixd/internal/logging"
	"github.com/fyrsmithlabs/autofixd/internal/memory"
	"github.com/fyrsmithlabs/autofixd/internal/patch"
)

const instrumentationName = "github.com/fyrsmithlabs/autofixd/internal/evolution"

// Kind names an evolution rule.
type Kind string

const (
	KindLowerThreshold   Kind = "adjust_threshold"
	KindRebalanceFactor  Kind = "rebalance_factor"
	KindComboMultiplier  Kind = "adjust_combo_multiplier"
	KindRaiseThreshold   Kind = "increase_threshold"
	KindAdjustDifficulty Kind = "adjust_difficulty"
)

const (
	playerAdvantageLimit  = 0.7
	winRateDeviationLimit = 0.2
	difficultyStep        = 0.05
	minDifficulty         = 0.5
	maxDifficulty         = 2.0
	minBalanceFactor      = 0.1
	minComboMultiplier    = 0.5
	balanceFactorDecay    = 0.9
	comboMultiplierDecay  = 0.95
)

// Action describes one parameter change.
type Action struct {
	Kind       Kind    `json:"kind"`
	Parameter  string  `json:"parameter"`
	From       float64 `json:"from"`
	To         float64 `json:"to"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
	// Consumes lists the patterns cleared once the change is applied.
	Consumes []string `json:"consumes,omitempty"`
}

// Plan computes the parameter changes memory currently calls for and the
// document with all of them applied. Rules see the effects of earlier
// rules, so two threshold rules in one pass compose. Plan does not modify
// memory.
func Plan(doc gamecfg.Document, mem *memory.Store) ([]Action, gamecfg.Document) {
	if doc == nil {
		doc = gamecfg.Default()
	}
	doc = doc.Clone()
	var actions []Action

	if p, ok := mem.Pattern(PatternTooManyTies); ok && p.True() {
		from := doc.CaptureThreshold()
		to := math.Max(0, from-1)
		doc = doc.WithCaptureThreshold(to)
		actions = append(actions, Action{
			Kind:       KindLowerThreshold,
			Parameter:  "captureRules.threshold",
			From:       from,
			To:         to,
			Confidence: p.Confidence,
			Reason:     "too many ties",
			Consumes:   []string{PatternTooManyTies, PatternTieCount},
		})
	}

	if p, ok := mem.Pattern(PatternCardOverpower); ok && p.True() {
		from := doc.BalanceFactor()
		to := math.Max(minBalanceFactor, from*balanceFactorDecay)
		doc = doc.WithBalanceFactor(to)
		actions = append(actions, Action{
			Kind:       KindRebalanceFactor,
			Parameter:  "balance.factor",
			From:       from,
			To:         to,
			Confidence: p.Confidence,
			Reason:     "cards too strong",
			Consumes:   []string{PatternCardOverpower},
		})
	}

	if t, ok := mem.Tendency(TendencyPlayerAdvantage); ok && t.Trend == memory.TrendIncreasing && t.Value > playerAdvantageLimit {
		from := doc.ComboMultiplier()
		to := math.Max(minComboMultiplier, from*comboMultiplierDecay)
		doc = doc.WithComboMultiplier(to)
		actions = append(actions, Action{
			Kind:       KindComboMultiplier,
			Parameter:  "scoreRules.comboMultiplier",
			From:       from,
			To:         to,
			Confidence: 0.8,
			Reason:     fmt.Sprintf("player advantage %.2f and rising", t.Value),
		})
	}

	if p, ok := mem.Pattern(PatternTooManyCaptures); ok && p.True() {
		from := doc.CaptureThreshold()
		to := from + 1
		doc = doc.WithCaptureThreshold(to)
		actions = append(actions, Action{
			Kind:       KindRaiseThreshold,
			Parameter:  "captureRules.threshold",
			From:       from,
			To:         to,
			Confidence: p.Confidence,
			Reason:     "too many captures",
			Consumes:   []string{PatternTooManyCaptures, PatternCaptureCount},
		})
	}

	if b, ok := mem.BalanceMetric(BalanceWinRate); ok && b.Deviation > winRateDeviationLimit {
		step := difficultyStep
		if b.Value > b.Target {
			step = -difficultyStep
		}
		from := doc.Difficulty()
		to := math.Max(minDifficulty, math.Min(maxDifficulty, from+step))
		doc = doc.WithDifficulty(to)
		actions = append(actions, Action{
			Kind:       KindAdjustDifficulty,
			Parameter:  "balance.difficulty",
			From:       from,
			To:         to,
			Confidence: 0.75,
			Reason:     fmt.Sprintf("win rate %.1f%%", b.Value*100),
		})
	}

	return actions, doc
}

// Evolver loads the configuration document, plans changes and applies
// them.
type Evolver struct {
	mem     *memory.Store
	docs    patch.DocumentLoader
	applier patch.Applier
	target  string
	log     *logging.Logger

	tracer        trace.Tracer
	actionCounter metric.Int64Counter
}

// NewEvolver creates an Evolver writing to target. An empty target means
// gamecfg.DefaultPath.
func NewEvolver(mem *memory.Store, docs patch.DocumentLoader, applier patch.Applier, target string, logger *zap.Logger) (*Evolver, error) {
	if mem == nil {
		return nil, errors.New("memory is required")
	}
	if docs == nil || applier == nil {
		return nil, errors.New("document loader and applier are required")
	}
	if target == "" {
		target = gamecfg.DefaultPath
	}
	e := &Evolver{
		mem:     mem,
		docs:    docs,
		applier: applier,
		target:  target,
		log:     logging.Wrap(logger),
		tracer:  otel.Tracer(instrumentationName),
	}
	e.initMetrics()
	return e, nil
}

func (e *Evolver) initMetrics() {
	var err error
	e.actionCounter, err = otel.Meter(instrumentationName).Int64Counter(
		"autofixd.evolution.actions_total",
		metric.WithDescription("Total number of applied rule evolution actions"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		e.log.Warn(context.Background(), "failed to create evolution action counter", zap.Error(err))
	}
}

// Evolve applies every change Plan proposes as a single document patch.
// Consumed patterns are cleared only after the patch succeeds. A malformed
// document is replaced by the built-in default.
func (e *Evolver) Evolve(ctx context.Context) ([]Action, error) {
	ctx, span := e.tracer.Start(ctx, "evolution.evolve")
	defer span.End()

	doc, err := e.docs.LoadDocument(ctx, e.target)
	if err != nil {
		e.log.Warn(ctx, "using default configuration document",
			zap.String("target", e.target),
			zap.Error(err))
	}

	actions, next := Plan(doc, e.mem)
	span.SetAttributes(attribute.Int("action_count", len(actions)))
	if len(actions) == 0 {
		return nil, nil
	}

	err = patch.Apply(ctx, e.applier, fix.RuleFix{TargetFile: e.target, Document: next, FixKind: fix.KindRule})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.mem.Push(memory.Entry{Type: memory.EntryFixFailed, Action: "evolve", Detail: err.Error()})
		return nil, fmt.Errorf("applying evolved rules: %w", err)
	}

	for _, a := range actions {
		for _, key := range a.Consumes {
			if key == PatternTieCount || key == PatternCaptureCount {
				e.mem.UpdatePattern(key, 0, 0.5)
				continue
			}
			e.mem.SetFlag(key, false, a.Confidence)
		}
		e.mem.Push(memory.Entry{
			Type:    memory.EntryEvolution,
			Action:  string(a.Kind),
			Success: true,
			Detail:  fmt.Sprintf("%s %g -> %g (%s)", a.Parameter, a.From, a.To, a.Reason),
		})
		if e.actionCounter != nil {
			e.actionCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(a.Kind))))
		}
		e.log.Info(ctx, "rule evolved",
			zap.String("kind", string(a.Kind)),
			zap.String("parameter", a.Parameter),
			zap.Float64("from", a.From),
			zap.Float64("to", a.To),
			zap.String("reason", a.Reason))
	}
	return actions, nil
}
