// Package planner is the proactive half of the control loop.
//
// Each tick consults, in order, predictive analysis, memory patterns and
// the scene envelope, stability metrics and balance metrics, and acts on
// the first that fires. Ticks are rate limited to one per interval and
// never overlap.
package planner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/autofixd/internal/event"
	"github.com/fyrsmithlabs/autofixd/internal/feed"
	"github.com/fyrsmithlabs/autofixd/internal/gamecfg"
	"github.com/fyrsmithlabs/autofixd/internal/logging"
	"github.com/fyrsmithlabs/autofixd/internal/macro"
	"github.com/fyrsmithlabs/autofixd/internal/memory"
	"github.com/fyrsmithlabs/autofixd/internal/patch"
	"github.com/fyrsmithlabs/autofixd/internal/scene"
)

const instrumentationName = "github.com/fyrsmithlabs/autofixd/internal/planner"

// DefaultInterval is the minimum time between ticks.
const DefaultInterval = 2 * time.Second

// PredictionThreshold is the confidence a prediction needs to be acted on.
const PredictionThreshold = 0.7

// BalanceDeviationLimit triggers a rebalance when exceeded.
const BalanceDeviationLimit = 0.2

// Status explains the outcome of a tick.
type Status string

const (
	StatusDecided      Status = "decided"
	StatusIdle         Status = "idle"
	StatusDisabled     Status = "disabled"
	StatusCooldown     Status = "cooldown"
	StatusBusy         Status = "busy"
	StatusDisconnected Status = "disconnected"
)

// Decision records what a tick did.
type Decision struct {
	TickID     string         `json:"tickId"`
	Action     string         `json:"action"`
	Confidence float64        `json:"confidence"`
	Reason     string         `json:"reason"`
	Macro      macro.Name     `json:"macro,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
	Success    bool           `json:"success"`
	Errors     []string       `json:"errors,omitempty"`
}

// MacroRunner runs named macros.
type MacroRunner interface {
	Run(ctx context.Context, name macro.Name) (macro.Result, error)
}

// Config wires a Planner.
type Config struct {
	Memory      *memory.Store
	Feed        feed.Feed
	Scene       scene.Source
	Docs        patch.DocumentLoader
	Applier     patch.Applier
	Transformer scene.Transformer
	Macros      MacroRunner
	// Target is the configuration document path.
	Target   string
	Interval time.Duration
	Enabled  bool
	// Now replaces the wall clock in tests.
	Now    func() time.Time
	Logger *zap.Logger
}

// Planner decides on proactive remediations.
type Planner struct {
	cfg     Config
	log     *logging.Logger
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	enabled atomic.Bool

	mu            sync.Mutex
	lastEventSeen string // event ID whose predictions were already acted on
	last          *Decision

	tracer          trace.Tracer
	decisionCounter metric.Int64Counter
	skipCounter     metric.Int64Counter
}

// New creates a Planner.
func New(cfg Config) (*Planner, error) {
	if cfg.Memory == nil {
		return nil, errors.New("memory is required")
	}
	if cfg.Scene == nil || cfg.Transformer == nil {
		return nil, errors.New("scene source and transformer are required")
	}
	if cfg.Docs == nil || cfg.Applier == nil {
		return nil, errors.New("document loader and applier are required")
	}
	if cfg.Macros == nil {
		return nil, errors.New("macro runner is required")
	}
	if cfg.Target == "" {
		cfg.Target = gamecfg.DefaultPath
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	p := &Planner{
		cfg:     cfg,
		log:     logging.Wrap(cfg.Logger),
		limiter: rate.NewLimiter(rate.Every(cfg.Interval), 1),
		sem:     semaphore.NewWeighted(1),
		tracer:  otel.Tracer(instrumentationName),
	}
	p.enabled.Store(cfg.Enabled)
	p.initMetrics()
	return p, nil
}

func (p *Planner) initMetrics() {
	meter := otel.Meter(instrumentationName)
	ctx := context.Background()
	var err error

	p.decisionCounter, err = meter.Int64Counter(
		"autofixd.planner.decisions_total",
		metric.WithDescription("Total number of planner decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		p.log.Warn(ctx, "failed to create decision counter", zap.Error(err))
	}

	p.skipCounter, err = meter.Int64Counter(
		"autofixd.planner.ticks_skipped_total",
		metric.WithDescription("Total number of planner ticks skipped"),
		metric.WithUnit("{tick}"),
	)
	if err != nil {
		p.log.Warn(ctx, "failed to create skipped tick counter", zap.Error(err))
	}
}

// Interval returns the tick interval.
func (p *Planner) Interval() time.Duration { return p.cfg.Interval }

// SetEnabled turns the planner on or off. Memory is untouched.
func (p *Planner) SetEnabled(enabled bool) {
	if p.enabled.Swap(enabled) != enabled {
		p.log.Info(context.Background(), "planner toggled", zap.Bool("enabled", enabled))
	}
}

// Enabled reports whether ticks run.
func (p *Planner) Enabled() bool { return p.enabled.Load() }

// LastDecision returns the most recent decision, if any.
func (p *Planner) LastDecision() (Decision, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return Decision{}, false
	}
	return *p.last, true
}

// Tick runs one planning pass unless the planner is disabled, a tick is
// already running, the previous tick was less than an interval ago, or the
// feed is disconnected.
//
// Only ticks that pass the first two checks take the interval's slot: a
// disabled or busy tick does not, so the first tick after SetEnabled(true)
// runs immediately. A disconnected tick does take it.
func (p *Planner) Tick(ctx context.Context) (Decision, Status) {
	if !p.Enabled() {
		return Decision{}, StatusDisabled
	}
	if !p.sem.TryAcquire(1) {
		p.skipped(ctx, StatusBusy)
		return Decision{}, StatusBusy
	}
	defer p.sem.Release(1)

	if !p.limiter.AllowN(p.cfg.Now(), 1) {
		p.skipped(ctx, StatusCooldown)
		return Decision{}, StatusCooldown
	}
	if p.cfg.Feed != nil && !p.cfg.Feed.IsConnected() {
		p.skipped(ctx, StatusDisconnected)
		return Decision{}, StatusDisconnected
	}

	tickID := uuid.NewString()
	ctx = logging.WithTickID(ctx, tickID)
	ctx, span := p.tracer.Start(ctx, "planner.tick")
	defer span.End()
	span.SetAttributes(attribute.String("tick.id", tickID))

	d, ok := p.decideSafely(ctx)
	if !ok {
		return Decision{}, StatusIdle
	}
	d.TickID = tickID
	span.SetAttributes(attribute.String("decision.action", d.Action))

	p.mu.Lock()
	p.last = &d
	p.mu.Unlock()

	p.cfg.Memory.Push(memory.Entry{
		Type:    memory.EntryDecision,
		Action:  d.Action,
		Success: d.Success,
		Detail:  d.Reason,
		Labels:  map[string]string{"tick_id": tickID, "macro": string(d.Macro)},
	})
	if p.decisionCounter != nil {
		p.decisionCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action", d.Action),
			attribute.Bool("success", d.Success),
		))
	}
	p.log.Info(ctx, "planner decision",
		zap.String("action", d.Action),
		zap.String("macro", string(d.Macro)),
		zap.Float64("confidence", d.Confidence),
		zap.String("reason", d.Reason),
		zap.Bool("success", d.Success),
		zap.Strings("errors", d.Errors))
	return d, StatusDecided
}

func (p *Planner) skipped(ctx context.Context, s Status) {
	if p.skipCounter != nil {
		p.skipCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(s))))
	}
}

func (p *Planner) decideSafely(ctx context.Context) (d Decision, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error(ctx, "planner tick panicked", zap.Any("panic", r))
			d, ok = Decision{}, false
		}
	}()
	return p.decide(ctx)
}

func (p *Planner) decide(ctx context.Context) (Decision, bool) {
	doc, err := p.cfg.Docs.LoadDocument(ctx, p.cfg.Target)
	if err != nil {
		p.log.Warn(ctx, "using default configuration document", zap.Error(err))
	}
	snap := p.cfg.Scene.Scene()

	if d, ok := p.checkPrediction(ctx, doc, snap); ok {
		return d, true
	}
	if d, ok := p.checkPatterns(ctx, snap); ok {
		return d, true
	}
	if d, ok := p.checkStability(ctx); ok {
		return d, true
	}
	if d, ok := p.checkBalance(ctx); ok {
		return d, true
	}
	return Decision{}, false
}

// latestUnseen returns the latest event unless its predictions were
// already acted on.
func (p *Planner) latestUnseen() *event.Event {
	if p.cfg.Feed == nil {
		return nil
	}
	ev, ok := p.cfg.Feed.Latest()
	if !ok {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev.ID == p.lastEventSeen {
		return nil
	}
	return &ev
}

func (p *Planner) markEventSeen(id string) {
	p.mu.Lock()
	p.lastEventSeen = id
	p.mu.Unlock()
}

// runMacro runs name and folds its result into d.
func (p *Planner) runMacro(ctx context.Context, d Decision, name macro.Name) Decision {
	d.Macro = name
	res, err := p.cfg.Macros.Run(ctx, name)
	if err != nil {
		d.Errors = append(d.Errors, err.Error())
		return d
	}
	d.Success = res.Success
	d.Errors = append(d.Errors, res.Errors...)
	return d
}

// finish marks d successful when err is nil.
func finish(d Decision, err error) Decision {
	if err != nil {
		d.Errors = append(d.Errors, err.Error())
		return d
	}
	d.Success = true
	return d
}
