// Package dispatcher is the reactive half of the control loop.
//
// While active, each feed notification wakes the owner's loop, which calls
// ProcessLatest. The latest event is deduplicated by ID, observed, filtered,
// classified, turned into a fix and passed through the confidence gate.
// Applied fixes and their outcomes are recorded in memory.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autofixd/internal/analyzer"
	"github.com/fyrsmithlabs/autofixd/internal/event"
	"github.com/fyrsmithlabs/autofixd/internal/evolution"
	"github.com/fyrsmithlabs/autofixd/internal/feed"
	"github.com/fyrsmithlabs/autofixd/internal/fix"
	"github.com/fyrsmithlabs/autofixd/internal/gamecfg"
	"github.com/fyrsmithlabs/autofixd/internal/heuristics"
	"github.com/fyrsmithlabs/autofixd/internal/intent"
	"github.com/fyrsmithlabs/autofixd/internal/logging"
	"github.com/fyrsmithlabs/autofixd/internal/memory"
	"github.com/fyrsmithlabs/autofixd/internal/patch"
)

const instrumentationName = "github.com/fyrsmithlabs/autofixd/internal/dispatcher"

// State is the dispatcher lifecycle state.
type State string

const (
	StateIdle   State = "idle"
	StateActive State = "active"
)

// Outcome says how far an event got through the pipeline.
type Outcome string

const (
	OutcomeInactive       Outcome = "inactive"
	OutcomeDisconnected   Outcome = "disconnected"
	OutcomeNoEvent        Outcome = "no_event"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeFiltered       Outcome = "filtered"
	OutcomeNoIntent       Outcome = "no_intent"
	OutcomeNoFix          Outcome = "no_fix"
	OutcomeDropped        Outcome = "dropped"
	OutcomeSuggested      Outcome = "suggested"
	OutcomeApplied        Outcome = "applied"
	OutcomeFailed         Outcome = "failed"
	OutcomeRebuildPending Outcome = "rebuild_pending"
)

// Result describes the processing of one notification.
type Result struct {
	EventID    string
	Outcome    Outcome
	Intent     *intent.Intent
	Fix        fix.Fix
	Confidence float64
	Err        error
}

// Stats are running totals since the dispatcher was created.
type Stats struct {
	Processed int64 `json:"processed"`
	Applied   int64 `json:"applied"`
	Suggested int64 `json:"suggested"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

// allowedTypes are evaluated regardless of severity.
var allowedTypes = map[event.Type]bool{
	event.TypeCapture:   true,
	event.TypeScore:     true,
	event.TypeMatch:     true,
	event.TypeAssetDiff: true,
}

// Relevant reports whether ev should reach the classifier.
func Relevant(ev event.Event) bool {
	return ev.IsProblem() || allowedTypes[ev.Type]
}

// Config wires a Dispatcher.
type Config struct {
	Feed    feed.Feed
	Memory  *memory.Store
	Docs    patch.DocumentLoader
	Applier patch.Applier
	// Observer, when set, sees every deduplicated event.
	Observer *evolution.Observer
	// Target is the configuration document rule fixes are written to.
	Target string

	AutoApplyThreshold float64
	SuggestThreshold   float64

	Logger *zap.Logger
}

// Dispatcher routes events to fixes.
type Dispatcher struct {
	cfg  Config
	log  *logging.Logger
	wake chan struct{}

	mu          sync.Mutex
	state       State
	generation  uint64
	lastID      string
	unsubscribe func()

	inflight sync.WaitGroup

	processed, applied, suggested, failed, dropped atomic.Int64

	tracer            trace.Tracer
	eventCounter      metric.Int64Counter
	fixCounter        metric.Int64Counter
	suggestionCounter metric.Int64Counter
}

// New creates an idle Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Feed == nil {
		return nil, errors.New("feed is required")
	}
	if cfg.Memory == nil {
		return nil, errors.New("memory is required")
	}
	if cfg.Docs == nil || cfg.Applier == nil {
		return nil, errors.New("document loader and applier are required")
	}
	if cfg.Target == "" {
		cfg.Target = gamecfg.DefaultPath
	}
	if cfg.AutoApplyThreshold <= 0 {
		cfg.AutoApplyThreshold = DefaultAutoApplyThreshold
	}
	if cfg.SuggestThreshold <= 0 {
		cfg.SuggestThreshold = DefaultSuggestThreshold
	}
	d := &Dispatcher{
		cfg:    cfg,
		log:    logging.Wrap(cfg.Logger),
		wake:   make(chan struct{}, 1),
		state:  StateIdle,
		tracer: otel.Tracer(instrumentationName),
	}
	d.initMetrics()
	return d, nil
}

func (d *Dispatcher) initMetrics() {
	meter := otel.Meter(instrumentationName)
	ctx := context.Background()
	var err error

	d.eventCounter, err = meter.Int64Counter(
		"autofixd.dispatcher.events_total",
		metric.WithDescription("Total number of feed notifications processed"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		d.log.Warn(ctx, "failed to create event counter", zap.Error(err))
	}

	d.fixCounter, err = meter.Int64Counter(
		"autofixd.dispatcher.fixes_applied_total",
		metric.WithDescription("Total number of fixes applied"),
		metric.WithUnit("{fix}"),
	)
	if err != nil {
		d.log.Warn(ctx, "failed to create fix counter", zap.Error(err))
	}

	d.suggestionCounter, err = meter.Int64Counter(
		"autofixd.dispatcher.suggestions_total",
		metric.WithDescription("Total number of fixes suggested but not applied"),
		metric.WithUnit("{fix}"),
	)
	if err != nil {
		d.log.Warn(ctx, "failed to create suggestion counter", zap.Error(err))
	}
}

// Start subscribes to the feed. It reports false if already active. The
// event that was latest before Start is not processed.
func (d *Dispatcher) Start() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateActive {
		return false
	}
	if ev, ok := d.cfg.Feed.Latest(); ok {
		d.lastID = ev.ID
	}
	d.state = StateActive
	d.generation++
	d.unsubscribe = d.cfg.Feed.Subscribe(d.notify)
	d.log.Info(context.Background(), "dispatcher started")
	return true
}

// Stop unsubscribes from the feed. It reports false if already idle. After
// Stop returns the dispatcher makes no further memory writes; outcomes of
// rebuilds still in flight are dropped.
func (d *Dispatcher) Stop() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateIdle {
		return false
	}
	d.state = StateIdle
	if d.unsubscribe != nil {
		d.unsubscribe()
		d.unsubscribe = nil
	}
	d.log.Info(context.Background(), "dispatcher stopped")
	return true
}

// State returns the current state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Wake is signalled after feed notifications. Bursts coalesce into one
// pending signal.
func (d *Dispatcher) Wake() <-chan struct{} { return d.wake }

func (d *Dispatcher) notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Wait blocks until in-flight rebuilds finish.
func (d *Dispatcher) Wait() { d.inflight.Wait() }

// Stats returns running totals.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Processed: d.processed.Load(),
		Applied:   d.applied.Load(),
		Suggested: d.suggested.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
	}
}

// ProcessLatest handles the feed's latest event. It never returns an
// error; problems are logged and reported in the Result.
func (d *Dispatcher) ProcessLatest(ctx context.Context) (res Result) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateActive {
		return Result{Outcome: OutcomeInactive}
	}
	if !d.cfg.Feed.IsConnected() {
		return Result{Outcome: OutcomeDisconnected}
	}
	ev, ok := d.cfg.Feed.Latest()
	if !ok {
		return Result{Outcome: OutcomeNoEvent}
	}
	if ev.ID == d.lastID {
		return Result{EventID: ev.ID, Outcome: OutcomeDuplicate}
	}
	d.lastID = ev.ID

	if logging.ValidID(ev.ID) {
		ctx = logging.WithEventID(ctx, ev.ID)
	}
	ctx, span := d.tracer.Start(ctx, "dispatcher.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", ev.ID),
		attribute.String("event.type", string(ev.Type)),
	)
	log := d.log.With(zap.String("event.type", string(ev.Type)))

	defer func() {
		if p := recover(); p != nil {
			res = Result{EventID: ev.ID, Outcome: OutcomeFailed, Err: fmt.Errorf("panic: %v", p)}
			log.Error(ctx, "event processing panicked", zap.Any("panic", p))
		}
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
		}
		span.SetAttributes(attribute.String("outcome", string(res.Outcome)))
		if d.eventCounter != nil {
			d.eventCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(res.Outcome))))
		}
	}()

	d.processed.Add(1)
	return d.process(ctx, ev, log)
}

func (d *Dispatcher) process(ctx context.Context, ev event.Event, log *logging.Logger) Result {
	res := Result{EventID: ev.ID}

	if d.cfg.Observer != nil {
		d.cfg.Observer.Observe(ev)
	}
	if !Relevant(ev) {
		res.Outcome = OutcomeFiltered
		return res
	}

	in, ok := analyzer.Analyze(ev, d.cfg.Memory)
	if !ok {
		res.Outcome = OutcomeNoIntent
		return res
	}
	res.Intent = &in

	doc, err := d.cfg.Docs.LoadDocument(ctx, d.cfg.Target)
	if err != nil {
		log.Warn(ctx, "using default configuration document", zap.Error(err))
	}

	f, ok := heuristics.SuggestFix(in, doc)
	if !ok {
		log.Debug(ctx, "no fix for intent", zap.String("action", string(in.Action)))
		res.Outcome = OutcomeNoFix
		return res
	}
	if rf, isRule := f.(fix.RuleFix); isRule {
		rf.TargetFile = d.cfg.Target
		f = rf
	}
	res.Fix = f
	res.Confidence = heuristics.Confidence(in, f, d.cfg.Memory)

	fields := []zap.Field{
		zap.String("action", string(in.Action)),
		zap.String("priority", string(in.Priority)),
		zap.String("fix_kind", string(f.Kind())),
		zap.Float64("confidence", res.Confidence),
		zap.String("reason", in.Reason),
	}

	switch Gate(res.Confidence, in.Priority, d.cfg.AutoApplyThreshold, d.cfg.SuggestThreshold) {
	case VerdictApply:
		return d.apply(ctx, in, f, res, log.With(fields...))
	case VerdictSuggest:
		d.suggested.Add(1)
		d.cfg.Memory.Push(memory.Entry{
			Type:   memory.EntryFixSuggested,
			Action: string(in.Action),
			Detail: in.Reason,
			Labels: d.labels(in, f, res.Confidence),
		})
		if d.suggestionCounter != nil {
			d.suggestionCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("fix_kind", string(f.Kind()))))
		}
		log.Info(ctx, "fix suggested", fields...)
		res.Outcome = OutcomeSuggested
	default:
		d.dropped.Add(1)
		log.Debug(ctx, "fix dropped", fields...)
		res.Outcome = OutcomeDropped
	}
	return res
}

func (d *Dispatcher) labels(in intent.Intent, f fix.Fix, confidence float64) map[string]string {
	return map[string]string{
		"event_id":    in.Source.ID,
		"outcome_key": in.OutcomeKey(),
		"fix_kind":    string(f.Kind()),
		"confidence":  strconv.FormatFloat(confidence, 'f', 2, 64),
	}
}

func (d *Dispatcher) apply(ctx context.Context, in intent.Intent, f fix.Fix, res Result, log *logging.Logger) Result {
	if af, ok := f.(fix.AssetFix); ok && af.IsFullRebuild() {
		d.startRebuild(ctx, in, f, res.Confidence, log)
		res.Outcome = OutcomeRebuildPending
		return res
	}

	if err := patch.Apply(ctx, d.cfg.Applier, f); err != nil {
		log.Warn(ctx, "fix application failed", zap.Error(err))
		d.recordLocked(ctx, in, f, res.Confidence, false, err.Error())
		res.Outcome = OutcomeFailed
		res.Err = err
		return res
	}
	log.Info(ctx, "fix applied")
	d.recordLocked(ctx, in, f, res.Confidence, true, in.Reason)
	res.Outcome = OutcomeApplied
	return res
}

// startRebuild triggers a rebuild without blocking the loop. The outcome is
// recorded only if the dispatcher has not been stopped in the meantime.
func (d *Dispatcher) startRebuild(ctx context.Context, in intent.Intent, f fix.Fix, confidence float64, log *logging.Logger) {
	gen := d.generation
	ctx = context.WithoutCancel(ctx)

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()

		ok, err := d.triggerRebuild(ctx)

		d.mu.Lock()
		defer d.mu.Unlock()
		if d.state != StateActive || d.generation != gen {
			log.Debug(ctx, "dropping rebuild outcome after stop", zap.Bool("success", ok))
			return
		}
		detail := in.Reason
		if err != nil {
			detail = err.Error()
			log.Warn(ctx, "rebuild failed", zap.Error(err))
		} else {
			log.Info(ctx, "rebuild finished", zap.Bool("success", ok))
		}
		d.recordLocked(ctx, in, f, confidence, ok && err == nil, detail)
	}()
}

func (d *Dispatcher) triggerRebuild(ctx context.Context) (ok bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			ok, err = false, fmt.Errorf("rebuild panicked: %v", p)
		}
	}()
	return d.cfg.Applier.TriggerRebuild(ctx)
}

// recordLocked writes an application outcome to memory. d.mu must be held.
func (d *Dispatcher) recordLocked(ctx context.Context, in intent.Intent, f fix.Fix, confidence float64, success bool, detail string) {
	d.cfg.Memory.RecordOutcome(in.OutcomeKey(), string(f.Kind()), success)

	typ := memory.EntryFixApplied
	if success {
		d.applied.Add(1)
	} else {
		typ = memory.EntryFixFailed
		d.failed.Add(1)
	}
	d.cfg.Memory.Push(memory.Entry{
		Type:    typ,
		Action:  string(in.Action),
		Success: success,
		Detail:  detail,
		Labels:  d.labels(in, f, confidence),
	})
	if d.fixCounter != nil {
		d.fixCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("fix_kind", string(f.Kind())),
			attribute.Bool("success", success),
		))
	}
}
