// Package engine owns the remediation loop.
//
// An Engine holds the Memory store and every component that reads or
// writes it. All of that work runs on one goroutine: feed notifications
// wake the dispatcher, a ticker drives the planner, and control-surface
// requests are queued onto the same loop. One event or tick always runs to
// completion before the next begins.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autofixd/internal/dispatcher"
	"github.com/fyrsmithlabs/autofixd/internal/evolution"
	"github.com/fyrsmithlabs/autofixd/internal/feed"
	"github.com/fyrsmithlabs/autofixd/internal/gamecfg"
	"github.com/fyrsmithlabs/autofixd/internal/logging"
	"github.com/fyrsmithlabs/autofixd/internal/macro"
	"github.com/fyrsmithlabs/autofixd/internal/memory"
	"github.com/fyrsmithlabs/autofixd/internal/patch"
	"github.com/fyrsmithlabs/autofixd/internal/planner"
	"github.com/fyrsmithlabs/autofixd/internal/scene"
)

var (
	// ErrAlreadyRunning is returned by Start on a running engine.
	ErrAlreadyRunning = errors.New("engine is already running")
	// ErrNotRunning is returned by requests made while the loop is stopped.
	ErrNotRunning = errors.New("engine is not running")
)

// Config wires an Engine.
type Config struct {
	Feed feed.Feed
	// Scene defaults to Feed when it also implements scene.Source.
	Scene       scene.Source
	Transformer scene.Transformer
	Docs        patch.DocumentLoader
	Applier     patch.Applier
	// Target is the configuration document path.
	Target string

	PlannerInterval     time.Duration
	PlannerEnabled      bool
	DispatcherAutostart bool

	AutoApplyThreshold float64
	SuggestThreshold   float64

	HistorySize        int
	HypothesesSize     int
	ErrorRateWindow    int
	ErrorRateThreshold float64

	// Now replaces the wall clock for the planner cooldown.
	Now    func() time.Time
	Logger *zap.Logger
}

// Status summarizes the engine for the control surface.
type Status struct {
	ID                string            `json:"id"`
	Running           bool              `json:"running"`
	Connected         bool              `json:"connected"`
	Dispatcher        dispatcher.State  `json:"dispatcher"`
	DispatcherStats   dispatcher.Stats  `json:"dispatcherStats"`
	PlannerEnabled    bool              `json:"plannerEnabled"`
	PlannerInterval   time.Duration     `json:"plannerInterval"`
	LastDecision      *planner.Decision `json:"lastDecision,omitempty"`
	HistoryLen        int               `json:"historyLen"`
	CriticalStability []string          `json:"criticalStability,omitempty"`
	StartedAt         *time.Time        `json:"startedAt,omitempty"`
}

type request struct {
	ctx  context.Context
	fn   func(context.Context)
	done chan struct{}
}

// Engine runs the dispatcher and planner against one Memory.
type Engine struct {
	id     string
	cfg    Config
	logger *zap.Logger
	log    *logging.Logger
	// ctx carries the engine id and logger; loop work derives from it.
	ctx context.Context

	mem        *memory.Store
	observer   *evolution.Observer
	evolver    *evolution.Evolver
	macros     *macro.Runner
	dispatcher *dispatcher.Dispatcher
	planner    *planner.Planner

	requests chan request

	// mu protects running, startedAt, stopCh and done.
	mu        sync.Mutex
	running   bool
	startedAt time.Time
	stopCh    chan struct{}
	done      chan struct{}
}

// New builds an Engine. It does not start the loop; call Start.
func New(cfg Config) (*Engine, error) {
	if cfg.Feed == nil {
		return nil, errors.New("feed is required")
	}
	if cfg.Scene == nil {
		src, ok := cfg.Feed.(scene.Source)
		if !ok {
			return nil, errors.New("scene source is required")
		}
		cfg.Scene = src
	}
	if cfg.Transformer == nil {
		return nil, errors.New("scene transformer is required")
	}
	if cfg.Docs == nil || cfg.Applier == nil {
		return nil, errors.New("document loader and applier are required")
	}
	if cfg.Target == "" {
		cfg.Target = gamecfg.DefaultPath
	}
	if cfg.PlannerInterval <= 0 {
		cfg.PlannerInterval = planner.DefaultInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		id:       uuid.NewString(),
		cfg:      cfg,
		requests: make(chan request),
	}
	e.logger = logger
	e.log = logging.Wrap(logger)
	e.ctx = logging.WithLogger(logging.WithEngineID(context.Background(), e.id), e.log)

	e.mem = memory.New(
		memory.WithHistorySize(cfg.HistorySize),
		memory.WithHypothesesSize(cfg.HypothesesSize),
	)
	e.observer = evolution.NewObserver(e.mem, cfg.ErrorRateWindow, cfg.ErrorRateThreshold)

	var err error
	e.evolver, err = evolution.NewEvolver(e.mem, cfg.Docs, cfg.Applier, cfg.Target, e.logger.Named("evolution"))
	if err != nil {
		return nil, fmt.Errorf("creating evolver: %w", err)
	}

	e.macros, err = macro.NewRunner(macro.Deps{
		Memory:      e.mem,
		Scene:       cfg.Scene,
		Transformer: cfg.Transformer,
		Docs:        cfg.Docs,
		Applier:     cfg.Applier,
		Evolver:     e.evolver,
		Target:      cfg.Target,
		Logger:      e.logger.Named("macro"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating macro runner: %w", err)
	}

	e.dispatcher, err = dispatcher.New(dispatcher.Config{
		Feed:               cfg.Feed,
		Memory:             e.mem,
		Docs:               cfg.Docs,
		Applier:            cfg.Applier,
		Observer:           e.observer,
		Target:             cfg.Target,
		AutoApplyThreshold: cfg.AutoApplyThreshold,
		SuggestThreshold:   cfg.SuggestThreshold,
		Logger:             e.logger.Named("dispatcher"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}

	e.planner, err = planner.New(planner.Config{
		Memory:      e.mem,
		Feed:        cfg.Feed,
		Scene:       cfg.Scene,
		Docs:        cfg.Docs,
		Applier:     cfg.Applier,
		Transformer: cfg.Transformer,
		Macros:      e.macros,
		Target:      cfg.Target,
		Interval:    cfg.PlannerInterval,
		Enabled:     cfg.PlannerEnabled,
		Now:         cfg.Now,
		Logger:      e.logger.Named("planner"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating planner: %w", err)
	}
	return e, nil
}

// ID returns the engine instance ID used in logs.
func (e *Engine) ID() string { return e.id }

// Memory returns the engine's store. Callers outside the loop should only
// read it.
func (e *Engine) Memory() *memory.Store { return e.mem }

// Start launches the loop goroutine.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrAlreadyRunning
	}
	e.running = true
	e.startedAt = time.Now()
	e.stopCh = make(chan struct{})
	e.done = make(chan struct{})

	if e.cfg.DispatcherAutostart {
		e.dispatcher.Start()
	}
	e.log.Info(e.ctx, "engine started",
		zap.Duration("planner_interval", e.planner.Interval()),
		zap.Bool("planner_enabled", e.planner.Enabled()),
		zap.String("dispatcher", string(e.dispatcher.State())))

	go e.run(e.stopCh, e.done)
	return nil
}

// Stop halts the loop and the dispatcher and waits for in-flight rebuilds.
// It is idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	done := e.done
	e.mu.Unlock()

	<-done
	e.dispatcher.Stop()
	e.dispatcher.Wait()
	e.log.Info(e.ctx, "engine stopped")
}

func (e *Engine) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ctx, cancel := context.WithCancel(e.ctx)
	defer cancel()

	ticker := time.NewTicker(e.planner.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-e.dispatcher.Wake():
			e.safely(ctx, "dispatch", func() { e.dispatcher.ProcessLatest(ctx) })
		case <-ticker.C:
			e.safely(ctx, "tick", func() { e.planner.Tick(ctx) })
		case req := <-e.requests:
			rctx := logging.Correlate(ctx, req.ctx)
			e.safely(rctx, "request", func() { req.fn(rctx) })
			close(req.done)
		}
	}
}

// safely keeps one failed unit of work from taking down the loop.
func (e *Engine) safely(ctx context.Context, what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.FromContext(ctx).Error(ctx, "engine loop recovered", zap.String("work", what), zap.Any("panic", r))
		}
	}()
	fn()
}

// do runs fn on the loop and waits for it. ctx bounds the wait for the loop
// to accept the request, not fn itself. fn's context is the loop's, carrying
// the correlation ids and span of ctx.
func (e *Engine) do(ctx context.Context, fn func(context.Context)) error {
	e.mu.Lock()
	running, stop := e.running, e.stopCh
	e.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	req := request{ctx: ctx, fn: fn, done: make(chan struct{})}
	select {
	case e.requests <- req:
	case <-stop:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	<-req.done
	return nil
}

// StartDispatcher activates the reactive loop. It reports false if already
// active.
func (e *Engine) StartDispatcher() bool { return e.dispatcher.Start() }

// StopDispatcher deactivates the reactive loop. It reports false if already
// idle.
func (e *Engine) StopDispatcher() bool { return e.dispatcher.Stop() }

// SetPlannerEnabled toggles the proactive loop. Memory is kept.
func (e *Engine) SetPlannerEnabled(enabled bool) { e.planner.SetEnabled(enabled) }

// Tick runs one planner tick on the loop.
func (e *Engine) Tick(ctx context.Context) (planner.Decision, planner.Status, error) {
	var (
		d planner.Decision
		s planner.Status
	)
	err := e.do(ctx, func(ctx context.Context) { d, s = e.planner.Tick(ctx) })
	return d, s, err
}

// Evolve runs rule evolution on the loop.
func (e *Engine) Evolve(ctx context.Context) ([]evolution.Action, error) {
	var (
		actions []evolution.Action
		evErr   error
	)
	if err := e.do(ctx, func(ctx context.Context) { actions, evErr = e.evolver.Evolve(ctx) }); err != nil {
		return nil, err
	}
	return actions, evErr
}

// RunMacro runs the named macro on the loop.
func (e *Engine) RunMacro(ctx context.Context, name macro.Name) (macro.Result, error) {
	var (
		res    macro.Result
		runErr error
	)
	if err := e.do(ctx, func(ctx context.Context) { res, runErr = e.macros.Run(ctx, name) }); err != nil {
		return macro.Result{}, err
	}
	return res, runErr
}

// ResetMemory clears Memory and the observer's counters on the loop.
func (e *Engine) ResetMemory(ctx context.Context) error {
	return e.do(ctx, func(ctx context.Context) {
		e.mem.Reset()
		e.observer.Reset()
		logging.FromContext(ctx).Info(ctx, "memory reset")
	})
}

// Snapshot returns a copy of Memory.
func (e *Engine) Snapshot() memory.Snapshot { return e.mem.Snapshot() }

// Status reports the current state of every component.
func (e *Engine) Status() Status {
	e.mu.Lock()
	running, startedAt := e.running, e.startedAt
	e.mu.Unlock()

	st := Status{
		ID:              e.id,
		Running:         running,
		Connected:       e.cfg.Feed.IsConnected(),
		Dispatcher:      e.dispatcher.State(),
		DispatcherStats: e.dispatcher.Stats(),
		PlannerEnabled:  e.planner.Enabled(),
		PlannerInterval: e.planner.Interval(),
		HistoryLen:      e.mem.HistoryLen(),
	}
	if running {
		st.StartedAt = &startedAt
	}
	if d, ok := e.planner.LastDecision(); ok {
		st.LastDecision = &d
	}
	for _, m := range e.mem.CriticalStability() {
		st.CriticalStability = append(st.CriticalStability, m.Key)
	}
	return st
}
