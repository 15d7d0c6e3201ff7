// Package macro runs coarse, named remediation procedures.
//
// A macro takes no per-call parameters: it reads the current scene,
// configuration document and memory and fixes whatever it finds. Every
// macro reports a Result instead of failing, so callers can log it and
// move on.
package macro

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autofixd/internal/evolution"
	"github.com/fyrsmithlabs/autofixd/internal/gamecfg"
	"github.com/fyrsmithlabs/autofixd/internal/logging"
	"github.com/fyrsmithlabs/autofixd/internal/memory"
	"github.com/fyrsmithlabs/autofixd/internal/patch"
	"github.com/fyrsmithlabs/autofixd/internal/scene"
)

const instrumentationName = "github.com/fyrsmithlabs/autofixd/internal/macro"

// Name identifies a macro.
type Name string

const (
	AutofixUI            Name = "autofixUI"
	RebalanceRules       Name = "rebalanceRules"
	FixScene             Name = "fixScene"
	RecenterView         Name = "recenterView"
	AutoAlignPrefabs     Name = "autoAlignPrefabs"
	RepairBrokenUI       Name = "repairBrokenUI"
	HealScoreLogic       Name = "healScoreLogic"
	FixAnimationTimings  Name = "fixAnimationTimings"
	WrapMissingColliders Name = "wrapMissingColliders"
	FullAutoRepair       Name = "fullAutoRepair"
)

// Names lists every macro in a stable order.
var Names = []Name{
	AutofixUI,
	RebalanceRules,
	FixScene,
	RecenterView,
	AutoAlignPrefabs,
	RepairBrokenUI,
	HealScoreLogic,
	FixAnimationTimings,
	WrapMissingColliders,
	FullAutoRepair,
}

// Memory markers set by macros that have no runtime counterpart.
const (
	PatternAnimationTimingFixed = "animationTimingFixed"
	PatternCollidersAdded       = "collidersAdded"
)

// ErrUnknownMacro is returned by Run for names outside Names.
var ErrUnknownMacro = errors.New("unknown macro")

// Result reports what a macro did.
type Result struct {
	Success bool     `json:"success"`
	Actions []string `json:"actions"`
	Errors  []string `json:"errors"`
}

func (r *Result) step(action string, err error) {
	if err != nil {
		r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", action, err))
		return
	}
	r.Actions = append(r.Actions, action)
}

// Deps are the collaborators a Runner drives.
type Deps struct {
	Memory      *memory.Store
	Scene       scene.Source
	Transformer scene.Transformer
	Docs        patch.DocumentLoader
	Applier     patch.Applier
	Evolver     *evolution.Evolver
	// Target is the configuration document path; empty means
	// gamecfg.DefaultPath.
	Target string
	Logger *zap.Logger
}

// Runner executes macros.
type Runner struct {
	deps   Deps
	log    *logging.Logger
	macros map[Name]func(context.Context) Result

	tracer     trace.Tracer
	runCounter metric.Int64Counter
}

// NewRunner validates deps and builds a Runner.
func NewRunner(deps Deps) (*Runner, error) {
	if deps.Memory == nil {
		return nil, errors.New("memory is required")
	}
	if deps.Scene == nil || deps.Transformer == nil {
		return nil, errors.New("scene source and transformer are required")
	}
	if deps.Docs == nil || deps.Applier == nil || deps.Evolver == nil {
		return nil, errors.New("document loader, applier and evolver are required")
	}
	if deps.Target == "" {
		deps.Target = gamecfg.DefaultPath
	}

	alignUI := correction{"alignUI", scene.AlignUI}
	offScreen := correction{"fixOffScreenObjects", scene.FixOffScreenObjects}

	r := &Runner{
		deps:   deps,
		log:    logging.Wrap(deps.Logger),
		tracer: otel.Tracer(instrumentationName),
	}
	fixScene := r.sceneMacro(
		correction{"fixFloatingObjects", scene.FixFloatingObjects},
		correction{"fixCardAlignment", scene.FixCardAlignment},
		offScreen,
	)
	r.macros = map[Name]func(context.Context) Result{
		AutofixUI:            r.sceneMacro(alignUI),
		RebalanceRules:       r.rebalanceRules,
		FixScene:             fixScene,
		RecenterView:         r.sceneMacro(correction{"recenterCamera", scene.RecenterCamera}),
		AutoAlignPrefabs:     r.sceneMacro(correction{"normalizeTransforms", scene.NormalizeTransforms}),
		RepairBrokenUI:       r.sceneMacro(alignUI, offScreen),
		HealScoreLogic:       r.healScoreLogic,
		FixAnimationTimings:  r.marker("fixAnimationTimings", PatternAnimationTimingFixed, 0.8),
		WrapMissingColliders: r.marker("wrapMissingColliders", PatternCollidersAdded, 0.7),
		FullAutoRepair:       r.fullAutoRepair,
	}
	r.initMetrics()
	return r, nil
}

func (r *Runner) initMetrics() {
	var err error
	r.runCounter, err = otel.Meter(instrumentationName).Int64Counter(
		"autofixd.macro.runs_total",
		metric.WithDescription("Total number of macro runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		r.log.Warn(context.Background(), "failed to create macro run counter", zap.Error(err))
	}
}

// Parse returns the Name matching s.
func Parse(s string) (Name, bool) {
	for _, n := range Names {
		if string(n) == s {
			return n, true
		}
	}
	return "", false
}

// Run executes the named macro and records the result in memory. Panics
// inside a macro are reported as a failed Result.
func (r *Runner) Run(ctx context.Context, name Name) (res Result, err error) {
	fn, ok := r.macros[name]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownMacro, name)
	}

	ctx, span := r.tracer.Start(ctx, "macro.run")
	defer span.End()
	span.SetAttributes(attribute.String("macro", string(name)))

	defer func() {
		if p := recover(); p != nil {
			res = Result{Errors: []string{fmt.Sprintf("panic: %v", p)}}
		}
		if res.Actions == nil {
			res.Actions = []string{}
		}
		if res.Errors == nil {
			res.Errors = []string{}
		}
		r.record(ctx, name, res)
	}()

	return fn(ctx), nil
}

func (r *Runner) record(ctx context.Context, name Name, res Result) {
	r.deps.Memory.Push(memory.Entry{
		Type:    memory.EntryMacro,
		Action:  string(name),
		Success: res.Success,
		Detail:  strings.Join(res.Errors, "; "),
	})
	if r.runCounter != nil {
		r.runCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("macro", string(name)),
			attribute.Bool("success", res.Success),
		))
	}
	fields := []zap.Field{
		zap.String("macro", string(name)),
		zap.Strings("actions", res.Actions),
	}
	if len(res.Errors) > 0 {
		r.log.Warn(ctx, "macro finished with errors", append(fields, zap.Strings("errors", res.Errors))...)
		return
	}
	r.log.Info(ctx, "macro finished", fields...)
}

// correction is one named scene correction.
type correction struct {
	label string
	fn    func(scene.Snapshot) []scene.Change
}

// sceneMacro applies corrections in order, all computed from the scene
// snapshot taken at the start of the run.
func (r *Runner) sceneMacro(steps ...correction) func(context.Context) Result {
	return func(ctx context.Context) Result {
		var res Result
		snap := r.deps.Scene.Scene()
		for _, s := range steps {
			_, err := scene.Apply(ctx, r.deps.Transformer, s.fn(snap))
			res.step(s.label, err)
		}
		res.Success = len(res.Errors) == 0
		return res
	}
}

func (r *Runner) rebalanceRules(ctx context.Context) Result {
	var res Result
	actions, err := r.deps.Evolver.Evolve(ctx)
	if err != nil {
		res.step("evolve", err)
		return res
	}
	for _, a := range actions {
		res.Actions = append(res.Actions, string(a.Kind))
	}
	res.Success = len(actions) > 0
	return res
}

func (r *Runner) healScoreLogic(ctx context.Context) Result {
	var res Result
	doc, err := r.deps.Docs.LoadDocument(ctx, r.deps.Target)
	if err != nil {
		res.step("healScoreLogic", err)
		return res
	}
	if _, ok := doc.Section("scoreRules"); !ok {
		err = r.deps.Applier.ApplyDocumentPatch(ctx, r.deps.Target, gamecfg.Document{
			"scoreRules": gamecfg.DefaultScoreRules(),
		})
	}
	res.step("healScoreLogic", err)
	res.Success = err == nil
	return res
}

func (r *Runner) marker(action, key string, confidence float64) func(context.Context) Result {
	return func(context.Context) Result {
		r.deps.Memory.SetFlag(key, true, confidence)
		return Result{Success: true, Actions: []string{action}}
	}
}

func (r *Runner) fullAutoRepair(ctx context.Context) Result {
	var all Result
	for _, name := range []Name{AutofixUI, FixScene, RebalanceRules, RepairBrokenUI, HealScoreLogic} {
		res := r.macros[name](ctx)
		all.Actions = append(all.Actions, res.Actions...)
		all.Errors = append(all.Errors, res.Errors...)
	}
	all.Success = len(all.Errors) == 0
	return all
}
