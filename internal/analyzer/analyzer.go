// Package analyzer classifies diagnostic events into remediation intents.
//
// Analyze dispatches on the event type and evaluates a small ordered
// decision table per type. Tables are evaluated top to bottom and the first
// matching rule wins, so more specific rules are listed first. Message tests
// are case-insensitive substring checks.
package analyzer

import (
	"path"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/autofixd/internal/event"
	"github.com/fyrsmithlabs/autofixd/internal/intent"
	"github.com/fyrsmithlabs/autofixd/internal/memory"
)

// Score bounds outside of which a score event is suspicious.
const (
	MinPlausibleScore = 0
	MaxPlausibleScore = 1000
)

var targetMethodRe = regexp.MustCompile(`\bat\s+([A-Za-z_][\w.]*)`)

// runtimeRule maps a runtime error message to an action.
type runtimeRule struct {
	match      func(msg string) bool
	errorType  intent.ErrorType
	action     intent.Action
	priority   intent.Priority
	confidence float64
	reason     string
}

func contains(subs ...string) func(string) bool {
	return func(msg string) bool {
		for _, s := range subs {
			if strings.Contains(msg, s) {
				return true
			}
		}
		return false
	}
}

var runtimeRules = []runtimeRule{
	{
		match:      contains("divide by zero", "division by zero"),
		errorType:  intent.ErrorDivideByZero,
		action:     intent.ActionFixDivisionByZero,
		priority:   intent.PriorityCritical,
		confidence: 0.95,
		reason:     "division by zero detected, needs zero check",
	},
	{
		match: func(msg string) bool {
			return strings.Contains(msg, "index") && strings.Contains(msg, "out of range")
		},
		errorType:  intent.ErrorIndexOutOfRange,
		action:     intent.ActionFixIndexBounds,
		priority:   intent.PriorityHigh,
		confidence: 0.8,
		reason:     "index out of bounds, needs bounds checking",
	},
	{
		match:      contains("missing component", "getcomponent"),
		errorType:  intent.ErrorMissingComponent,
		action:     intent.ActionFixMissingComponent,
		priority:   intent.PriorityHigh,
		confidence: 0.85,
		reason:     "missing component reference, prefab or script setup issue",
	},
	{
		match:      contains("nullreference", "null reference"),
		errorType:  intent.ErrorNullReference,
		action:     intent.ActionFixNullReference,
		priority:   intent.PriorityCritical,
		confidence: 0.9,
		reason:     "null reference exception, missing initialization or null check",
	},
}

var fallbackRuntimeRule = runtimeRule{
	errorType:  intent.ErrorUnknown,
	action:     intent.ActionFixError,
	priority:   intent.PriorityHigh,
	confidence: 0.7,
	reason:     "runtime error detected",
}

func matchRuntime(msg string) runtimeRule {
	lower := strings.ToLower(msg)
	for _, r := range runtimeRules {
		if r.match(lower) {
			return r
		}
	}
	return fallbackRuntimeRule
}

// ErrorType classifies an event message into the canonical error types.
func ErrorType(ev event.Event) intent.ErrorType {
	return matchRuntime(ev.Message).errorType
}

// TargetMethod extracts the first "at Type.Method" reference from the
// message or, failing that, the stack trace.
func TargetMethod(ev event.Event) string {
	for _, s := range []string{ev.Message, ev.StackTrace} {
		if m := targetMethodRe.FindStringSubmatch(s); m != nil {
			return strings.TrimRight(m[1], ".")
		}
	}
	return ""
}

// Analyze classifies ev. It returns false when no rule matches, which is
// the common case for informational events. When ev has error severity the
// error counter for its error type is incremented in mem; this is the only
// side effect. The result depends only on ev.
func Analyze(ev event.Event, mem *memory.Store) (intent.Intent, bool) {
	if ev.Severity == event.SeverityError && mem != nil {
		mem.IncrementError(string(ErrorType(ev)))
	}

	switch ev.Type {
	case event.TypeRuntimeError:
		return analyzeRuntimeError(ev), true
	case event.TypeCapture:
		return analyzeCapture(ev)
	case event.TypeScore:
		return analyzeScore(ev)
	case event.TypeAssetDiff:
		return analyzeAssetDiff(ev)
	case event.TypeBuildError:
		return analyzeBuildError(ev), true
	case event.TypeRuntimeLog:
		return analyzeLog(ev)
	default:
		return intent.Intent{}, false
	}
}

func analyzeRuntimeError(ev event.Event) intent.Intent {
	r := matchRuntime(ev.Message)
	return intent.Intent{
		Action:     r.action,
		Reason:     r.reason,
		Source:     ev,
		Priority:   r.priority,
		Confidence: r.confidence,
		Metadata: intent.RuntimeErrorMeta{
			ErrorType:    r.errorType,
			StackTrace:   ev.StackTrace,
			File:         ev.File,
			Line:         ev.Line,
			TargetMethod: TargetMethod(ev),
		},
	}
}

func analyzeCapture(ev event.Event) (intent.Intent, bool) {
	p, ok := ev.Payload.(event.CapturePayload)
	if !ok {
		return intent.Intent{}, false
	}
	meta := intent.CaptureMeta{
		Rule:          intent.RuleCaptureThreshold,
		AttackerValue: p.AttackerValue,
		DefenderValue: p.DefenderValue,
	}

	invalid := p.AttackerValue <= 0 || p.DefenderValue <= 0
	switch {
	case p.Failed() && (p.AttackerValue > p.DefenderValue || invalid):
		return intent.Intent{
			Action:     intent.ActionAdjustRule,
			Reason:     "capture failed despite a stronger attacker, threshold may be too strict",
			Source:     ev,
			Priority:   intent.PriorityMedium,
			Confidence: 0.75,
			Metadata:   meta,
		}, true
	case p.Succeeded() && p.AttackerValue <= p.DefenderValue:
		return intent.Intent{
			Action:     intent.ActionValidateRule,
			Reason:     "capture succeeded unexpectedly, rule logic may be too lenient",
			Source:     ev,
			Priority:   intent.PriorityMedium,
			Confidence: 0.65,
			Metadata:   meta,
		}, true
	}
	return intent.Intent{}, false
}

func analyzeScore(ev event.Event) (intent.Intent, bool) {
	p, ok := ev.Payload.(event.ScorePayload)
	if !ok {
		return intent.Intent{}, false
	}
	meta := intent.ScoreMeta{Score: p.Score, PlayerID: p.PlayerID}

	switch {
	case p.Score < MinPlausibleScore:
		return intent.Intent{
			Action:     intent.ActionFixScore,
			Reason:     "negative score detected, score calculation may be incorrect",
			Source:     ev,
			Priority:   intent.PriorityMedium,
			Confidence: 0.7,
			Metadata:   meta,
		}, true
	case p.Score > MaxPlausibleScore:
		return intent.Intent{
			Action:     intent.ActionValidateScore,
			Reason:     "unusually high score, may indicate a multiplier bug",
			Source:     ev,
			Priority:   intent.PriorityLow,
			Confidence: 0.6,
			Metadata:   meta,
		}, true
	}
	return intent.Intent{}, false
}

func analyzeAssetDiff(ev event.Event) (intent.Intent, bool) {
	p, ok := ev.Payload.(event.AssetDiffPayload)
	if !ok {
		return intent.Intent{}, false
	}

	switch path.Ext(p.Path) {
	case ".prefab":
		return intent.Intent{
			Action:     intent.ActionValidateAsset,
			Reason:     "prefab updated, may require runtime rebind or scene refresh",
			Source:     ev,
			Priority:   intent.PriorityLow,
			Confidence: 0.8,
			Metadata:   intent.AssetMeta{AssetPath: p.Path, AssetType: intent.AssetPrefab},
		}, true
	case ".mat", ".shader":
		return intent.Intent{
			Action:     intent.ActionValidateAsset,
			Reason:     "material or shader updated, may require material reload",
			Source:     ev,
			Priority:   intent.PriorityLow,
			Confidence: 0.75,
			Metadata:   intent.AssetMeta{AssetPath: p.Path, AssetType: intent.AssetMaterial},
		}, true
	}
	return intent.Intent{}, false
}

func analyzeBuildError(ev event.Event) intent.Intent {
	msg := strings.ToLower(ev.Message)
	in := intent.Intent{
		Action:     intent.ActionFixBuild,
		Reason:     "build error detected",
		Source:     ev,
		Priority:   intent.PriorityHigh,
		Confidence: 0.7,
		Metadata:   intent.BuildMeta{BuildError: ev.Message},
	}
	switch {
	case strings.Contains(msg, "compilation"):
		in.Action = intent.ActionFixCompilation
		in.Reason = "build compilation error, check syntax and dependencies"
		in.Confidence = 0.9
	case strings.Contains(msg, "missing") || strings.Contains(msg, "not found"):
		in.Action = intent.ActionFixMissingAsset
		in.Reason = "build is missing an asset, check paths and references"
		in.Confidence = 0.85
	}
	return in
}

func analyzeLog(ev event.Event) (intent.Intent, bool) {
	if ev.Severity != event.SeverityWarning {
		return intent.Intent{}, false
	}
	if !strings.Contains(strings.ToLower(ev.Message), "deprecated") {
		return intent.Intent{}, false
	}
	return intent.Intent{
		Action:     intent.ActionUpdateDeprecated,
		Reason:     "deprecated API usage detected",
		Source:     ev,
		Priority:   intent.PriorityLow,
		Confidence: 0.8,
	}, true
}
