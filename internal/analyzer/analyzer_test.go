package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/autofixd/internal/event"
	"github.com/fyrsmithlabs/autofixd/internal/intent"
	"github.com/fyrsmithlabs/autofixd/internal/memory"
)

func runtimeError(msg string) event.Event {
	return event.Event{ID: "ev", Type: event.TypeRuntimeError, Severity: event.SeverityError, Message: msg}
}

func TestAnalyze_NullReference(t *testing.T) {
	mem := memory.New()

	in, ok := Analyze(runtimeError("NullReferenceException at Foo.Bar"), mem)
	require.True(t, ok)
	assert.Equal(t, intent.ActionFixNullReference, in.Action)
	assert.Equal(t, intent.PriorityCritical, in.Priority)
	assert.Equal(t, 0.9, in.Confidence)

	meta, ok := in.Metadata.(intent.RuntimeErrorMeta)
	require.True(t, ok)
	assert.Equal(t, intent.ErrorNullReference, meta.ErrorType)
	assert.Equal(t, "Foo.Bar", meta.TargetMethod)
	assert.Equal(t, 1, mem.ErrorCount("NullReference"))
}

func TestAnalyze_RuntimeErrorTable(t *testing.T) {
	tests := []struct {
		msg        string
		action     intent.Action
		errorType  intent.ErrorType
		priority   intent.Priority
		confidence float64
	}{
		{"Object reference: null reference", intent.ActionFixNullReference, intent.ErrorNullReference, intent.PriorityCritical, 0.9},
		{"MissingComponentException: missing component Rigidbody", intent.ActionFixMissingComponent, intent.ErrorMissingComponent, intent.PriorityHigh, 0.85},
		{"GetComponent returned nothing", intent.ActionFixMissingComponent, intent.ErrorMissingComponent, intent.PriorityHigh, 0.85},
		{"ArgumentOutOfRangeException: Index was out of range", intent.ActionFixIndexBounds, intent.ErrorIndexOutOfRange, intent.PriorityHigh, 0.8},
		{"DivideByZeroException: Attempted to divide by zero", intent.ActionFixDivisionByZero, intent.ErrorDivideByZero, intent.PriorityCritical, 0.95},
		{"Something odd happened", intent.ActionFixError, intent.ErrorUnknown, intent.PriorityHigh, 0.7},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			in, ok := Analyze(runtimeError(tt.msg), nil)
			require.True(t, ok)
			assert.Equal(t, tt.action, in.Action)
			assert.Equal(t, tt.errorType, in.ErrorType())
			assert.Equal(t, tt.priority, in.Priority)
			assert.Equal(t, tt.confidence, in.Confidence)
		})
	}
}

func TestAnalyze_Deterministic(t *testing.T) {
	ev := runtimeError("NullReferenceException at Foo.Bar")
	first, ok1 := Analyze(ev, memory.New())
	for i := 0; i < 10; i++ {
		again, ok2 := Analyze(ev, memory.New())
		assert.Equal(t, ok1, ok2)
		assert.Equal(t, first, again)
	}
}

func TestAnalyze_Capture(t *testing.T) {
	tests := []struct {
		name    string
		payload event.CapturePayload
		want    intent.Action
		matched bool
	}{
		{"failed with stronger attacker", event.CapturePayload{AttackerValue: 5, DefenderValue: 2, Result: event.Ptr(false)}, intent.ActionAdjustRule, true},
		{"failed with invalid values", event.CapturePayload{AttackerValue: 0, DefenderValue: 2, Result: event.Ptr(false)}, intent.ActionAdjustRule, true},
		{"failed with weaker attacker", event.CapturePayload{AttackerValue: 1, DefenderValue: 2, Result: event.Ptr(false)}, "", false},
		{"succeeded with weaker attacker", event.CapturePayload{AttackerValue: 2, DefenderValue: 2, Result: event.Ptr(true)}, intent.ActionValidateRule, true},
		{"succeeded normally", event.CapturePayload{AttackerValue: 5, DefenderValue: 2, Result: event.Ptr(true)}, "", false},
		{"no outcome", event.CapturePayload{AttackerValue: 5, DefenderValue: 2}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := event.Event{ID: "c", Type: event.TypeCapture, Severity: event.SeverityInfo, Payload: tt.payload}
			in, ok := Analyze(ev, nil)
			require.Equal(t, tt.matched, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.want, in.Action)
			assert.Equal(t, intent.PriorityMedium, in.Priority)
			meta := in.Metadata.(intent.CaptureMeta)
			assert.Equal(t, intent.RuleCaptureThreshold, meta.Rule)
			assert.Equal(t, tt.payload.AttackerValue, meta.AttackerValue)
		})
	}
}

func TestAnalyze_Score(t *testing.T) {
	neg := event.Event{Type: event.TypeScore, Payload: event.ScorePayload{Score: -3, PlayerID: "p1"}}
	in, ok := Analyze(neg, nil)
	require.True(t, ok)
	assert.Equal(t, intent.ActionFixScore, in.Action)
	assert.Equal(t, 0.7, in.Confidence)

	high := event.Event{Type: event.TypeScore, Payload: event.ScorePayload{Score: 5000}}
	in, ok = Analyze(high, nil)
	require.True(t, ok)
	assert.Equal(t, intent.ActionValidateScore, in.Action)
	assert.Equal(t, intent.PriorityLow, in.Priority)

	_, ok = Analyze(event.Event{Type: event.TypeScore, Payload: event.ScorePayload{Score: 40}}, nil)
	assert.False(t, ok)
}

func TestAnalyze_AssetDiff(t *testing.T) {
	in, ok := Analyze(event.Event{Type: event.TypeAssetDiff, Payload: event.AssetDiffPayload{Path: "Assets/Cards/Knight.prefab"}}, nil)
	require.True(t, ok)
	assert.Equal(t, intent.ActionValidateAsset, in.Action)
	assert.Equal(t, intent.AssetPrefab, in.Metadata.(intent.AssetMeta).AssetType)
	assert.Equal(t, 0.8, in.Confidence)

	in, ok = Analyze(event.Event{Type: event.TypeAssetDiff, Payload: event.AssetDiffPayload{Path: "Assets/Glow.shader"}}, nil)
	require.True(t, ok)
	assert.Equal(t, intent.AssetMaterial, in.Metadata.(intent.AssetMeta).AssetType)

	_, ok = Analyze(event.Event{Type: event.TypeAssetDiff, Payload: event.AssetDiffPayload{Path: "README.md"}}, nil)
	assert.False(t, ok)
}

func TestAnalyze_BuildError(t *testing.T) {
	tests := map[string]intent.Action{
		"Compilation failed: CS1002":        intent.ActionFixCompilation,
		"Asset Cards/Knight.png not found":  intent.ActionFixMissingAsset,
		"Missing reference in build config": intent.ActionFixMissingAsset,
		"Linker exited with code 1":         intent.ActionFixBuild,
	}
	for msg, want := range tests {
		in, ok := Analyze(event.Event{Type: event.TypeBuildError, Severity: event.SeverityError, Message: msg}, nil)
		require.True(t, ok, msg)
		assert.Equal(t, want, in.Action, msg)
		assert.Equal(t, intent.PriorityHigh, in.Priority)
	}
}

func TestAnalyze_DeprecatedWarning(t *testing.T) {
	in, ok := Analyze(event.Event{Type: event.TypeRuntimeLog, Severity: event.SeverityWarning, Message: "WWW is Deprecated"}, nil)
	require.True(t, ok)
	assert.Equal(t, intent.ActionUpdateDeprecated, in.Action)

	_, ok = Analyze(event.Event{Type: event.TypeRuntimeLog, Severity: event.SeverityInfo, Message: "WWW is deprecated"}, nil)
	assert.False(t, ok)
}

func TestAnalyze_UnknownTypeStillCountsErrors(t *testing.T) {
	mem := memory.New()
	_, ok := Analyze(event.Event{Type: "editor.crash", Severity: event.SeverityError, Message: "boom"}, mem)
	assert.False(t, ok)
	assert.Equal(t, 1, mem.ErrorCount("Unknown"))
}

func TestTargetMethod_FromStackTrace(t *testing.T) {
	ev := event.Event{Message: "NullReferenceException", StackTrace: "  at Board.Capture.Resolve ()\n  at Game.Tick ()"}
	assert.Equal(t, "Board.Capture.Resolve", TargetMethod(ev))
	assert.Equal(t, "", TargetMethod(event.Event{Message: "nothing here"}))
}
