// Package heuristics turns intents into concrete fixes and scores how much
// the engine should trust each fix.
//
// SuggestFix is total over intent.Action: every action has an entry in the
// suggester table, and actions that have no automatic remedy map to a
// suggester that declines. Confidence blends the intent's base confidence
// with the recorded outcomes of the same fix kind for the same error type;
// this frequency-of-past-success boost is the engine's only learning signal.
package heuristics

import (
	"fmt"
	"math"
	"path"
	"strings"

	"github.com/fyrsmithlabs/autofixd/internal/fix"
	"github.com/fyrsmithlabs/autofixd/internal/gamecfg"
	"github.com/fyrsmithlabs/autofixd/internal/intent"
	"github.com/fyrsmithlabs/autofixd/internal/memory"
)

const (
	// MaxConfidence caps every fix confidence.
	MaxConfidence = 0.95
	// ReinforcementBoost is added when the fix kind has succeeded before.
	ReinforcementBoost = 0.2
	// LowPriorityDiscount scales the confidence of low priority intents.
	LowPriorityDiscount = 0.8
)

type suggester func(in intent.Intent, doc gamecfg.Document) (fix.Fix, bool)

var suggesters = map[intent.Action]suggester{
	intent.ActionAdjustRule:          suggestThreshold,
	intent.ActionValidateRule:        suggestThreshold,
	intent.ActionFixScore:            suggestScoreRules,
	intent.ActionValidateAsset:       suggestAsset,
	intent.ActionFixNullReference:    suggestGuard(fix.KindAddGuard, nullGuard, "target"),
	intent.ActionFixMissingComponent: suggestGuard(fix.KindFixNullCheck, componentGuard, "Component"),
	intent.ActionFixIndexBounds:      suggestGuard(fix.KindAddGuard, boundsGuard, "array"),
	intent.ActionFixDivisionByZero:   suggestGuard(fix.KindAddGuard, zeroGuard, "divisor"),
	intent.ActionFixCompilation:      suggestRebuild,
	intent.ActionFixMissingAsset:     suggestRebuild,
	intent.ActionFixBuild:            suggestRebuild,
	intent.ActionFixError:            decline,
	intent.ActionValidateScore:       decline,
	intent.ActionUpdateDeprecated:    decline,
}

// SuggestFix proposes a fix for in. A nil doc is treated as the built-in
// default configuration. It returns false when the intent has no automatic
// remedy or its metadata does not support one.
func SuggestFix(in intent.Intent, doc gamecfg.Document) (fix.Fix, bool) {
	s, ok := suggesters[in.Action]
	if !ok {
		return nil, false
	}
	if doc == nil {
		doc = gamecfg.Default()
	}
	return s(in, doc)
}

// Confidence scores f for in. It starts from the intent confidence, adds
// ReinforcementBoost when mem records at least one success for this fix
// kind and error type and successes are not outnumbered by failures, and
// scales by LowPriorityDiscount for low priority intents. The result never
// exceeds MaxConfidence.
func Confidence(in intent.Intent, f fix.Fix, mem *memory.Store) float64 {
	c := in.Confidence
	if mem != nil && f != nil {
		o := mem.Outcome(in.OutcomeKey(), string(f.Kind()))
		if o.Successes > 0 && o.Successes >= o.Failures {
			c = math.Min(MaxConfidence, c+ReinforcementBoost)
		}
	}
	if in.Priority == intent.PriorityLow {
		c *= LowPriorityDiscount
	}
	return math.Min(c, MaxConfidence)
}

func decline(intent.Intent, gamecfg.Document) (fix.Fix, bool) { return nil, false }

// suggestThreshold lowers the capture threshold by one (floored at zero)
// after a failed capture with a stronger attacker, and raises it by one
// after a capture that succeeded without one.
func suggestThreshold(in intent.Intent, doc gamecfg.Document) (fix.Fix, bool) {
	meta, ok := in.Metadata.(intent.CaptureMeta)
	if !ok || meta.Rule != intent.RuleCaptureThreshold {
		return nil, false
	}
	current := doc.CaptureThreshold()

	var next float64
	switch {
	case in.Action == intent.ActionAdjustRule && meta.AttackerValue > meta.DefenderValue:
		next = math.Max(0, current-1)
	case in.Action == intent.ActionValidateRule && meta.AttackerValue <= meta.DefenderValue:
		next = current + 1
	default:
		return nil, false
	}
	return fix.RuleFix{
		TargetFile: gamecfg.DefaultPath,
		Document:   doc.WithCaptureThreshold(next),
		FixKind:    fix.KindThreshold,
	}, true
}

func suggestScoreRules(_ intent.Intent, doc gamecfg.Document) (fix.Fix, bool) {
	patched := gamecfg.Merge(doc, gamecfg.Document{
		"scoreRules": map[string]any{
			"minScore":      0.0,
			"allowNegative": false,
		},
	})
	return fix.RuleFix{
		TargetFile: gamecfg.DefaultPath,
		Document:   patched,
		FixKind:    fix.KindConfig,
	}, true
}

func suggestAsset(in intent.Intent, _ gamecfg.Document) (fix.Fix, bool) {
	meta, ok := in.Metadata.(intent.AssetMeta)
	if !ok || meta.AssetPath == "" {
		return nil, false
	}
	id := strings.TrimSuffix(path.Base(meta.AssetPath), path.Ext(meta.AssetPath))

	switch meta.AssetType {
	case intent.AssetPrefab:
		return fix.AssetFix{FixKind: fix.KindRebuild, AssetID: id, Path: meta.AssetPath}, true
	case intent.AssetMaterial:
		return fix.AssetFix{FixKind: fix.KindRefresh, AssetID: id, Path: meta.AssetPath}, true
	}
	return nil, false
}

func suggestRebuild(intent.Intent, gamecfg.Document) (fix.Fix, bool) {
	return fix.AssetFix{FixKind: fix.KindRebuild, AssetID: fix.ProjectAssetID}, true
}

const (
	nullGuard      = "if (%s == null)\n{\n    return;\n}\n"
	componentGuard = "var component = GetComponent<%[1]s>();\nif (component == null)\n{\n    component = gameObject.AddComponent<%[1]s>();\n}\n"
	boundsGuard    = "if (index < 0 || index >= %s.Length)\n{\n    return;\n}\n"
	zeroGuard      = "if (%s == 0)\n{\n    return 0;\n}\n"
)

func suggestGuard(kind fix.Kind, tmpl, subject string) suggester {
	return func(in intent.Intent, _ gamecfg.Document) (fix.Fix, bool) {
		meta, _ := in.Metadata.(intent.RuntimeErrorMeta)
		return fix.CodeFix{
			FixKind:      kind,
			TargetMethod: meta.TargetMethod,
			TargetFile:   meta.File,
			PatchBody:    fmt.Sprintf(tmpl, subject),
		}, true
	}
}
