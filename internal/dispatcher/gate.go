package dispatcher

import "github.com/fyrsmithlabs/autofixd/internal/intent"

// Default gate thresholds.
const (
	DefaultAutoApplyThreshold = 0.8
	DefaultSuggestThreshold   = 0.6
)

// Verdict is the gate's decision for one fix.
type Verdict string

const (
	VerdictApply   Verdict = "apply"
	VerdictSuggest Verdict = "suggest"
	VerdictDrop    Verdict = "drop"
)

// Gate decides what to do with a fix scored at confidence. A fix is
// applied when confidence exceeds applyAbove or the intent is critical,
// suggested when confidence exceeds suggestAbove, and dropped otherwise.
//
// Critical intents are applied even at low confidence.
func Gate(confidence float64, p intent.Priority, applyAbove, suggestAbove float64) Verdict {
	switch {
	case confidence > applyAbove || p == intent.PriorityCritical:
		return VerdictApply
	case confidence > suggestAbove:
		return VerdictSuggest
	default:
		return VerdictDrop
	}
}
