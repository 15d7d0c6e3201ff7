package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIntent_OutcomeKey(t *testing.T) {
	runtime := Intent{
		Action:   ActionFixNullReference,
		Metadata: RuntimeErrorMeta{ErrorType: ErrorNullReference},
	}
	assert.Equal(t, "NullReference", runtime.OutcomeKey())

	rule := Intent{Action: ActionAdjustRule, Metadata: CaptureMeta{Rule: RuleCaptureThreshold}}
	assert.Equal(t, "adjustRule", rule.OutcomeKey())
	assert.Equal(t, ErrorType(""), rule.ErrorType())

	bare := Intent{Action: ActionUpdateDeprecated}
	assert.Equal(t, "updateDeprecated", bare.OutcomeKey())
}

func TestPriority_Rank(t *testing.T) {
	assert.Less(t, PriorityLow.Rank(), PriorityMedium.Rank())
	assert.Less(t, PriorityMedium.Rank(), PriorityHigh.Rank())
	assert.Less(t, PriorityHigh.Rank(), PriorityCritical.Rank())
}

func TestAllActions_Unique(t *testing.T) {
	seen := make(map[Action]bool, len(AllActions))
	for _, a := range AllActions {
		assert.False(t, seen[a], "duplicate action %s", a)
		seen[a] = true
	}
}
