// Package intent defines the classified, confidence-scored interpretation of
// a single diagnostic event.
package intent

import (
	"github.com/fyrsmithlabs/autofixd/internal/event"
)

// Action names the remediation an intent asks for. The set is closed; see
// AllActions.
type Action string

const (
	ActionFixNullReference    Action = "fixNullReference"
	ActionFixMissingComponent Action = "fixMissingComponent"
	ActionFixIndexBounds      Action = "fixIndexBounds"
	ActionFixDivisionByZero   Action = "fixDivisionByZero"
	ActionFixError            Action = "fixError"
	ActionAdjustRule          Action = "adjustRule"
	ActionValidateRule        Action = "validateRule"
	ActionFixScore            Action = "fixScore"
	ActionValidateScore       Action = "validateScore"
	ActionValidateAsset       Action = "validateAsset"
	ActionFixCompilation      Action = "fixCompilation"
	ActionFixMissingAsset     Action = "fixMissingAsset"
	ActionFixBuild            Action = "fixBuild"
	ActionUpdateDeprecated    Action = "updateDeprecated"
)

// AllActions lists every Action. Handler tables keyed by Action are tested
// for totality against this list.
var AllActions = []Action{
	ActionFixNullReference,
	ActionFixMissingComponent,
	ActionFixIndexBounds,
	ActionFixDivisionByZero,
	ActionFixError,
	ActionAdjustRule,
	ActionValidateRule,
	ActionFixScore,
	ActionValidateScore,
	ActionValidateAsset,
	ActionFixCompilation,
	ActionFixMissingAsset,
	ActionFixBuild,
	ActionUpdateDeprecated,
}

// Priority ranks how urgent an intent is.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank orders priorities from 0 (low) to 3 (critical).
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// ErrorType is the canonical classification of a runtime error message.
type ErrorType string

const (
	ErrorNullReference    ErrorType = "NullReference"
	ErrorMissingComponent ErrorType = "MissingComponent"
	ErrorIndexOutOfRange  ErrorType = "IndexOutOfRange"
	ErrorDivideByZero     ErrorType = "DivideByZero"
	ErrorUnknown          ErrorType = "Unknown"
)

// Intent is created once from one event and never mutated.
type Intent struct {
	Action     Action
	Reason     string
	Source     event.Event
	Priority   Priority
	Confidence float64
	Metadata   Metadata
}

// ErrorType returns the error classification carried in runtime error
// metadata, or "" for other intents.
func (i Intent) ErrorType() ErrorType {
	if m, ok := i.Metadata.(RuntimeErrorMeta); ok {
		return m.ErrorType
	}
	return ""
}

// OutcomeKey is the memory key under which fix outcomes for this intent are
// recorded: the error type when known, otherwise the action.
func (i Intent) OutcomeKey() string {
	if et := i.ErrorType(); et != "" {
		return string(et)
	}
	return string(i.Action)
}
