package memory

import "time"

// Trend is the direction of a tendency.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// trendDelta is the minimum change between updates that counts as a trend.
const trendDelta = 0.1

// Status classifies a stability metric against its threshold.
type Status string

const (
	StatusStable   Status = "stable"
	StatusUnstable Status = "unstable"
	StatusCritical Status = "critical"
)

// Pattern is a named flag set by an observer. Boolean patterns store 1 for
// true and 0 for false.
type Pattern struct {
	Key         string    `json:"key"`
	Value       float64   `json:"value"`
	Confidence  float64   `json:"confidence"`
	LastSeen    time.Time `json:"lastSeen"`
	Occurrences int       `json:"occurrences"`
}

// True reports whether the pattern is set.
func (p Pattern) True() bool { return p.Value != 0 }

// Tendency is a numeric value tracked with its direction of change.
type Tendency struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
	Trend Trend   `json:"trend"`
}

// StabilityMetric compares a value with a threshold.
type StabilityMetric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Status    Status  `json:"status"`
}

// BalanceMetric tracks how far a value sits from its target.
type BalanceMetric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Target    float64 `json:"target"`
	Deviation float64 `json:"deviation"`
}

// Hypothesis is a free-form observation with a confidence.
type Hypothesis struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Confidence  float64   `json:"confidence"`
	Timestamp   time.Time `json:"timestamp"`
}

// Entry types pushed into the history.
const (
	EntryFixApplied   = "fix_applied"
	EntryFixFailed    = "fix_failed"
	EntryFixSuggested = "fix_suggested"
	EntryMacro        = "macro"
	EntryEvolution    = "evolution"
	EntryDecision     = "decision"
)

// Entry is one record in the action history.
type Entry struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Action    string            `json:"action,omitempty"`
	Success   bool              `json:"success"`
	Detail    string            `json:"detail,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Outcome counts applications of one fix kind for one error type.
type Outcome struct {
	Successes int `json:"successes"`
	Failures  int `json:"failures"`
}

type outcomeKey struct {
	errorType string
	fixKind   string
}
