package memory

import "maps"

// Snapshot is a read-only deep copy of a Store.
type Snapshot struct {
	ErrorCounts      map[string]int                `json:"errorCounts"`
	FixOutcomes      map[string]map[string]Outcome `json:"fixOutcomes"`
	Patterns         map[string]Pattern            `json:"patterns"`
	Tendencies       map[string]Tendency           `json:"tendencies"`
	StabilityMetrics map[string]StabilityMetric    `json:"stabilityMetrics"`
	BalanceMetrics   map[string]BalanceMetric      `json:"balanceMetrics"`
	Hypotheses       []Hypothesis                  `json:"hypotheses"`
	History          []Entry                       `json:"history"`
}

// Snapshot returns a copy that shares nothing with the Store.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	outcomes := make(map[string]map[string]Outcome)
	for k, o := range s.outcomes {
		byKind, ok := outcomes[k.errorType]
		if !ok {
			byKind = make(map[string]Outcome)
			outcomes[k.errorType] = byKind
		}
		byKind[k.fixKind] = o
	}

	history := s.history.items()
	for i := range history {
		if history[i].Labels != nil {
			history[i].Labels = maps.Clone(history[i].Labels)
		}
	}

	return Snapshot{
		ErrorCounts:      maps.Clone(s.errorCounts),
		FixOutcomes:      outcomes,
		Patterns:         maps.Clone(s.patterns),
		Tendencies:       maps.Clone(s.tendencies),
		StabilityMetrics: maps.Clone(s.stability),
		BalanceMetrics:   maps.Clone(s.balance),
		Hypotheses:       s.hypotheses.items(),
		History:          history,
	}
}
