package memory

import (
	"maps"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultHistorySize caps the action history.
	DefaultHistorySize = 1000
	// DefaultHypothesesSize caps the hypothesis list.
	DefaultHypothesesSize = 100
	// DefaultStabilityThreshold is used when a caller passes a non-positive threshold.
	DefaultStabilityThreshold = 1.0
	// DefaultPatternConfidence is used by SetFlag callers without an opinion.
	DefaultPatternConfidence = 0.7
)

// Store is the engine's learned state. The zero value is not usable; call New.
type Store struct {
	mu sync.RWMutex

	errorCounts map[string]int
	outcomes    map[outcomeKey]Outcome
	patterns    map[string]Pattern
	tendencies  map[string]Tendency
	stability   map[string]StabilityMetric
	balance     map[string]BalanceMetric
	hypotheses  *ring[Hypothesis]
	history     *ring[Entry]

	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithHistorySize overrides the history capacity.
func WithHistorySize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.history = newRing[Entry](n)
		}
	}
}

// WithHypothesesSize overrides the hypothesis capacity.
func WithHypothesesSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.hypotheses = newRing[Hypothesis](n)
		}
	}
}

// WithClock sets the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		hypotheses: newRing[Hypothesis](DefaultHypothesesSize),
		history:    newRing[Entry](DefaultHistorySize),
		now:        time.Now,
	}
	s.resetMaps()
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) resetMaps() {
	s.errorCounts = make(map[string]int)
	s.outcomes = make(map[outcomeKey]Outcome)
	s.patterns = make(map[string]Pattern)
	s.tendencies = make(map[string]Tendency)
	s.stability = make(map[string]StabilityMetric)
	s.balance = make(map[string]BalanceMetric)
}

// Reset clears all state. Capacities are kept.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetMaps()
	s.hypotheses.reset()
	s.history.reset()
}

// IncrementError bumps the counter for errorType and returns the new count.
func (s *Store) IncrementError(errorType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorCounts[errorType]++
	return s.errorCounts[errorType]
}

// ErrorCount returns the number of errors seen for errorType.
func (s *Store) ErrorCount(errorType string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errorCounts[errorType]
}

// RecordOutcome counts one application of fixKind for errorType.
func (s *Store) RecordOutcome(errorType, fixKind string, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := outcomeKey{errorType: errorType, fixKind: fixKind}
	o := s.outcomes[k]
	if success {
		o.Successes++
	} else {
		o.Failures++
	}
	s.outcomes[k] = o
}

// Outcome returns the success and failure counts for (errorType, fixKind).
func (s *Store) Outcome(errorType, fixKind string) Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outcomes[outcomeKey{errorType: errorType, fixKind: fixKind}]
}

// UpdatePattern upserts a pattern and increments its occurrences.
func (s *Store) UpdatePattern(key string, value, confidence float64) Pattern {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatePatternLocked(key, value, confidence)
}

func (s *Store) updatePatternLocked(key string, value, confidence float64) Pattern {
	p := Pattern{
		Key:         key,
		Value:       value,
		Confidence:  confidence,
		LastSeen:    s.now(),
		Occurrences: s.patterns[key].Occurrences + 1,
	}
	s.patterns[key] = p
	return p
}

// SetFlag upserts a boolean pattern.
func (s *Store) SetFlag(key string, on bool, confidence float64) Pattern {
	v := 0.0
	if on {
		v = 1
	}
	return s.UpdatePattern(key, v, confidence)
}

// Pattern returns the pattern stored under key.
func (s *Store) Pattern(key string) (Pattern, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patterns[key]
	return p, ok
}

// Flag reports whether the boolean pattern key is set.
func (s *Store) Flag(key string) bool {
	p, ok := s.Pattern(key)
	return ok && p.True()
}

// UpdateTendency stores value under key. An empty trend is derived from the
// change since the previous value; the first value is always stable.
func (s *Store) UpdateTendency(key string, value float64, trend Trend) Tendency {
	s.mu.Lock()
	defer s.mu.Unlock()
	if trend == "" {
		trend = TrendStable
		if prev, ok := s.tendencies[key]; ok {
			switch diff := value - prev.Value; {
			case diff > trendDelta:
				trend = TrendIncreasing
			case diff < -trendDelta:
				trend = TrendDecreasing
			}
		}
	}
	t := Tendency{Key: key, Value: value, Trend: trend}
	s.tendencies[key] = t
	return t
}

// Tendency returns the tendency stored under key.
func (s *Store) Tendency(key string) (Tendency, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tendencies[key]
	return t, ok
}

// UpdateStabilityMetric stores value and recomputes the status: critical
// above 1.5x threshold, unstable above threshold, stable otherwise. A
// threshold <= 0 is replaced by DefaultStabilityThreshold, and the stored
// metric carries the threshold actually used.
func (s *Store) UpdateStabilityMetric(key string, value, threshold float64) StabilityMetric {
	if threshold <= 0 {
		threshold = DefaultStabilityThreshold
	}
	status := StatusStable
	switch {
	case value > threshold*1.5:
		status = StatusCritical
	case value > threshold:
		status = StatusUnstable
	}
	m := StabilityMetric{Key: key, Value: value, Threshold: threshold, Status: status}

	s.mu.Lock()
	s.stability[key] = m
	s.mu.Unlock()
	return m
}

// StabilityMetric returns the metric stored under key.
func (s *Store) StabilityMetric(key string) (StabilityMetric, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.stability[key]
	return m, ok
}

// CriticalStability returns every critical stability metric ordered by key.
func (s *Store) CriticalStability() []StabilityMetric {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []StabilityMetric
	for _, m := range s.stability {
		if m.Status == StatusCritical {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// UpdateBalanceMetric stores value and recomputes deviation = |value - target|.
func (s *Store) UpdateBalanceMetric(key string, value, target float64) BalanceMetric {
	m := BalanceMetric{Key: key, Value: value, Target: target, Deviation: math.Abs(value - target)}
	s.mu.Lock()
	s.balance[key] = m
	s.mu.Unlock()
	return m
}

// BalanceMetric returns the metric stored under key.
func (s *Store) BalanceMetric(key string) (BalanceMetric, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.balance[key]
	return m, ok
}

// AddHypothesis records a hypothesis, evicting the oldest when full.
func (s *Store) AddHypothesis(description string, confidence float64) Hypothesis {
	h := Hypothesis{
		ID:          uuid.NewString(),
		Description: description,
		Confidence:  confidence,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h.Timestamp = s.now()
	s.hypotheses.push(h)
	return h
}

// Hypotheses returns the recorded hypotheses, oldest first.
func (s *Store) Hypotheses() []Hypothesis {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hypotheses.items()
}

// Push appends an entry to the history, evicting the oldest when full.
// A missing ID or timestamp is filled in. Pushing a fix_applied entry also
// updates the fix_<action> pattern: its value is the outcome and its
// confidence starts at 0.5 and grows by 0.1 per repeat, capped at 1.
func (s *Store) Push(e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if len(e.Labels) > 0 {
		e.Labels = maps.Clone(e.Labels)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	s.history.push(e)

	if e.Type == EntryFixApplied && e.Action != "" {
		key := "fix_" + e.Action
		conf := 0.5
		if prev, ok := s.patterns[key]; ok {
			conf = math.Min(1, prev.Confidence+0.1)
		}
		v := 0.0
		if e.Success {
			v = 1
		}
		s.updatePatternLocked(key, v, conf)
	}
	return e
}

// History returns the action history, oldest first.
func (s *Store) History() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.items()
}

// RecentHistory returns the n most recent entries, oldest first.
func (s *Store) RecentHistory(n int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.last(n)
}

// HistoryLen returns the number of entries in the history.
func (s *Store) HistoryLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.len()
}

// HistoryCap returns the history capacity.
func (s *Store) HistoryCap() int {
	return s.history.cap()
}
