package memory

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return func() time.Time { return ts }
}

func TestStore_HistoryBounded(t *testing.T) {
	s := New()

	for i := 0; i < 2000; i++ {
		s.Push(Entry{Type: EntryMacro, Action: fmt.Sprintf("a%d", i)})
	}

	history := s.History()
	require.Len(t, history, 1000)
	for i, e := range history {
		assert.Equal(t, fmt.Sprintf("a%d", 1000+i), e.Action)
	}
	assert.Equal(t, 1000, s.HistoryLen())
	assert.Equal(t, 1000, s.HistoryCap())
}

func TestStore_RecentHistory(t *testing.T) {
	s := New(WithHistorySize(3))
	for i := 0; i < 5; i++ {
		s.Push(Entry{Type: EntryMacro, Action: fmt.Sprint(i)})
	}

	recent := s.RecentHistory(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "3", recent[0].Action)
	assert.Equal(t, "4", recent[1].Action)
	assert.Len(t, s.RecentHistory(10), 3)
	assert.Nil(t, s.RecentHistory(0))
}

func TestStore_HypothesesBounded(t *testing.T) {
	s := New()
	for i := 0; i < 150; i++ {
		s.AddHypothesis(fmt.Sprintf("h%d", i), 0.5)
	}

	hs := s.Hypotheses()
	require.Len(t, hs, 100)
	assert.Equal(t, "h50", hs[0].Description)
	assert.Equal(t, "h149", hs[99].Description)
	assert.NotEmpty(t, hs[0].ID)
}

func TestStore_UpdatePatternCountsOccurrences(t *testing.T) {
	s := New(WithClock(fixedClock()))

	s.UpdatePattern("tieCount", 1, 0.5)
	p := s.UpdatePattern("tieCount", 2, 0.6)

	assert.Equal(t, 2, p.Occurrences)
	assert.Equal(t, 2.0, p.Value)
	assert.Equal(t, 0.6, p.Confidence)
	assert.Equal(t, fixedClock()(), p.LastSeen)

	got, ok := s.Pattern("tieCount")
	require.True(t, ok)
	assert.Equal(t, p, got)

	_, ok = s.Pattern("missing")
	assert.False(t, ok)
}

func TestStore_Flags(t *testing.T) {
	s := New()
	assert.False(t, s.Flag("tooManyTies"))

	s.SetFlag("tooManyTies", true, 0.8)
	assert.True(t, s.Flag("tooManyTies"))

	s.SetFlag("tooManyTies", false, 0.8)
	assert.False(t, s.Flag("tooManyTies"))

	p, _ := s.Pattern("tooManyTies")
	assert.Equal(t, 2, p.Occurrences)
}

func TestStore_StabilityStatus(t *testing.T) {
	tests := []struct {
		value     float64
		threshold float64
		want      Status
	}{
		{value: 0.5, threshold: 1, want: StatusStable},
		{value: 1, threshold: 1, want: StatusStable},
		{value: 1.2, threshold: 1, want: StatusUnstable},
		{value: 1.5, threshold: 1, want: StatusUnstable},
		{value: 1.51, threshold: 1, want: StatusCritical},
		{value: 0.4, threshold: 0.25, want: StatusCritical},
		{value: 1.6, threshold: 0, want: StatusCritical},
	}

	s := New()
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v/%v", tt.value, tt.threshold), func(t *testing.T) {
			m := s.UpdateStabilityMetric("errorRate", tt.value, tt.threshold)
			assert.Equal(t, tt.want, m.Status)

			stored, ok := s.StabilityMetric("errorRate")
			require.True(t, ok)
			assert.Equal(t, m, stored)
		})
	}
}

func TestStore_StabilityDefaultThreshold(t *testing.T) {
	s := New()
	for _, th := range []float64{0, -2} {
		m := s.UpdateStabilityMetric("frameTime", 1.2, th)
		assert.Equal(t, DefaultStabilityThreshold, m.Threshold)
		assert.Equal(t, StatusUnstable, m.Status)
	}
}

func TestStore_CriticalStabilityOrdered(t *testing.T) {
	s := New()
	s.UpdateStabilityMetric("zeta", 10, 1)
	s.UpdateStabilityMetric("alpha", 10, 1)
	s.UpdateStabilityMetric("calm", 0.1, 1)

	crit := s.CriticalStability()
	require.Len(t, crit, 2)
	assert.Equal(t, "alpha", crit[0].Key)
	assert.Equal(t, "zeta", crit[1].Key)
}

func TestStore_BalanceDeviation(t *testing.T) {
	s := New()
	m := s.UpdateBalanceMetric("winRate", 0.2, 0.5)
	assert.InDelta(t, 0.3, m.Deviation, 1e-9)

	m = s.UpdateBalanceMetric("winRate", 0.9, 0.5)
	assert.InDelta(t, 0.4, m.Deviation, 1e-9)
}

func TestStore_TendencyTrend(t *testing.T) {
	s := New()

	first := s.UpdateTendency("playerAdvantage", 0.5, "")
	assert.Equal(t, TrendStable, first.Trend)

	up := s.UpdateTendency("playerAdvantage", 0.75, "")
	assert.Equal(t, TrendIncreasing, up.Trend)

	flat := s.UpdateTendency("playerAdvantage", 0.8, "")
	assert.Equal(t, TrendStable, flat.Trend)

	down := s.UpdateTendency("playerAdvantage", 0.5, "")
	assert.Equal(t, TrendDecreasing, down.Trend)

	forced := s.UpdateTendency("playerAdvantage", 0.5, TrendIncreasing)
	assert.Equal(t, TrendIncreasing, forced.Trend)
}

func TestStore_PushFixAppliedUpdatesPattern(t *testing.T) {
	s := New()

	s.Push(Entry{Type: EntryFixApplied, Action: "addGuard", Success: true})
	p, ok := s.Pattern("fix_addGuard")
	require.True(t, ok)
	assert.Equal(t, 0.5, p.Confidence)
	assert.True(t, p.True())

	for i := 0; i < 10; i++ {
		s.Push(Entry{Type: EntryFixApplied, Action: "addGuard", Success: true})
	}
	p, _ = s.Pattern("fix_addGuard")
	assert.Equal(t, 1.0, p.Confidence)
	assert.Equal(t, 11, p.Occurrences)

	s.Push(Entry{Type: EntryFixSuggested, Action: "rebuild"})
	_, ok = s.Pattern("fix_rebuild")
	assert.False(t, ok, "only applied fixes feed patterns")
}

func TestStore_Outcomes(t *testing.T) {
	s := New()
	s.RecordOutcome("NullReference", "addGuard", true)
	s.RecordOutcome("NullReference", "addGuard", true)
	s.RecordOutcome("NullReference", "addGuard", false)

	assert.Equal(t, Outcome{Successes: 2, Failures: 1}, s.Outcome("NullReference", "addGuard"))
	assert.Equal(t, Outcome{}, s.Outcome("NullReference", "patchMethod"))
}

func TestStore_ErrorCounts(t *testing.T) {
	s := New()
	assert.Equal(t, 1, s.IncrementError("DivideByZero"))
	assert.Equal(t, 2, s.IncrementError("DivideByZero"))
	assert.Equal(t, 2, s.ErrorCount("DivideByZero"))
	assert.Equal(t, 0, s.ErrorCount("Unknown"))
}

func TestStore_SnapshotIsDeepCopy(t *testing.T) {
	s := New()
	s.IncrementError("Unknown")
	s.RecordOutcome("Unknown", "addGuard", true)
	s.Push(Entry{Type: EntryMacro, Action: "fixScene", Labels: map[string]string{"k": "v"}})

	snap := s.Snapshot()
	snap.ErrorCounts["Unknown"] = 99
	snap.History[0].Labels["k"] = "changed"
	snap.FixOutcomes["Unknown"]["addGuard"] = Outcome{}

	assert.Equal(t, 1, s.ErrorCount("Unknown"))
	assert.Equal(t, "v", s.History()[0].Labels["k"])
	assert.Equal(t, 1, s.Outcome("Unknown", "addGuard").Successes)
}

func TestStore_Reset(t *testing.T) {
	s := New()
	s.IncrementError("Unknown")
	s.SetFlag("tooManyTies", true, 0.8)
	s.UpdateBalanceMetric("winRate", 1, 0.5)
	s.AddHypothesis("h", 0.1)
	s.Push(Entry{Type: EntryMacro})

	s.Reset()

	snap := s.Snapshot()
	assert.Empty(t, snap.ErrorCounts)
	assert.Empty(t, snap.Patterns)
	assert.Empty(t, snap.BalanceMetrics)
	assert.Empty(t, snap.Hypotheses)
	assert.Empty(t, snap.History)
	assert.Equal(t, DefaultHistorySize, s.HistoryCap())
}

func TestStore_ConcurrentWriters(t *testing.T) {
	s := New(WithHistorySize(50))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s.Push(Entry{Type: EntryMacro})
				s.UpdateStabilityMetric("errorRate", float64(i%3), 1)
				_ = s.Snapshot()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, s.HistoryLen())
	m, ok := s.StabilityMetric("errorRate")
	require.True(t, ok)
	assert.Contains(t, []Status{StatusStable, StatusUnstable, StatusCritical}, m.Status)
}

func TestCollector(t *testing.T) {
	s := New()
	s.IncrementError("NullReference")
	s.IncrementError("Unknown")
	s.UpdateStabilityMetric("errorRate", 2, 1)
	s.UpdateBalanceMetric("winRate", 0.9, 0.5)

	c := NewCollector(s)
	assert.Equal(t, 2, testutil.CollectAndCount(c, "autofixd_memory_error_count"))
	assert.Equal(t, 1, testutil.CollectAndCount(c, "autofixd_memory_stability_value"))
	assert.Equal(t, 1, testutil.CollectAndCount(c, "autofixd_memory_balance_deviation"))
	assert.Equal(t, 1, testutil.CollectAndCount(c, "autofixd_memory_history_length"))
}
