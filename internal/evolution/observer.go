package evolution

import (
	"sync"

	"github.com/fyrsmithlabs/autofixd/internal/event"
	"github.com/fyrsmithlabs/autofixd/internal/memory"
)

// Defaults for the error-rate window.
const (
	DefaultErrorRateWindow    = 50
	DefaultErrorRateThreshold = 0.3
)

// minErrorSamples is the smallest denominator for the error rate, so a few
// errors on a cold start read as a few errors out of ten, not a 100% rate.
// Windows smaller than this use their own size.
const minErrorSamples = 10

// Observer records gameplay statistics into memory. It keeps a sliding
// window of recent event severities to derive the error rate.
type Observer struct {
	mem       *memory.Store
	threshold float64

	mu     sync.Mutex
	window []bool // true for error-severity events
	next   int
	filled bool
}

// NewObserver creates an Observer. Non-positive window or threshold values
// select the defaults.
func NewObserver(mem *memory.Store, window int, threshold float64) *Observer {
	if window <= 0 {
		window = DefaultErrorRateWindow
	}
	if threshold <= 0 {
		threshold = DefaultErrorRateThreshold
	}
	return &Observer{mem: mem, threshold: threshold, window: make([]bool, window)}
}

// Observe updates memory from ev.
func (o *Observer) Observe(ev event.Event) {
	o.observeErrorRate(ev)

	switch p := ev.Payload.(type) {
	case event.CapturePayload:
		o.observeCapture(p)
	case event.ScorePayload:
		o.observeScore(p)
	case event.MatchPayload:
		o.observeMatch(p)
	}
}

func (o *Observer) count(key string) float64 {
	if p, ok := o.mem.Pattern(key); ok {
		return p.Value
	}
	return 0
}

func (o *Observer) observeCapture(p event.CapturePayload) {
	if p.Failed() {
		ties := o.count(PatternTieCount)
		o.mem.UpdatePattern(PatternTieCount, ties+1, 0.5)
		if ties > TieLimit {
			o.mem.SetFlag(PatternTooManyTies, true, 0.8)
		}
	}
	if p.DefenderValue > 0 && p.AttackerValue > p.DefenderValue*OverpowerRatio {
		o.mem.SetFlag(PatternCardOverpower, true, 0.7)
	}
	if p.Succeeded() {
		captures := o.count(PatternCaptureCount)
		o.mem.UpdatePattern(PatternCaptureCount, captures+1, 0.5)
		if captures > CaptureLimit {
			o.mem.SetFlag(PatternTooManyCaptures, true, 0.8)
		}
	}
}

// observeScore tracks the player's share of the combined score.
func (o *Observer) observeScore(p event.ScorePayload) {
	total := p.Score + p.OpponentScore
	if p.Score < 0 || p.OpponentScore < 0 || total <= 0 {
		return
	}
	o.mem.UpdateTendency(TendencyPlayerAdvantage, p.Score/total, "")
}

func (o *Observer) observeMatch(p event.MatchPayload) {
	played := o.count(PatternMatchesPlayed) + 1
	won := o.count(PatternMatchesWon)
	if p.Won {
		won++
	}
	o.mem.UpdatePattern(PatternMatchesPlayed, played, 1)
	o.mem.UpdatePattern(PatternMatchesWon, won, 1)
	o.mem.UpdateBalanceMetric(BalanceWinRate, won/played, WinRateTarget)
}

func (o *Observer) observeErrorRate(ev event.Event) {
	o.mu.Lock()
	o.window[o.next] = ev.Severity == event.SeverityError
	o.next = (o.next + 1) % len(o.window)
	if o.next == 0 {
		o.filled = true
	}
	n := o.next
	if o.filled {
		n = len(o.window)
	}
	errs := 0
	for i := 0; i < n; i++ {
		if o.window[i] {
			errs++
		}
	}
	denom := max(n, min(minErrorSamples, len(o.window)))
	o.mu.Unlock()

	o.mem.UpdateStabilityMetric(StabilityErrorRate, float64(errs)/float64(denom), o.threshold)
}

// Reset clears the error-rate window. Counters live in memory and are
// cleared with it.
func (o *Observer) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.window {
		o.window[i] = false
	}
	o.next = 0
	o.filled = false
}
