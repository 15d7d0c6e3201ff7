// Package evolution watches gameplay statistics and nudges balance
// parameters back toward equilibrium.
//
// The Observer turns every processed event into memory patterns, tendencies
// and metrics. Plan reads those and computes bounded parameter changes;
// Evolver applies them through the RuleFix path and clears the patterns it
// consumed. Most adjustments decay geometrically so repeated application
// converges instead of oscillating.
package evolution

// Memory keys written by the Observer and read by Plan.
const (
	PatternTieCount        = "tieCount"
	PatternTooManyTies     = "tooManyTies"
	PatternCardOverpower   = "cardOverpower"
	PatternCaptureCount    = "captureCount"
	PatternTooManyCaptures = "tooManyCaptures"
	PatternMatchesPlayed   = "matchesPlayed"
	PatternMatchesWon      = "matchesWon"

	TendencyPlayerAdvantage = "playerAdvantage"
	BalanceWinRate          = "winRate"
	StabilityErrorRate      = "errorRate"
)

// Observer thresholds.
const (
	// TieLimit is the tie count after which tooManyTies is raised.
	TieLimit = 5
	// CaptureLimit is the capture count after which tooManyCaptures is raised.
	CaptureLimit = 10
	// OverpowerRatio marks a card as overpowered when its value exceeds the
	// defender's by this factor.
	OverpowerRatio = 2.0
	// WinRateTarget is the balanced win rate.
	WinRateTarget = 0.5
)
