package monitor

import (
	"fmt"
	"time"
)

// FormatPercentage formats a ratio (0-1) as a percentage.
func FormatPercentage(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

// FormatRatio formats part/total as a percentage, "-" when total is zero.
func FormatRatio(part, total int64) string {
	if total == 0 {
		return "-"
	}
	return FormatPercentage(float64(part) / float64(total))
}

// FormatDuration formats d as "Xh Ym", "Xm Ys" or "Xs".
func FormatDuration(d time.Duration) string {
	s := int64(d.Seconds())
	hours, minutes, seconds := s/3600, (s%3600)/60, s%60
	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// FormatSigned formats v with an explicit sign, e.g. "+0.12".
func FormatSigned(v float64) string {
	return fmt.Sprintf("%+.2f", v)
}
