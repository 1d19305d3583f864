package format

import (
	"fmt"
	"time"
)

// FmtDuration formats a duration as "Xm Ys" or "Ys".
func FmtDuration(d time.Duration) string {
	s := int(d.Seconds())
	if s >= 60 {
		return fmt.Sprintf("%dm %ds", s/60, s%60)
	}
	return fmt.Sprintf("%ds", s)
}

// Truncate shortens s to maxLen characters, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// FmtScore renders a selection's evidence as "repro N / regr M".
func FmtScore(reproPassed, regrPassed int) string {
	return fmt.Sprintf("repro %d / regr %d", reproPassed, regrPassed)
}

// FmtExclusion renders where an issue dropped out, e.g. "repair_f1: parse_error".
// Empty when the issue was not excluded.
func FmtExclusion(stage, reason string) string {
	if stage == "" {
		return ""
	}
	if reason == "" {
		return stage
	}
	return stage + ": " + reason
}
