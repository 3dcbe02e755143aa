package conversation

import (
	"fmt"
	"time"
)

// CallEndedText renders "Call ended · 3m 12s".
func CallEndedText(d time.Duration) string {
	return "Call ended · " + FormatDuration(d)
}

// MissedCallText renders "Missed video call" or "Missed audio call".
func MissedCallText(medium string) string {
	return fmt.Sprintf("Missed %s call", medium)
}

func SessionStartedText() string { return "Instant session started" }

func SessionCompletedText(d time.Duration) string {
	return "Session completed · " + FormatDuration(d)
}

// FormatDuration renders whole seconds as "42s", "3m 12s" or "1h 5m".
func FormatDuration(d time.Duration) string {
	s := int(d / time.Second)
	if s < 0 {
		s = 0
	}
	switch {
	case s < 60:
		return fmt.Sprintf("%ds", s)
	case s < 3600:
		return fmt.Sprintf("%dm %ds", s/60, s%60)
	default:
		return fmt.Sprintf("%dh %dm", s/3600, (s%3600)/60)
	}
}

func DeclinedCallText(medium string) string {
	return fmt.Sprintf("Declined %s call", medium)
}
