package notify

import (
	"fmt"
	"strings"
	"time"
)

// FormatDegradedMessage creates the body for a mode-degradation alert.
func FormatDegradedMessage(from, to string, at time.Time) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Change detection switched: %s -> %s\n", from, to))
	sb.WriteString("Live updates continue with higher latency.\n")
	sb.WriteString(fmt.Sprintf("At: %s", at.UTC().Format(time.RFC3339)))

	return sb.String()
}

// FormatStoppedMessage creates the body for a pipeline-down alert.
func FormatStoppedMessage(reason string, at time.Time) string {
	var sb strings.Builder

	sb.WriteString("Change detection is down. No live updates are being delivered.\n")
	if reason != "" {
		sb.WriteString(fmt.Sprintf("Reason: %s\n", reason))
	}
	sb.WriteString(fmt.Sprintf("At: %s", at.UTC().Format(time.RFC3339)))

	return sb.String()
}
