package summarizer

import (
	"fmt"
	"strings"
	"time"

	"sikumbot/internal/database"
)

const transcriptTimeFormat = "2006-01-02 15:04:05"

// FormatTranscript renders ordered messages as "[timestamp] sender: content"
// lines for the LLM prompt.
func FormatTranscript(messages []*database.Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, fmt.Sprintf("[%s] %s: %s",
			m.Timestamp.Format(transcriptTimeFormat), m.SenderDisplayName(), m.Content))
	}
	return strings.Join(lines, "\n")
}

// capMessages truncates the window to the most recent max messages.
// Recency is preferred over completeness, so the oldest are dropped first.
func capMessages(messages []*database.Message, max int) []*database.Message {
	if max <= 0 || len(messages) <= max {
		return messages
	}
	return messages[len(messages)-max:]
}

// startOfDay returns midnight of t's calendar day in t's location.
func startOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}
