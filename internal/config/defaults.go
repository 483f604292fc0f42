package config

import "time"

// Default values for configuration
const (
	// Log defaults
	DefaultLogLevel = "info"
	DefaultLogJSON  = true

	// Database defaults
	DefaultDBPath = "whatsapp_monitor.db"

	// WhatsApp API defaults
	DefaultSendRatePerMinute = 20 // Client-side ceiling on outbound sends

	// Webhook defaults
	DefaultWebhookPort = 8000

	// Gemini defaults
	DefaultGeminiModel          = "gemini-flash-latest"
	DefaultGeminiEmbeddingModel = "text-embedding-004"
	DefaultGeminiTemperature    = 1.0

	// Summary defaults
	DefaultScheduleHour = 20
	DefaultTimezone     = "Asia/Jerusalem"
	DefaultMinMessages  = 15   // Minimum messages before a scheduled summary runs
	DefaultMaxMessages  = 1000 // Cap on messages per summary; oldest dropped first

	// Retry defaults
	DefaultRetryMaxAttempts = 3
	DefaultRetryMinWait     = time.Second
	DefaultRetryMaxWait     = 30 * time.Second

	// Queue defaults
	DefaultIngestQueueSize     = 256
	DefaultEmbeddingsQueueSize = 512
	DefaultEmbeddingsEnabled   = true
)

// DefaultSummaryKeywords are the command keywords that trigger an on-demand
// summary, matched case-insensitively against direct messages from the
// authorized recipient.
var DefaultSummaryKeywords = []string{
	"sikum",
	"סיכום",
	"summary",
	"summarize",
	"/summary",
	"/summarize",
}
