// Package config provides configuration loading, validation, and management.
// It handles reading from YAML files and BOT_-prefixed environment variables,
// setting default values, and validating configuration parameters.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config defines the application configuration parameters for all components:
// logging, database, WhatsApp API access, Gemini integration, summarization,
// and the ingestion pipeline.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Database   DatabaseConfig   `mapstructure:"database"`
	WhatsApp   WhatsAppConfig   `mapstructure:"whatsapp"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	Gemini     GeminiConfig     `mapstructure:"gemini"`
	Summary    SummaryConfig    `mapstructure:"summary"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
}

// LogConfig controls log verbosity and output format.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// DatabaseConfig points at the SQLite database file.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// WhatsAppConfig describes the Green-API-style HTTP interface used for
// outbound sends and group listing.
type WhatsAppConfig struct {
	APIURL            string `mapstructure:"api_url"  validate:"required,url"`
	APIToken          string `mapstructure:"api_token" validate:"required"`
	SendRatePerMinute int    `mapstructure:"send_rate_per_minute" validate:"min=1"`
}

// WebhookConfig configures the inbound notification HTTP server.
type WebhookConfig struct {
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
}

// GeminiConfig holds the Gemini API credentials and model selection.
type GeminiConfig struct {
	APIKey         string  `mapstructure:"api_key" validate:"required"`
	Model          string  `mapstructure:"model" validate:"required"`
	EmbeddingModel string  `mapstructure:"embedding_model" validate:"required"`
	Temperature    float32 `mapstructure:"temperature" validate:"min=0,max=2"`
}

// SummaryConfig controls the digest pipeline: the single authorized
// recipient, the daily schedule, thresholds, and command keywords.
type SummaryConfig struct {
	RecipientPhone string   `mapstructure:"recipient_phone" validate:"required"`
	ScheduleHour   int      `mapstructure:"schedule_hour" validate:"min=0,max=23"`
	Timezone       string   `mapstructure:"timezone" validate:"required"`
	MinMessages    int      `mapstructure:"min_messages" validate:"min=1"`
	MaxMessages    int      `mapstructure:"max_messages" validate:"min=1"`
	Keywords       []string `mapstructure:"keywords" validate:"min=1,dive,required"`
}

// RetryConfig bounds retries on outbound API calls (LLM, embeddings, sends).
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"min=1,max=10"`
	MinWait     time.Duration `mapstructure:"min_wait" validate:"min=100ms"`
	MaxWait     time.Duration `mapstructure:"max_wait" validate:"min=1s,max=5m"`
}

// IngestConfig sizes the webhook-to-pipeline handoff queue.
type IngestConfig struct {
	QueueSize int `mapstructure:"queue_size" validate:"min=1"`
}

// EmbeddingsConfig controls the best-effort embedding side-channel.
type EmbeddingsConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	QueueSize int  `mapstructure:"queue_size" validate:"min=1"`
}

// LoadConfig loads and validates configuration from:
// 1. Default values
// 2. The YAML file at configPath (optional)
// 3. BOT_* environment variables
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Missing config file is fine, env vars and defaults still apply.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.json", DefaultLogJSON)

	v.SetDefault("database.path", DefaultDBPath)

	v.SetDefault("whatsapp.send_rate_per_minute", DefaultSendRatePerMinute)

	v.SetDefault("webhook.port", DefaultWebhookPort)

	v.SetDefault("gemini.model", DefaultGeminiModel)
	v.SetDefault("gemini.embedding_model", DefaultGeminiEmbeddingModel)
	v.SetDefault("gemini.temperature", DefaultGeminiTemperature)

	v.SetDefault("summary.schedule_hour", DefaultScheduleHour)
	v.SetDefault("summary.timezone", DefaultTimezone)
	v.SetDefault("summary.min_messages", DefaultMinMessages)
	v.SetDefault("summary.max_messages", DefaultMaxMessages)
	v.SetDefault("summary.keywords", DefaultSummaryKeywords)

	v.SetDefault("retry.max_attempts", DefaultRetryMaxAttempts)
	v.SetDefault("retry.min_wait", DefaultRetryMinWait)
	v.SetDefault("retry.max_wait", DefaultRetryMaxWait)

	v.SetDefault("ingest.queue_size", DefaultIngestQueueSize)

	v.SetDefault("embeddings.enabled", DefaultEmbeddingsEnabled)
	v.SetDefault("embeddings.queue_size", DefaultEmbeddingsQueueSize)
}
