// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the agent server configuration.
type Config struct {
	Port               string
	GRPCPort           string
	FrontendURL        string
	CORSOrigins        []string
	DBPath             string
	DocumentsDir       string
	Provider           string
	OpenAI             OpenAIConfig
	HistoryTurns       int
	MaxUploadBytes     int64
	MaxRequestBodySize int64
	HealthCheckTimeout time.Duration
	RateLimit          RateLimitConfig
	Retention          RetentionConfig
	ConversationLog    ConversationLogConfig
	LogLevel           string
}

// OpenAIConfig configures the OpenAI-compatible chat completions processor.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// RateLimitConfig bounds agent requests per client.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// RetentionConfig controls how long uploads and turn records are kept.
// A zero TTL keeps records forever.
type RetentionConfig struct {
	DocumentTTL time.Duration
	TurnTTL     time.Duration
	Interval    time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Provider names accepted by AGENT_PROVIDER.
const (
	ProviderEcho   = "echo"
	ProviderOpenAI = "openai"
)

// Load reads server configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:               getEnv("PORT", "8000"),
		GRPCPort:           getEnv("GRPC_PORT", ""),
		FrontendURL:        getEnv("FRONTEND_URL", ""),
		CORSOrigins:        getEnvList("CORS_ORIGINS", []string{"*"}),
		DBPath:             getEnv("DB_PATH", "./data/agent.db"),
		DocumentsDir:       getEnv("DOCUMENTS_DIR", "./data/documents"),
		Provider:           strings.ToLower(getEnv("AGENT_PROVIDER", ProviderEcho)),
		HistoryTurns:       getEnvInt("AGENT_HISTORY_TURNS", 10),
		MaxUploadBytes:     getEnvInt64("MAX_UPLOAD_BYTES", 20<<20),
		MaxRequestBodySize: getEnvInt64("MAX_REQUEST_BODY_SIZE", 1<<20),
		HealthCheckTimeout: getEnvDuration("HEALTH_CHECK_TIMEOUT", 2*time.Second),
		OpenAI: OpenAIConfig{
			BaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			APIKey:  getEnv("OPENAI_API_KEY", ""),
			Model:   getEnv("OPENAI_MODEL", "gpt-4o"),
			Timeout: getEnvDuration("OPENAI_TIMEOUT", 60*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Retention: RetentionConfig{
			DocumentTTL: getEnvDuration("DOCUMENT_RETENTION", 24*time.Hour),
			TurnTTL:     getEnvDuration("TURN_RETENTION", 7*24*time.Hour),
			Interval:    getEnvDuration("RETENTION_INTERVAL", 10*time.Minute),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.DocumentsDir == "" {
		return fmt.Errorf("DOCUMENTS_DIR cannot be empty")
	}
	switch c.Provider {
	case ProviderEcho:
	case ProviderOpenAI:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when AGENT_PROVIDER=openai")
		}
		if c.OpenAI.Model == "" {
			return fmt.Errorf("OPENAI_MODEL cannot be empty")
		}
	default:
		return fmt.Errorf("unknown AGENT_PROVIDER %q", c.Provider)
	}
	if c.HistoryTurns < 0 {
		return fmt.Errorf("AGENT_HISTORY_TURNS must be >= 0")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be > 0")
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.Retention.Interval <= 0 {
		return fmt.Errorf("RETENTION_INTERVAL must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvInt64(key string, fallback int64) int64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
