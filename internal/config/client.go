package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// DefaultApology is shown as the agent reply when a turn fails.
const DefaultApology = "Sorry, something went wrong while sending your message. Please try again."

// ClientConfig holds the chat client configuration.
type ClientConfig struct {
	AgentURL       string
	RequestTimeout time.Duration
	RevealInterval time.Duration
	MaxUploadBytes int64
	Apology        string
	SessionID      string
	LogFile        string
	LogLevel       string
	GlamourStyle   string
	FeedPath       string
}

// clientFile is the YAML shape of a client config file.
type clientFile struct {
	AgentURL       string `yaml:"agent_url"`
	RequestTimeout string `yaml:"request_timeout"`
	RevealInterval string `yaml:"reveal_interval"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	Apology        string `yaml:"apology"`
	SessionID      string `yaml:"session_id"`
	LogFile        string `yaml:"log_file"`
	LogLevel       string `yaml:"log_level"`
	GlamourStyle   string `yaml:"glamour_style"`
	FeedPath       string `yaml:"feed_path"`
}

// DefaultClientConfig returns the client defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		AgentURL:       "http://localhost:8000",
		RequestTimeout: 60 * time.Second,
		RevealInterval: 10 * time.Millisecond,
		MaxUploadBytes: 20 << 20,
		Apology:        DefaultApology,
		LogLevel:       "info",
		GlamourStyle:   "dark",
		FeedPath:       "/ws/feed",
	}
}

// LoadClient builds the client configuration from defaults, an optional YAML
// file and CHAT_* environment variables, in increasing precedence.
func LoadClient(path string) (*ClientConfig, error) {
	cfg := DefaultClientConfig()

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.AgentURL = getEnv("CHAT_AGENT_URL", cfg.AgentURL)
	cfg.RequestTimeout = getEnvDuration("CHAT_REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.RevealInterval = getEnvDuration("CHAT_REVEAL_INTERVAL", cfg.RevealInterval)
	cfg.MaxUploadBytes = getEnvInt64("CHAT_MAX_UPLOAD_BYTES", cfg.MaxUploadBytes)
	cfg.Apology = getEnv("CHAT_APOLOGY", cfg.Apology)
	cfg.SessionID = getEnv("CHAT_SESSION_ID", cfg.SessionID)
	cfg.LogFile = getEnv("CHAT_LOG_FILE", cfg.LogFile)
	cfg.LogLevel = getEnv("CHAT_LOG_LEVEL", cfg.LogLevel)
	cfg.GlamourStyle = getEnv("CHAT_GLAMOUR_STYLE", cfg.GlamourStyle)
	cfg.FeedPath = getEnv("CHAT_FEED_PATH", cfg.FeedPath)

	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	cfg.AgentURL = strings.TrimRight(cfg.AgentURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client configuration: %w", err)
	}
	return cfg, nil
}

func (c *ClientConfig) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read client config: %w", err)
	}
	var f clientFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse client config %s: %w", path, err)
	}

	if f.AgentURL != "" {
		c.AgentURL = f.AgentURL
	}
	if f.RequestTimeout != "" {
		d, err := time.ParseDuration(f.RequestTimeout)
		if err != nil {
			return fmt.Errorf("parse request_timeout: %w", err)
		}
		c.RequestTimeout = d
	}
	if f.RevealInterval != "" {
		d, err := time.ParseDuration(f.RevealInterval)
		if err != nil {
			return fmt.Errorf("parse reveal_interval: %w", err)
		}
		c.RevealInterval = d
	}
	if f.MaxUploadBytes != 0 {
		c.MaxUploadBytes = f.MaxUploadBytes
	}
	if f.Apology != "" {
		c.Apology = f.Apology
	}
	if f.SessionID != "" {
		c.SessionID = f.SessionID
	}
	if f.LogFile != "" {
		c.LogFile = f.LogFile
	}
	if f.LogLevel != "" {
		c.LogLevel = f.LogLevel
	}
	if f.GlamourStyle != "" {
		c.GlamourStyle = f.GlamourStyle
	}
	if f.FeedPath != "" {
		c.FeedPath = f.FeedPath
	}
	return nil
}

// Validate checks that the client configuration is usable.
func (c *ClientConfig) Validate() error {
	u, err := url.Parse(c.AgentURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("CHAT_AGENT_URL must be an http(s) URL, got %q", c.AgentURL)
	}
	if c.RequestTimeout <= 0 {
		return errors.New("CHAT_REQUEST_TIMEOUT must be > 0")
	}
	if c.RevealInterval <= 0 {
		return errors.New("CHAT_REVEAL_INTERVAL must be > 0")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("CHAT_MAX_UPLOAD_BYTES must be > 0")
	}
	if strings.TrimSpace(c.Apology) == "" {
		return errors.New("CHAT_APOLOGY cannot be empty")
	}
	if !strings.HasPrefix(c.FeedPath, "/") {
		return fmt.Errorf("CHAT_FEED_PATH must start with /, got %q", c.FeedPath)
	}
	return nil
}

// FeedURL returns the websocket URL of the server transcript feed.
func (c *ClientConfig) FeedURL() string {
	u, err := url.Parse(c.AgentURL)
	if err != nil {
		return ""
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + c.FeedPath
	return u.String()
}
