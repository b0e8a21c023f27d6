package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	os.Unsetenv("PORT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "8000" {
		t.Errorf("Port = %q, want 8000", cfg.Port)
	}
	if cfg.Provider != ProviderEcho {
		t.Errorf("Provider = %q, want %q", cfg.Provider, ProviderEcho)
	}
	if cfg.RateLimit.RequestsPerWindow != 30 || cfg.RateLimit.WindowDuration != time.Minute {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
		t.Errorf("CORSOrigins = %v, want [*]", cfg.CORSOrigins)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9001")
	t.Setenv("AGENT_PROVIDER", "OpenAI")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test,")
	t.Setenv("CONVERSATION_LOG_ENABLED", "off")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "9001" || cfg.Provider != ProviderOpenAI {
		t.Errorf("Port/Provider = %q/%q", cfg.Port, cfg.Provider)
	}
	if cfg.RateLimit.WindowDuration != 30*time.Second {
		t.Errorf("WindowDuration = %v, want 30s", cfg.RateLimit.WindowDuration)
	}
	if strings.Join(cfg.CORSOrigins, "|") != "http://a.test|http://b.test" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
	if cfg.ConversationLog.Enabled {
		t.Error("ConversationLog.Enabled = true, want false")
	}
}

func TestLoadRejectsOpenAIWithoutKey(t *testing.T) {
	t.Setenv("AGENT_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("Load() succeeded without OPENAI_API_KEY")
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	t.Setenv("AGENT_PROVIDER", "carrier-pigeon")

	if _, err := Load(); err == nil {
		t.Fatal("Load() accepted an unknown provider")
	}
}

func TestIsDevelopment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url  string
		want bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"http://127.0.0.1:3000", true},
		{"https://chat.example.com", false},
	}
	for _, tt := range tests {
		c := &Config{FrontendURL: tt.url}
		if got := c.IsDevelopment(); got != tt.want {
			t.Errorf("IsDevelopment(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestLoadClientDefaults(t *testing.T) {
	cfg, err := LoadClient("")
	if err != nil {
		t.Fatalf("LoadClient() error = %v", err)
	}
	if cfg.AgentURL != "http://localhost:8000" {
		t.Errorf("AgentURL = %q", cfg.AgentURL)
	}
	if cfg.RevealInterval != 10*time.Millisecond {
		t.Errorf("RevealInterval = %v, want 10ms", cfg.RevealInterval)
	}
	if cfg.SessionID == "" {
		t.Error("SessionID should be generated")
	}
	if cfg.Apology != DefaultApology {
		t.Errorf("Apology = %q", cfg.Apology)
	}
}

func TestLoadClientFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.yaml")
	content := `
agent_url: http://backend:8000/
reveal_interval: 25ms
apology: "Maaf, terjadi kesalahan."
session_id: from-file
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CHAT_SESSION_ID", "from-env")

	cfg, err := LoadClient(path)
	if err != nil {
		t.Fatalf("LoadClient() error = %v", err)
	}
	if cfg.AgentURL != "http://backend:8000" {
		t.Errorf("AgentURL = %q, want trailing slash trimmed", cfg.AgentURL)
	}
	if cfg.RevealInterval != 25*time.Millisecond {
		t.Errorf("RevealInterval = %v, want 25ms", cfg.RevealInterval)
	}
	if cfg.Apology != "Maaf, terjadi kesalahan." {
		t.Errorf("Apology = %q", cfg.Apology)
	}
	if cfg.SessionID != "from-env" {
		t.Errorf("SessionID = %q, want env to win", cfg.SessionID)
	}
}

func TestLoadClientRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.yaml")
	if err := os.WriteFile(path, []byte("reveal_interval: soon\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadClient(path); err == nil {
		t.Fatal("LoadClient() accepted an invalid duration")
	}
	if _, err := LoadClient(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("LoadClient() accepted a missing file")
	}
}

func TestLoadClientRejectsBadURL(t *testing.T) {
	t.Setenv("CHAT_AGENT_URL", "backend:8000")
	if _, err := LoadClient(""); err == nil {
		t.Fatal("LoadClient() accepted a URL without scheme")
	}
}

func TestFeedURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		agent string
		want  string
	}{
		{"http://localhost:8000", "ws://localhost:8000/ws/feed"},
		{"https://chat.example.com/base", "wss://chat.example.com/base/ws/feed"},
	}
	for _, tt := range tests {
		c := &ClientConfig{AgentURL: tt.agent, FeedPath: "/ws/feed"}
		if got := c.FeedURL(); got != tt.want {
			t.Errorf("FeedURL(%q) = %q, want %q", tt.agent, got, tt.want)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
