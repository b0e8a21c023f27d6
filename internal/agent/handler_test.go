package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/agent-chat/internal/domain"
	"github.com/ashureev/agent-chat/internal/identity"
	"github.com/go-chi/chi/v5"
)

type testServer struct {
	url       string
	repo      *fakeRepo
	processor *fakeProcessor
	publisher *recordingPublisher
	docsDir   string
}

func newTestServer(t *testing.T, cfg HandlerConfig) *testServer {
	t.Helper()

	repo := newFakeRepo()
	processor := &fakeProcessor{reply: "world"}
	publisher := &recordingPublisher{}
	docsDir := filepath.Join(t.TempDir(), "documents")
	docs, err := NewDocuments(docsDir, cfg.MaxUploadBytes, repo, nil)
	if err != nil {
		t.Fatalf("NewDocuments() error = %v", err)
	}
	service := NewService(processor, repo, docs, nil, WithPublisher(publisher), WithHistoryTurns(5))
	h := NewHandler(service, docs, nil, cfg)
	t.Cleanup(h.Close)

	r := chi.NewRouter()
	r.Use(identity.Middleware)
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testServer{url: srv.URL, repo: repo, processor: processor, publisher: publisher, docsDir: docsDir}
}

func defaultHandlerConfig() HandlerConfig {
	return HandlerConfig{RateLimitRequests: 100, RateLimitWindow: time.Minute, MaxUploadBytes: 1 << 20}
}

func TestHandleChatRoundTrip(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, defaultHandlerConfig())
	c := NewClient(ts.url, nil, WithSessionID("sess-1"))

	got, err := c.Send(context.Background(), Request{Message: "hello"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got != "world" {
		t.Fatalf("Send() = %q, want world", got)
	}
	if ts.repo.turnCount() != 1 || ts.publisher.count() != 1 {
		t.Fatalf("turns = %d, published = %d, want 1 and 1", ts.repo.turnCount(), ts.publisher.count())
	}
	if p := ts.processor.lastPrompt(); p.SessionID != "sess-1" || p.Message != "hello" {
		t.Fatalf("prompt = %+v", p)
	}
}

func TestHandleChatPassesHistory(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, defaultHandlerConfig())
	c := NewClient(ts.url, nil, WithSessionID("sess-h"))
	for _, msg := range []string{"first", "second"} {
		if _, err := c.Send(context.Background(), Request{Message: msg}); err != nil {
			t.Fatalf("Send(%q) error = %v", msg, err)
		}
	}

	p := ts.processor.lastPrompt()
	if len(p.History) != 2 {
		t.Fatalf("history = %+v, want one user/assistant pair", p.History)
	}
	if p.History[0].Role != "user" || p.History[0].Content != "first" || p.History[1].Content != "world" {
		t.Fatalf("history = %+v", p.History)
	}
}

func TestHandleChatRejectsNonJSON(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, defaultHandlerConfig())
	resp, err := http.Post(ts.url+ChatPath, "text/plain", strings.NewReader(`{"message":"hi"}`))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", resp.StatusCode)
	}
}

func TestHandleChatEmptyMessage(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, defaultHandlerConfig())
	got, err := NewClient(ts.url, nil).Send(context.Background(), Request{Message: ""})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got != MessageRequiredResponse {
		t.Fatalf("Send() = %q, want %q", got, MessageRequiredResponse)
	}
	if ts.repo.turnCount() != 0 {
		t.Fatalf("empty message recorded a turn")
	}
}

func TestHandleChatBadBody(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, defaultHandlerConfig())
	resp, err := http.Post(ts.url+ChatPath, "application/json", strings.NewReader(`{"message":`))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleChatBodyTooLarge(t *testing.T) {
	t.Parallel()

	cfg := defaultHandlerConfig()
	cfg.MaxRequestBodySize = 32
	ts := newTestServer(t, cfg)

	body, _ := json.Marshal(ChatRequest{Message: strings.Repeat("x", 100)})
	resp, err := http.Post(ts.url+ChatPath, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", resp.StatusCode)
	}
}

func TestHandleChatProcessorFailureAnswersFallback(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, defaultHandlerConfig())
	ts.processor.mu.Lock()
	ts.processor.err = errProcessor
	ts.processor.mu.Unlock()

	got, err := NewClient(ts.url, nil).Send(context.Background(), Request{Message: "hello"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got != FallbackResponse {
		t.Fatalf("Send() = %q, want fallback", got)
	}
	turns, _ := ts.repo.RecentTurns(context.Background(), identity.DefaultSessionIDValue, 10)
	if len(turns) != 1 || !turns[0].Failed {
		t.Fatalf("turns = %+v, want one failed turn", turns)
	}
}

func TestHandleChatRateLimit(t *testing.T) {
	t.Parallel()

	cfg := defaultHandlerConfig()
	cfg.RateLimitRequests = 1
	ts := newTestServer(t, cfg)
	c := NewClient(ts.url, nil)

	if _, err := c.Send(context.Background(), Request{Message: "one"}); err != nil {
		t.Fatalf("first Send() error = %v", err)
	}
	_, err := c.Send(context.Background(), Request{Message: "two"})
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second Send() error = %v, want 429", err)
	}
}

func TestHandleDocumentRoundTrip(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, defaultHandlerConfig())
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("line one\nline two\n"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	got, err := NewClient(ts.url, nil, WithSessionID("sess-d")).Send(context.Background(), Request{
		Message: "summarize",
		File:    &domain.PendingFile{Path: path, Name: "notes.txt", SizeBytes: 18},
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got != "world" {
		t.Fatalf("Send() = %q", got)
	}

	p := ts.processor.lastPrompt()
	if p.Document == nil {
		t.Fatal("prompt has no document")
	}
	if p.Document.Type != domain.DocumentText || p.Document.Name != "notes.txt" || p.Document.SizeBytes != 18 {
		t.Fatalf("document = %+v", p.Document)
	}
	if !strings.Contains(p.DocumentExcerpt, "line one") {
		t.Fatalf("excerpt = %q", p.DocumentExcerpt)
	}
	if ts.repo.documentCount() != 1 {
		t.Fatalf("documents recorded = %d, want 1", ts.repo.documentCount())
	}
	entries, err := os.ReadDir(ts.docsDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("documents dir entries = %v, %v", entries, err)
	}
}

func TestHandleDocumentPDFWithEmptyMessage(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, defaultHandlerConfig())
	path := filepath.Join(t.TempDir(), "a.pdf")
	if err := os.WriteFile(path, bytes.Repeat([]byte("p"), 100), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	_, err := NewClient(ts.url, nil).Send(context.Background(), Request{
		Message: "",
		File:    &domain.PendingFile{Path: path, Name: "a.pdf", SizeBytes: 100},
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	p := ts.processor.lastPrompt()
	if p.Message != "" || p.Document == nil || p.Document.Type != domain.DocumentPDF {
		t.Fatalf("prompt = %+v", p)
	}
	if p.DocumentExcerpt != "" {
		t.Fatalf("pdf produced a text excerpt: %q", p.DocumentExcerpt)
	}
}

func TestHandleDocumentTooLarge(t *testing.T) {
	t.Parallel()

	cfg := defaultHandlerConfig()
	cfg.MaxUploadBytes = 10
	ts := newTestServer(t, cfg)
	path := filepath.Join(t.TempDir(), "big.txt")
	if err := os.WriteFile(path, bytes.Repeat([]byte("x"), 100), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	_, err := NewClient(ts.url, nil).Send(context.Background(), Request{
		File: &domain.PendingFile{Path: path, Name: "big.txt"},
	})
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("Send() error = %v, want 413", err)
	}
	if ts.repo.documentCount() != 0 {
		t.Fatal("oversized upload was recorded")
	}
	entries, _ := os.ReadDir(ts.docsDir)
	if len(entries) != 0 {
		t.Fatalf("oversized upload left %d files", len(entries))
	}
}

func TestHandleDocumentMissingFields(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, defaultHandlerConfig())

	tests := []struct {
		name  string
		build func(mw *multipart.Writer)
	}{
		{name: "no file", build: func(mw *multipart.Writer) { _ = mw.WriteField(FieldMessage, "hi") }},
		{name: "no message", build: func(mw *multipart.Writer) {
			part, _ := mw.CreateFormFile(FieldFile, "a.txt")
			_, _ = part.Write([]byte("x"))
		}},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		tt.build(mw)
		_ = mw.Close()

		resp, err := http.Post(ts.url+DocumentPath, mw.FormDataContentType(), &buf)
		if err != nil {
			t.Fatalf("%s: POST error = %v", tt.name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", tt.name, resp.StatusCode)
		}
	}
}

func TestRateLimiterWindow(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("a") {
		t.Fatal("third request in window should be limited")
	}
	if !rl.Allow("b") {
		t.Fatal("other keys are independent")
	}

	now = now.Add(61 * time.Second)
	if !rl.Allow("a") {
		t.Fatal("request after the window should pass")
	}
	rl.evict()
	rl.mu.Lock()
	_, hasB := rl.requests["b"]
	rl.mu.Unlock()
	if hasB {
		t.Fatal("evict kept a key without recent requests")
	}
}
