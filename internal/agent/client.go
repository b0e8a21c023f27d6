package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/agent-chat/internal/identity"
)

const maxResponseBytes = 4 << 20

var (
	// ErrStatus is wrapped by StatusError.
	ErrStatus = errors.New("agent returned non-success status")
	// ErrMalformedResponse is returned when the body is not {"response": string}.
	ErrMalformedResponse = errors.New("malformed agent response")
)

// StatusError reports a non-2xx answer from the agent endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("agent returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("agent returned status %d: %s", e.StatusCode, e.Body)
}

// Unwrap lets errors.Is match ErrStatus.
func (e *StatusError) Unwrap() error {
	return ErrStatus
}

// Client sends turns to an agent endpoint. It makes exactly one attempt per turn.
type Client struct {
	baseURL    string
	httpClient *http.Client
	sessionID  string
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithSessionID sends the session id header with every request.
func WithSessionID(id string) ClientOption {
	return func(c *Client) {
		c.sessionID = id
	}
}

// NewClient creates a client for the agent at baseURL.
func NewClient(baseURL string, logger *slog.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send dispatches one turn and returns the agent's full response text.
// A request with a file goes to the document endpoint as multipart,
// otherwise to the chat endpoint as JSON.
func (c *Client) Send(ctx context.Context, req Request) (string, error) {
	var (
		httpReq *http.Request
		err     error
	)
	if req.File != nil {
		httpReq, err = c.newDocumentRequest(ctx, req)
	} else {
		httpReq, err = c.newChatRequest(ctx, req)
	}
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.sessionID != "" {
		httpReq.Header.Set(identity.SessionHeaderName, c.sessionID)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("agent request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close agent response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read agent response: %w", err)
	}

	c.logger.Debug("agent responded",
		"path", httpReq.URL.Path,
		"status", resp.StatusCode,
		"bytes", len(body),
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: snippet(body)}
	}

	var parsed struct {
		Response *string `json:"response"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if parsed.Response == nil {
		return "", fmt.Errorf("%w: missing response field", ErrMalformedResponse)
	}
	return *parsed.Response, nil
}

func (c *Client) newChatRequest(ctx context.Context, req Request) (*http.Request, error) {
	payload, err := json.Marshal(ChatRequest{Message: req.Message})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ChatPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

func (c *Client) newDocumentRequest(ctx context.Context, req Request) (*http.Request, error) {
	f, err := os.Open(req.File.Path)
	if err != nil {
		return nil, fmt.Errorf("open attachment: %w", err)
	}
	defer func() { _ = f.Close() }()

	name := req.File.Name
	if name == "" {
		name = filepath.Base(req.File.Path)
	}
	contentType := req.File.ContentType
	if contentType == "" {
		contentType, err = DetectContentType(name, f)
		if err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField(FieldMessage, req.Message); err != nil {
		return nil, fmt.Errorf("write message field: %w", err)
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
		"name":     FieldFile,
		"filename": name,
	}))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("copy attachment: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+DocumentPath, &buf)
	if err != nil {
		return nil, fmt.Errorf("build document request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	return httpReq, nil
}

// DetectContentType picks a MIME type from the file extension, sniffing the
// first bytes of r when the extension is unknown. r is rewound if it can seek.
func DetectContentType(name string, r io.Reader) (string, error) {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct, nil
	}
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("sniff content type: %w", err)
	}
	if s, ok := r.(io.Seeker); ok {
		if _, err := s.Seek(0, io.SeekStart); err != nil {
			return "", fmt.Errorf("rewind attachment: %w", err)
		}
	}
	return http.DetectContentType(head[:n]), nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
