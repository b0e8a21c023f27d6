package agent

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/agent-chat/internal/api"
	"github.com/ashureev/agent-chat/internal/domain"
	"github.com/ashureev/agent-chat/internal/identity"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

const (
	// defaultMaxRequestBodySize is the default maximum JSON request body size (1MB).
	defaultMaxRequestBodySize = 1 << 20
	// multipartMemory is how much of a multipart body is kept in memory.
	multipartMemory = 8 << 20
	// multipartOverhead is allowed on top of the upload limit for form fields and boundaries.
	multipartOverhead = 64 << 10
)

// HandlerConfig holds the limits the handler enforces.
type HandlerConfig struct {
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	MaxRequestBodySize int64
	MaxUploadBytes     int64
}

// Handler serves the agent endpoints.
type Handler struct {
	service     *Service
	documents   *Documents
	rateLimiter *RateLimiter
	maxBodySize int64
	maxUpload   int64
	log         ConversationLogger
}

// RateLimiter implements a sliding-window limiter per client key.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time
	done     chan struct{}
	once     sync.Once
}

// NewRateLimiter creates a new rate limiter and starts the background eviction goroutine.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	rl.startEviction()
	return rl
}

// Allow checks if a request is allowed for the given key.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	recent := r.fresh(r.requests[key], now)
	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// Stop ends the eviction goroutine.
func (r *RateLimiter) Stop() {
	r.once.Do(func() { close(r.done) })
}

func (r *RateLimiter) fresh(times []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-r.window)
	var recent []time.Time
	for _, t := range times {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	return recent
}

// startEviction periodically removes keys without recent requests.
func (r *RateLimiter) startEviction() {
	go func() {
		ticker := time.NewTicker(r.window)
		defer ticker.Stop()
		for {
			select {
			case <-r.done:
				return
			case <-ticker.C:
				r.evict()
			}
		}
	}()
}

func (r *RateLimiter) evict() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for key, times := range r.requests {
		if fresh := r.fresh(times, now); len(fresh) == 0 {
			delete(r.requests, key)
		} else {
			r.requests[key] = fresh
		}
	}
}

// NewHandler creates the agent handler.
func NewHandler(service *Service, documents *Documents, conversationLogger ConversationLogger, cfg HandlerConfig) *Handler {
	if conversationLogger == nil {
		conversationLogger = noopConversationLogger{}
	}
	if cfg.RateLimitRequests <= 0 {
		cfg.RateLimitRequests = 10
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxRequestBodySize <= 0 {
		cfg.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20 << 20
	}
	return &Handler{
		service:     service,
		documents:   documents,
		rateLimiter: NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		maxBodySize: cfg.MaxRequestBodySize,
		maxUpload:   cfg.MaxUploadBytes,
		log:         conversationLogger,
	}
}

// RegisterRoutes registers the agent routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post(ChatPath, h.HandleChat)
	r.Post(DocumentPath, h.HandleDocument)
}

// Close releases handler resources.
func (h *Handler) Close() {
	h.rateLimiter.Stop()
	if err := h.log.Close(); err != nil {
		slog.Warn("failed to close conversation logger", "error", err)
	}
}

// HandleChat handles POST /api/agent.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	if !h.allow(r) {
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		api.Error(w, http.StatusUnsupportedMediaType, "only application/json is accepted")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Message == "" {
		h.logResponse(r, sessionID, MessageRequiredResponse, ResponseTypeValidation, nil)
		api.JSON(w, http.StatusOK, ChatResponse{Response: MessageRequiredResponse})
		return
	}

	h.logUserMessage(r, sessionID, req.Message, nil)
	h.answer(w, r, sessionID, req.Message, nil)
}

// HandleDocument handles POST /api/agent/document.
func (h *Handler) HandleDocument(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	if !h.allow(r) {
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Error(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			slog.Debug("failed to remove multipart temp files", "error", err)
		}
	}()

	values, ok := r.MultipartForm.Value[FieldMessage]
	if !ok {
		api.Error(w, http.StatusBadRequest, "message field is required")
		return
	}
	message := values[0]

	file, header, err := r.FormFile(FieldFile)
	if err != nil {
		api.Error(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer func() { _ = file.Close() }()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	doc, err := h.documents.Save(r.Context(), sessionID, header.Filename, contentType, file)
	if err != nil {
		if errors.Is(err, ErrUploadTooLarge) {
			api.Error(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		slog.Error("Failed to save document", "session_id", sessionID, "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to store document")
		return
	}

	h.logUserMessage(r, sessionID, message, doc)
	h.answer(w, r, sessionID, message, doc)
}

func (h *Handler) answer(w http.ResponseWriter, r *http.Request, sessionID, message string, doc *domain.Document) {
	turn, err := h.service.Answer(r.Context(), sessionID, message, doc)
	responseType := ResponseTypeAnswer
	if err != nil {
		responseType = ResponseTypeFallback
	}
	h.logResponse(r, sessionID, turn.Response, responseType, map[string]any{
		"turn_id":  turn.ID,
		"provider": turn.Provider,
	})
	api.JSON(w, http.StatusOK, ChatResponse{UserMessage: message, Response: turn.Response})
}

func (h *Handler) allow(r *http.Request) bool {
	key := identity.ClientKeyFromContext(r.Context())
	if key == "" {
		key = identity.IPFromRequest(r)
	}
	return h.rateLimiter.Allow(key)
}

func (h *Handler) logUserMessage(r *http.Request, sessionID, message string, doc *domain.Document) {
	meta := map[string]any{
		"request_id": chiMiddleware.GetReqID(r.Context()),
	}
	channel := "chat_http"
	if doc != nil {
		channel = "document_http"
		meta["document_id"] = doc.ID
		meta["document_name"] = doc.Name
		meta["document_type"] = string(doc.Type)
		meta["size_bytes"] = doc.SizeBytes
	}
	slog.Info("Agent request",
		"session_id", sessionID,
		"channel", channel,
		"message_length", len(message),
	)
	h.log.Log(ConversationLogEvent{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		SessionID:  sessionID,
		ClientID:   identity.ClientKeyFromContext(r.Context()),
		Channel:    channel,
		Direction:  "outbound",
		EventType:  "chat_user_message",
		ContentRaw: message,
		Content:    cleanForReadability(message),
		Meta:       meta,
	})
}

func (h *Handler) logResponse(r *http.Request, sessionID, response string, responseType ResponseType, meta map[string]any) {
	if meta == nil {
		meta = make(map[string]any)
	}
	meta["request_id"] = chiMiddleware.GetReqID(r.Context())
	meta["response_type"] = string(responseType)
	h.log.Log(ConversationLogEvent{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		SessionID:  sessionID,
		ClientID:   identity.ClientKeyFromContext(r.Context()),
		Channel:    "chat_http",
		Direction:  "inbound",
		EventType:  "chat_assistant_message",
		ContentRaw: response,
		Content:    cleanForReadability(response),
		Meta:       meta,
	})
}
