package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/agent-chat/internal/domain"
	"github.com/ashureev/agent-chat/internal/store"
	"github.com/google/uuid"
)

// TurnPublisher receives every recorded turn, for example a websocket feed.
type TurnPublisher interface {
	Publish(turn domain.Turn)
}

// Service answers turns with a Processor and records them.
type Service struct {
	processor    Processor
	repo         store.Repository
	documents    *Documents
	publisher    TurnPublisher
	historyTurns int
	now          func() time.Time
	logger       *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithPublisher forwards recorded turns to p.
func WithPublisher(p TurnPublisher) ServiceOption {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithHistoryTurns sets how many previous turns of a session reach the processor.
func WithHistoryTurns(n int) ServiceOption {
	return func(s *Service) {
		s.historyTurns = n
	}
}

// NewService creates a service. documents may be nil when uploads are disabled.
func NewService(processor Processor, repo store.Repository, documents *Documents, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		processor:    processor,
		repo:         repo,
		documents:    documents,
		historyTurns: 10,
		now:          time.Now,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Answer runs one turn. The returned turn is always usable: when the processor
// fails its Response is FallbackResponse, Failed is set and the error is returned.
func (s *Service) Answer(ctx context.Context, sessionID, message string, doc *domain.Document) (*domain.Turn, error) {
	prompt := Prompt{
		SessionID: sessionID,
		Message:   message,
		Document:  doc,
		History:   s.history(ctx, sessionID),
	}
	if doc != nil && s.documents != nil {
		prompt.DocumentExcerpt = s.documents.Excerpt(doc)
	}

	turn := &domain.Turn{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		UserMessage: message,
		Provider:    s.processor.Name(),
	}
	if doc != nil {
		turn.DocumentID = doc.ID
	}

	start := s.now()
	response, err := s.processor.Process(ctx, prompt)
	turn.CreatedAt = s.now()
	if err != nil {
		s.logger.Error("Agent processing failed",
			"session_id", sessionID,
			"provider", turn.Provider,
			"error", err,
		)
		turn.Response = FallbackResponse
		turn.Failed = true
	} else {
		turn.Response = response
		s.logger.Info("Agent answered",
			"session_id", sessionID,
			"provider", turn.Provider,
			"history_turns", len(prompt.History)/2,
			"response_length", len(response),
			"duration", turn.CreatedAt.Sub(start),
		)
	}

	// Recording must not depend on the caller still waiting.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if recErr := s.repo.AppendTurn(recordCtx, turn); recErr != nil {
		s.logger.Warn("failed to record turn", "session_id", sessionID, "turn_id", turn.ID, "error", recErr)
	}
	if s.publisher != nil {
		s.publisher.Publish(*turn)
	}
	return turn, err
}

func (s *Service) history(ctx context.Context, sessionID string) []domain.StoredMessage {
	if s.historyTurns <= 0 {
		return nil
	}
	turns, err := s.repo.RecentTurns(ctx, sessionID, s.historyTurns)
	if err != nil {
		s.logger.Warn("failed to load session history", "session_id", sessionID, "error", err)
		return nil
	}
	return domain.History(turns)
}

// ProcessorName returns the name of the configured processor.
func (s *Service) ProcessorName() string {
	return s.processor.Name()
}
