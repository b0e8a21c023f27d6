// Package conversation holds the ordered message list of one chat and the
// pending attachment slot. It is owned by the event loop and is not safe
// for concurrent use.
package conversation

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/agent-chat/internal/domain"
	"github.com/google/uuid"
)

var (
	// ErrEmptyTurn is returned when a user turn has neither text nor attachment.
	ErrEmptyTurn = errors.New("user turn needs text or an attachment")
	// ErrPlaceholderPending is returned when an agent placeholder is already outstanding.
	ErrPlaceholderPending = errors.New("agent placeholder already pending")
	// ErrUnknownMessage is returned when no message has the given id.
	ErrUnknownMessage = errors.New("unknown message")
	// ErrNotPending is returned when the message is not an uncommitted agent placeholder.
	ErrNotPending = errors.New("message is not a pending agent placeholder")
)

// Store is an append-only conversation.
type Store struct {
	messages []domain.Message
	index    map[string]int
	pending  string
	file     *domain.PendingFile
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator overrides message id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) {
		s.newID = newID
	}
}

// New creates an empty conversation.
func New(logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		index:  make(map[string]int),
		now:    time.Now,
		newID:  newMessageID,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// AppendUserTurn appends a user message. Text may be empty only when an
// attachment is present.
func (s *Store) AppendUserTurn(text string, att *domain.Attachment) (domain.Message, error) {
	if strings.TrimSpace(text) == "" && att == nil {
		return domain.Message{}, ErrEmptyTurn
	}
	var copied *domain.Attachment
	if att != nil {
		a := *att
		if a.SizeBytes < 0 {
			a.SizeBytes = 0
		}
		copied = &a
	}
	return s.append(domain.RoleUser, text, copied), nil
}

// AppendAgentPlaceholder appends an empty agent message to be filled later
// by CommitAgentContent.
func (s *Store) AppendAgentPlaceholder() (domain.Message, error) {
	if s.pending != "" {
		return domain.Message{}, fmt.Errorf("%w: %s", ErrPlaceholderPending, s.pending)
	}
	msg := s.append(domain.RoleAgent, "", nil)
	s.pending = msg.ID
	return msg, nil
}

// AppendAgentMessage appends an agent message whose content is already final.
func (s *Store) AppendAgentMessage(text string) domain.Message {
	return s.append(domain.RoleAgent, text, nil)
}

// CommitAgentContent fills the pending placeholder with its final text.
// A second commit for the same id, or an unknown id, changes nothing.
func (s *Store) CommitAgentContent(id, text string) error {
	i, ok := s.index[id]
	if !ok {
		s.logger.Warn("commit for unknown message", "message_id", id)
		return fmt.Errorf("%w: %s", ErrUnknownMessage, id)
	}
	if s.pending != id {
		s.logger.Warn("commit for message that is not pending", "message_id", id, "role", s.messages[i].Role)
		return fmt.Errorf("%w: %s", ErrNotPending, id)
	}
	s.messages[i].Content = text
	s.pending = ""
	return nil
}

func (s *Store) append(role domain.Role, text string, att *domain.Attachment) domain.Message {
	msg := domain.Message{
		ID:         s.newID(),
		Role:       role,
		Content:    text,
		Attachment: att,
		CreatedAt:  s.now(),
	}
	s.index[msg.ID] = len(s.messages)
	s.messages = append(s.messages, msg)
	return cloneMessage(msg)
}

// SetAttachment fills the pending attachment slot, replacing any previous file.
func (s *Store) SetAttachment(f domain.PendingFile) {
	s.file = &f
}

// Attachment returns the pending file, if any.
func (s *Store) Attachment() (domain.PendingFile, bool) {
	if s.file == nil {
		return domain.PendingFile{}, false
	}
	return *s.file, true
}

// ClearAttachment empties the pending slot. Clearing an empty slot is a no-op.
func (s *Store) ClearAttachment() {
	s.file = nil
}

// Messages returns a copy of the conversation in display order.
func (s *Store) Messages() []domain.Message {
	out := make([]domain.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = cloneMessage(m)
	}
	return out
}

// Len returns the number of messages.
func (s *Store) Len() int {
	return len(s.messages)
}

// Get returns a copy of the message with the given id.
func (s *Store) Get(id string) (domain.Message, bool) {
	i, ok := s.index[id]
	if !ok {
		return domain.Message{}, false
	}
	return cloneMessage(s.messages[i]), true
}

// PendingID returns the id of the outstanding agent placeholder, or "".
func (s *Store) PendingID() string {
	return s.pending
}

func cloneMessage(m domain.Message) domain.Message {
	if m.Attachment != nil {
		a := *m.Attachment
		m.Attachment = &a
	}
	return m
}
