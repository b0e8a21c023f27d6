package turn

import (
	"github.com/ashureev/agent-chat/internal/domain"
)

// State is the orchestrator position in the turn cycle.
type State int

const (
	// StateIdle accepts a new submission.
	StateIdle State = iota
	// StateSending waits for the agent reply.
	StateSending
	// StateRevealing plays the reply back.
	StateRevealing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateRevealing:
		return "revealing"
	default:
		return "unknown"
	}
}

// Snapshot is everything a view needs to render the conversation.
type Snapshot struct {
	Messages   []domain.Message
	State      State
	RevealID   string
	RevealText string
	Attachment *domain.PendingFile
}

// Sending reports whether a request is in flight.
func (s Snapshot) Sending() bool {
	return s.State == StateSending
}

// Revealing reports whether a reply is being played back.
func (s Snapshot) Revealing() bool {
	return s.State == StateRevealing
}

// Busy reports whether new submissions are refused.
func (s Snapshot) Busy() bool {
	return s.State != StateIdle
}

// Display returns the text to show for m, which is the live reveal text
// while m is being revealed.
func (s Snapshot) Display(m domain.Message) string {
	if s.RevealID != "" && m.ID == s.RevealID {
		return s.RevealText
	}
	return m.Content
}
