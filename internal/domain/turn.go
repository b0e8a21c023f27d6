package domain

import (
	"time"
)

// Turn is one answered exchange recorded by the agent server.
type Turn struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	UserMessage string    `json:"user_message"`
	Response    string    `json:"response"`
	DocumentID  string    `json:"document_id,omitempty"`
	Provider    string    `json:"provider"`
	Failed      bool      `json:"failed"`
	CreatedAt   time.Time `json:"created_at"`
}

// StoredMessage is a serialized chat message entry used as model history.
type StoredMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// History expands turns (oldest first) into alternating user/assistant entries.
// Failed turns are skipped so fallback text never reaches the model.
func History(turns []*Turn) []StoredMessage {
	out := make([]StoredMessage, 0, len(turns)*2)
	for _, t := range turns {
		if t == nil || t.Failed {
			continue
		}
		out = append(out,
			StoredMessage{Role: "user", Content: t.UserMessage},
			StoredMessage{Role: "assistant", Content: t.Response},
		)
	}
	return out
}
