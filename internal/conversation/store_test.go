package conversation

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ashureev/agent-chat/internal/domain"
)

func newTestStore() *Store {
	n := 0
	base := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	return New(nil,
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("m%d", n)
		}),
		WithClock(func() time.Time {
			return base.Add(time.Duration(n) * time.Second)
		}),
	)
}

func TestAppendUserTurn(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		text    string
		att     *domain.Attachment
		wantErr error
	}{
		{name: "text only", text: "hello"},
		{name: "attachment only", att: &domain.Attachment{Name: "a.pdf", SizeBytes: 100}},
		{name: "text and attachment", text: "see file", att: &domain.Attachment{Name: "a.txt", SizeBytes: 1}},
		{name: "empty", text: "", wantErr: ErrEmptyTurn},
		{name: "whitespace", text: "  \n\t", wantErr: ErrEmptyTurn},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := newTestStore()
			msg, err := s.AppendUserTurn(tt.text, tt.att)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("AppendUserTurn() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				if s.Len() != 0 {
					t.Fatalf("Len() = %d after rejected turn, want 0", s.Len())
				}
				return
			}
			if msg.Role != domain.RoleUser || msg.Content != tt.text {
				t.Fatalf("message = %+v", msg)
			}
			if (msg.Attachment != nil) != (tt.att != nil) {
				t.Fatalf("attachment = %+v, want %+v", msg.Attachment, tt.att)
			}
			if msg.CreatedAt.IsZero() || msg.ID == "" {
				t.Fatalf("message missing id or timestamp: %+v", msg)
			}
		})
	}
}

func TestAppendUserTurnCopiesAttachment(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	att := &domain.Attachment{Name: "a.pdf", SizeBytes: 100}
	msg, err := s.AppendUserTurn("", att)
	if err != nil {
		t.Fatalf("AppendUserTurn() error = %v", err)
	}
	att.Name = "changed.pdf"
	msg.Attachment.SizeBytes = 7

	got, _ := s.Get(msg.ID)
	if got.Attachment.Name != "a.pdf" || got.Attachment.SizeBytes != 100 {
		t.Fatalf("stored attachment mutated: %+v", got.Attachment)
	}
}

func TestPlaceholderCommitOnce(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	if _, err := s.AppendUserTurn("hello", nil); err != nil {
		t.Fatalf("AppendUserTurn() error = %v", err)
	}
	ph, err := s.AppendAgentPlaceholder()
	if err != nil {
		t.Fatalf("AppendAgentPlaceholder() error = %v", err)
	}
	if ph.Role != domain.RoleAgent || ph.Content != "" {
		t.Fatalf("placeholder = %+v", ph)
	}
	if s.PendingID() != ph.ID {
		t.Fatalf("PendingID() = %q, want %q", s.PendingID(), ph.ID)
	}

	if _, err := s.AppendAgentPlaceholder(); !errors.Is(err, ErrPlaceholderPending) {
		t.Fatalf("second placeholder error = %v, want ErrPlaceholderPending", err)
	}

	if err := s.CommitAgentContent(ph.ID, "world"); err != nil {
		t.Fatalf("CommitAgentContent() error = %v", err)
	}
	if err := s.CommitAgentContent(ph.ID, "again"); !errors.Is(err, ErrNotPending) {
		t.Fatalf("second commit error = %v, want ErrNotPending", err)
	}

	got, _ := s.Get(ph.ID)
	if got.Content != "world" {
		t.Fatalf("content = %q, want %q", got.Content, "world")
	}
	if s.PendingID() != "" {
		t.Fatalf("PendingID() = %q after commit, want empty", s.PendingID())
	}
}

func TestCommitRejectsUnknownAndUserMessages(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	user, _ := s.AppendUserTurn("hello", nil)

	if err := s.CommitAgentContent("missing", "x"); !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("unknown id error = %v, want ErrUnknownMessage", err)
	}
	if err := s.CommitAgentContent(user.ID, "x"); !errors.Is(err, ErrNotPending) {
		t.Fatalf("user message error = %v, want ErrNotPending", err)
	}
	got, _ := s.Get(user.ID)
	if got.Content != "hello" {
		t.Fatalf("user content changed to %q", got.Content)
	}
}

func TestCommitEmptyContent(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	ph, _ := s.AppendAgentPlaceholder()
	if err := s.CommitAgentContent(ph.ID, ""); err != nil {
		t.Fatalf("CommitAgentContent() error = %v", err)
	}
	if _, err := s.AppendAgentPlaceholder(); err != nil {
		t.Fatalf("placeholder after empty commit error = %v", err)
	}
}

func TestMessagesAreAppendOnlyAndCopied(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	for i := 0; i < 3; i++ {
		if _, err := s.AppendUserTurn(fmt.Sprintf("q%d", i), nil); err != nil {
			t.Fatalf("AppendUserTurn() error = %v", err)
		}
		s.AppendAgentMessage(fmt.Sprintf("a%d", i))
	}

	msgs := s.Messages()
	if len(msgs) != 6 {
		t.Fatalf("len(Messages()) = %d, want 6", len(msgs))
	}
	for i, m := range msgs {
		wantRole := domain.RoleUser
		if i%2 == 1 {
			wantRole = domain.RoleAgent
		}
		if m.Role != wantRole {
			t.Fatalf("message %d role = %s, want %s", i, m.Role, wantRole)
		}
		if i > 0 && !m.CreatedAt.After(msgs[i-1].CreatedAt) {
			t.Fatalf("message %d created before message %d", i, i-1)
		}
	}

	msgs[0].Content = "tampered"
	if got := s.Messages()[0].Content; got != "q0" {
		t.Fatalf("Messages() exposed internal slice, content = %q", got)
	}
}

func TestAttachmentSlot(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	s.ClearAttachment()
	if _, ok := s.Attachment(); ok {
		t.Fatal("Attachment() reported a file on an empty slot")
	}

	s.SetAttachment(domain.PendingFile{Path: "/tmp/a.pdf", Name: "a.pdf", SizeBytes: 100})
	s.SetAttachment(domain.PendingFile{Path: "/tmp/b.txt", Name: "b.txt", SizeBytes: 5})
	f, ok := s.Attachment()
	if !ok || f.Name != "b.txt" {
		t.Fatalf("Attachment() = %+v, %v, want b.txt", f, ok)
	}

	s.ClearAttachment()
	s.ClearAttachment()
	if _, ok := s.Attachment(); ok {
		t.Fatal("Attachment() still set after clear")
	}
	if s.Len() != 0 {
		t.Fatalf("clearing the slot changed the conversation, Len() = %d", s.Len())
	}
}

func TestDefaultIDsAreUnique(t *testing.T) {
	t.Parallel()

	s := New(nil)
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		m := s.AppendAgentMessage("x")
		if seen[m.ID] {
			t.Fatalf("duplicate id %q", m.ID)
		}
		seen[m.ID] = true
	}
}
