package tui

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ashureev/agent-chat/internal/domain"
)

// RunOnce sends a single turn and streams the revealed reply to out.
// It returns once the turn has settled.
func RunOnce(ctx context.Context, b *Bridge, text, file string, out io.Writer) error {
	if file != "" {
		if _, err := b.Attach(file); err != nil {
			return err
		}
	}

	current, err := b.Snapshot()
	if err != nil {
		return err
	}
	base := len(current.Messages)

	if err := b.Submit(text); err != nil {
		return err
	}

	printed := ""
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-b.Updates():
			if s.Revealing() && strings.HasPrefix(s.RevealText, printed) {
				if _, err := io.WriteString(out, s.RevealText[len(printed):]); err != nil {
					return fmt.Errorf("write reply: %w", err)
				}
				printed = s.RevealText
				continue
			}
			if s.Busy() || len(s.Messages) < base+2 {
				continue
			}
			reply := s.Messages[len(s.Messages)-1]
			if reply.Role != domain.RoleAgent {
				continue
			}
			rest := reply.Content
			if strings.HasPrefix(rest, printed) {
				rest = rest[len(printed):]
			}
			if _, err := io.WriteString(out, rest+"\n"); err != nil {
				return fmt.Errorf("write reply: %w", err)
			}
			return nil
		}
	}
}
