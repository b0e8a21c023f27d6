package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// Processor produces the agent's answer to one prompt.
type Processor interface {
	// Name identifies the processor in logs and turn records.
	Name() string

	// Process returns the complete response text.
	Process(ctx context.Context, prompt Prompt) (string, error)
}

// EchoProcessor answers without a model. It keeps the server usable offline.
type EchoProcessor struct{}

// NewEchoProcessor creates an echo processor.
func NewEchoProcessor() *EchoProcessor {
	return &EchoProcessor{}
}

// Name returns "echo".
func (EchoProcessor) Name() string { return "echo" }

// Process repeats the message and describes any attached document.
func (EchoProcessor) Process(ctx context.Context, prompt Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var b strings.Builder
	if msg := strings.TrimSpace(prompt.Message); msg != "" {
		fmt.Fprintf(&b, "You said: %s", msg)
	}
	if doc := prompt.Document; doc != nil {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Received **%s** (%s, %s).", doc.Name, doc.Type, humanize.IBytes(uint64(max(doc.SizeBytes, 0))))
		if prompt.DocumentExcerpt != "" {
			fmt.Fprintf(&b, "\n\n> %s", firstLine(prompt.DocumentExcerpt))
		}
	}
	if b.Len() == 0 {
		return MessageRequiredResponse, nil
	}
	return b.String(), nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

// Ensure processors implement Processor.
var (
	_ Processor = (*EchoProcessor)(nil)
	_ Processor = (*OpenAIProcessor)(nil)
)
