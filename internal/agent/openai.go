package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const systemPrompt = `You are a helpful assistant in a chat application.
Answer in the language the user writes in. Use Markdown when it helps readability.
When a document is attached, base your answer on its content and say so if the excerpt is not enough.`

// OpenAIProcessor answers through an OpenAI-compatible chat completions API.
type OpenAIProcessor struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAIProcessor creates a processor for the API at baseURL (for example
// https://api.openai.com/v1).
func NewOpenAIProcessor(baseURL, apiKey, model string, timeout time.Duration) *OpenAIProcessor {
	return &OpenAIProcessor{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name returns "openai".
func (p *OpenAIProcessor) Name() string { return "openai" }

type chatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model    string                  `json:"model"`
	Messages []chatCompletionMessage `json:"messages"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      chatCompletionMessage `json:"message"`
		FinishReason string                `json:"finish_reason"`
	} `json:"choices"`
}

// Process sends the prompt with its session history and returns the first choice.
func (p *OpenAIProcessor) Process(ctx context.Context, prompt Prompt) (string, error) {
	payload, err := json.Marshal(chatCompletionRequest{
		Model:    p.model,
		Messages: buildMessages(prompt),
	})
	if err != nil {
		return "", fmt.Errorf("openai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("openai: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("openai: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("openai: status=%d body=%s", resp.StatusCode, snippet(body))
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("openai: parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("openai: response has no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func buildMessages(prompt Prompt) []chatCompletionMessage {
	msgs := make([]chatCompletionMessage, 0, len(prompt.History)+2)
	msgs = append(msgs, chatCompletionMessage{Role: "system", Content: systemPrompt})
	for _, h := range prompt.History {
		msgs = append(msgs, chatCompletionMessage{Role: h.Role, Content: h.Content})
	}

	var user strings.Builder
	user.WriteString(prompt.Message)
	if doc := prompt.Document; doc != nil {
		if user.Len() > 0 {
			user.WriteString("\n\n")
		}
		fmt.Fprintf(&user, "Attached document: %s (%s)", doc.Name, doc.Type)
		if prompt.DocumentExcerpt != "" {
			fmt.Fprintf(&user, "\n---\n%s\n---", prompt.DocumentExcerpt)
		}
	}
	msgs = append(msgs, chatCompletionMessage{Role: "user", Content: user.String()})
	return msgs
}
