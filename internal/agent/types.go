// Package agent implements the agent endpoint contract: the HTTP client the
// chat core dispatches turns through, and the reference server behind it.
package agent

import (
	"github.com/ashureev/agent-chat/internal/domain"
)

// Endpoint paths, relative to the agent base URL.
const (
	ChatPath     = "/api/agent"
	DocumentPath = "/api/agent/document"
)

// Fixed server answers.
const (
	// MessageRequiredResponse answers a JSON turn with an empty message.
	MessageRequiredResponse = "Message is required."
	// FallbackResponse answers a turn whose processor failed.
	FallbackResponse = "Sorry, something went wrong."
)

// Multipart field names of the document endpoint.
const (
	FieldMessage = "message"
	FieldFile    = "file"
)

// ChatRequest is the JSON body of POST /api/agent.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is the JSON body both endpoints answer with.
// The client only requires Response.
type ChatResponse struct {
	UserMessage string `json:"user_message,omitempty"`
	Response    string `json:"response"`
}

// Request is one outbound turn. File selects the document endpoint.
type Request struct {
	Message string
	File    *domain.PendingFile
}

// Prompt is what a Processor answers.
type Prompt struct {
	SessionID       string
	Message         string
	Document        *domain.Document
	DocumentExcerpt string
	History         []domain.StoredMessage
}

// ResponseType categorizes logged agent responses.
type ResponseType string

const (
	// ResponseTypeAnswer is a processor answer.
	ResponseTypeAnswer ResponseType = "answer"
	// ResponseTypeFallback is the fixed text sent when the processor failed.
	ResponseTypeFallback ResponseType = "fallback"
	// ResponseTypeValidation is a fixed answer to an invalid request.
	ResponseTypeValidation ResponseType = "validation"
)
