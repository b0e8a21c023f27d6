// Package domain contains core domain types for the agent chat client and server.
package domain

import (
	"strings"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	// RoleUser marks a message typed by the person at the keyboard.
	RoleUser Role = "user"
	// RoleAgent marks a message produced by the remote agent.
	RoleAgent Role = "agent"
)

// Attachment describes a file sent with a user message.
// It never carries file bytes, only what is needed for display.
type Attachment struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
}

// Message is a single entry in a conversation.
type Message struct {
	ID         string      `json:"id"`
	Role       Role        `json:"role"`
	Content    string      `json:"content"`
	Attachment *Attachment `json:"attachment,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// HasAttachment returns true if the message was sent with a file.
func (m Message) HasAttachment() bool {
	return m.Attachment != nil
}

// PendingFile is a file the user picked but has not sent yet.
type PendingFile struct {
	Path        string
	Name        string
	ContentType string
	SizeBytes   int64
}

// Attachment returns the display metadata recorded on the outgoing message.
func (p PendingFile) Attachment() Attachment {
	return Attachment{Name: p.Name, SizeBytes: p.SizeBytes}
}

// AcceptedExtensions lists the file extensions a user may attach.
var AcceptedExtensions = []string{".pdf", ".doc", ".docx", ".txt", ".png", ".jpg", ".jpeg"}

// IsAcceptedExtension reports whether ext (with leading dot, any case) may be attached.
func IsAcceptedExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, a := range AcceptedExtensions {
		if a == ext {
			return true
		}
	}
	return false
}
