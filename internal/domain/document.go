package domain

import (
	"time"
)

// DocumentType is the coarse kind of an uploaded document.
type DocumentType string

const (
	// DocumentPDF is set for uploads sent as application/pdf.
	DocumentPDF DocumentType = "pdf"
	// DocumentText covers every other upload.
	DocumentText DocumentType = "txt"
)

// Document is an upload received by the agent server.
type Document struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"session_id"`
	Name        string       `json:"name"`
	Path        string       `json:"-"`
	ContentType string       `json:"content_type"`
	Type        DocumentType `json:"type"`
	SizeBytes   int64        `json:"size_bytes"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Expired returns true if the document is older than maxAge at now.
func (d *Document) Expired(now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	return now.Sub(d.CreatedAt) > maxAge
}
