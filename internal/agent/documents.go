package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/agent-chat/internal/domain"
	"github.com/ashureev/agent-chat/internal/store"
	"github.com/google/uuid"
)

const excerptBytes = 8 << 10

// ErrUploadTooLarge is returned when an upload exceeds the configured limit.
var ErrUploadTooLarge = errors.New("upload exceeds size limit")

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Documents saves uploads to disk and records them in the repository.
type Documents struct {
	dir      string
	maxBytes int64
	repo     store.Repository
	now      func() time.Time
	logger   *slog.Logger
}

// NewDocuments creates the upload directory if needed.
func NewDocuments(dir string, maxBytes int64, repo store.Repository, logger *slog.Logger) (*Documents, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create documents directory: %w", err)
	}
	return &Documents{
		dir:      dir,
		maxBytes: maxBytes,
		repo:     repo,
		now:      time.Now,
		logger:   logger,
	}, nil
}

// Save writes src under a generated name and records the document.
func (d *Documents) Save(ctx context.Context, sessionID, filename, contentType string, src io.Reader) (*domain.Document, error) {
	id := uuid.NewString()
	name := SanitizeFilename(filename)
	path := filepath.Join(d.dir, id+"-"+name)

	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create document file: %w", err)
	}
	n, copyErr := io.Copy(out, io.LimitReader(src, d.maxBytes+1))
	closeErr := out.Close()
	if copyErr == nil && n > d.maxBytes {
		copyErr = fmt.Errorf("%w: more than %d bytes", ErrUploadTooLarge, d.maxBytes)
	}
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		d.removeFile(path)
		return nil, fmt.Errorf("write document: %w", copyErr)
	}

	doc := &domain.Document{
		ID:          id,
		SessionID:   sessionID,
		Name:        name,
		Path:        path,
		ContentType: contentType,
		Type:        DocumentTypeFor(contentType),
		SizeBytes:   n,
		CreatedAt:   d.now(),
	}
	if err := d.repo.SaveDocument(ctx, doc); err != nil {
		d.removeFile(path)
		return nil, fmt.Errorf("record document: %w", err)
	}

	d.logger.Info("Document saved",
		"document_id", doc.ID,
		"session_id", sessionID,
		"name", doc.Name,
		"type", doc.Type,
		"size_bytes", doc.SizeBytes,
	)
	return doc, nil
}

// Remove deletes the document file and its record. A missing file is not an error.
func (d *Documents) Remove(ctx context.Context, doc *domain.Document) error {
	if err := os.Remove(doc.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove document file: %w", err)
	}
	if err := d.repo.DeleteDocument(ctx, doc.ID); err != nil {
		return err
	}
	return nil
}

// Excerpt returns the leading text of a text document, or "" for other types.
func (d *Documents) Excerpt(doc *domain.Document) string {
	if doc == nil || doc.Type != domain.DocumentText || !isTextual(doc.ContentType) {
		return ""
	}
	f, err := os.Open(doc.Path)
	if err != nil {
		d.logger.Warn("failed to open document for excerpt", "document_id", doc.ID, "error", err)
		return ""
	}
	defer func() { _ = f.Close() }()

	buf, err := io.ReadAll(io.LimitReader(f, excerptBytes))
	if err != nil {
		d.logger.Warn("failed to read document excerpt", "document_id", doc.ID, "error", err)
		return ""
	}
	return strings.ToValidUTF8(string(buf), "")
}

func (d *Documents) removeFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		d.logger.Warn("failed to remove partial document", "path", path, "error", err)
	}
}

// DocumentTypeFor maps an upload content type to a document type.
func DocumentTypeFor(contentType string) domain.DocumentType {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err == nil && mediaType == "application/pdf" {
		return domain.DocumentPDF
	}
	return domain.DocumentText
}

func isTextual(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "text/") || mediaType == "application/json"
}

// SanitizeFilename reduces an uploaded filename to a safe base name.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeNameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "upload"
	}
	if len(name) > 100 {
		ext := filepath.Ext(name)
		if len(ext) > 10 {
			ext = ""
		}
		name = name[:100-len(ext)] + ext
	}
	return name
}
