package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/agent-chat/internal/domain"
	"github.com/ashureev/agent-chat/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	deleteRetries   = 3
	deleteBaseDelay = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		name TEXT NOT NULL,
		path TEXT NOT NULL,
		content_type TEXT NOT NULL,
		doc_type TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_created ON documents(created_at);

	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		user_message TEXT NOT NULL,
		response TEXT NOT NULL,
		document_id TEXT,
		provider TEXT NOT NULL,
		failed INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_turns_created ON turns(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// SaveDocument records an uploaded document.
func (s *SQLiteStore) SaveDocument(ctx context.Context, doc *domain.Document) error {
	query := `
	INSERT INTO documents (id, session_id, name, path, content_type, doc_type, size_bytes, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		doc.ID, doc.SessionID, doc.Name, doc.Path,
		doc.ContentType, string(doc.Type), doc.SizeBytes,
		doc.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by ID.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	query := `
		SELECT id, session_id, name, path, content_type, doc_type, size_bytes, created_at
		FROM documents WHERE id = ?`

	doc, err := scanDocument(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan document row: %w", err)
	}
	return doc, nil
}

// ExpiredDocuments returns documents created before the cutoff, oldest first.
func (s *SQLiteStore) ExpiredDocuments(ctx context.Context, before time.Time) ([]*domain.Document, error) {
	query := `
		SELECT id, session_id, name, path, content_type, doc_type, size_bytes, created_at
		FROM documents WHERE created_at < ? ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, before.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query expired documents: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close expired documents rows", "error", closeErr)
		}
	}()

	var docs []*domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired document row: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired documents: %w", err)
	}
	return docs, nil
}

// DeleteDocument removes a document record.
// SQLITE_BUSY failures are retried with exponential backoff.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	err := shared.RetryOnConflict(ctx, deleteRetries, deleteBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
		if err != nil && shared.IsSQLiteConflictError(err) {
			slog.Debug("DeleteDocument hit a locked database, retrying", "document_id", id)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return nil
}

// AppendTurn records an answered exchange.
func (s *SQLiteStore) AppendTurn(ctx context.Context, turn *domain.Turn) error {
	query := `
	INSERT INTO turns (id, session_id, user_message, response, document_id, provider, failed, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	var documentID interface{}
	if turn.DocumentID != "" {
		documentID = turn.DocumentID
	}

	_, err := s.db.ExecContext(ctx, query,
		turn.ID, turn.SessionID, turn.UserMessage, turn.Response,
		documentID, turn.Provider, turn.Failed,
		turn.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// RecentTurns returns up to limit turns of a session, oldest first.
func (s *SQLiteStore) RecentTurns(ctx context.Context, sessionID string, limit int) ([]*domain.Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := `
		SELECT id, session_id, user_message, response, document_id, provider, failed, created_at
		FROM turns WHERE session_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close recent turns rows", "error", closeErr)
		}
	}()

	var turns []*domain.Turn
	for rows.Next() {
		var turn domain.Turn
		var documentID sql.NullString
		var createdAt int64
		if err := rows.Scan(
			&turn.ID, &turn.SessionID, &turn.UserMessage, &turn.Response,
			&documentID, &turn.Provider, &turn.Failed, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		turn.DocumentID = documentID.String
		turn.CreatedAt = time.UnixMilli(createdAt)
		turns = append(turns, &turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent turns: %w", err)
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// CleanupExpiredTurns removes turns older than ttl.
func (s *SQLiteStore) CleanupExpiredTurns(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := s.now().Add(-ttl).UnixMilli()
	result, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE created_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired turns: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var docType string
	var createdAt int64
	if err := row.Scan(
		&doc.ID, &doc.SessionID, &doc.Name, &doc.Path,
		&doc.ContentType, &docType, &doc.SizeBytes, &createdAt,
	); err != nil {
		return nil, err
	}
	doc.Type = domain.DocumentType(docType)
	doc.CreatedAt = time.UnixMilli(createdAt)
	return &doc, nil
}

// Ensure SQLiteStore implements Repository.
var _ Repository = (*SQLiteStore)(nil)
