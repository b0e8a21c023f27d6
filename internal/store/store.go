// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/agent-chat/internal/domain"
)

// Repository defines the interface for persisting uploads and answered turns.
type Repository interface {
	// SaveDocument records an uploaded document.
	SaveDocument(ctx context.Context, doc *domain.Document) error

	// GetDocument retrieves a document by ID. It returns nil, nil if none exists.
	GetDocument(ctx context.Context, id string) (*domain.Document, error)

	// ExpiredDocuments returns documents created before the cutoff.
	ExpiredDocuments(ctx context.Context, before time.Time) ([]*domain.Document, error)

	// DeleteDocument removes a document record.
	DeleteDocument(ctx context.Context, id string) error

	// AppendTurn records an answered exchange.
	AppendTurn(ctx context.Context, turn *domain.Turn) error

	// RecentTurns returns up to limit turns of a session, oldest first.
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]*domain.Turn, error)

	// CleanupExpiredTurns removes turns older than ttl.
	CleanupExpiredTurns(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
