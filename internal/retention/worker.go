// Package retention sweeps expired uploads and turn records.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/agent-chat/internal/config"
	"github.com/ashureev/agent-chat/internal/domain"
)

// Source lists and prunes records that outlived their TTL.
type Source interface {
	ExpiredDocuments(ctx context.Context, before time.Time) ([]*domain.Document, error)
	CleanupExpiredTurns(ctx context.Context, ttl time.Duration) (int64, error)
}

// DocumentRemover deletes a stored upload and its record.
type DocumentRemover interface {
	Remove(ctx context.Context, doc *domain.Document) error
}

// Result summarizes one sweep.
type Result struct {
	Documents int
	Turns     int64
}

// Worker periodically removes expired documents and turns.
type Worker struct {
	source  Source
	remover DocumentRemover
	cfg     config.RetentionConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewWorker creates a retention worker.
func NewWorker(source Source, remover DocumentRemover, cfg config.RetentionConfig, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		source:  source,
		remover: remover,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Start runs the sweep on every interval until ctx is done.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	go func() {
		defer ticker.Stop()
		w.logger.Info("Retention worker started",
			"interval", w.cfg.Interval,
			"document_ttl", w.cfg.DocumentTTL,
			"turn_ttl", w.cfg.TurnTTL)

		for {
			select {
			case <-ticker.C:
				w.Sweep(ctx)
			case <-ctx.Done():
				w.logger.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep runs one cleanup pass. Failures are logged and the pass continues.
func (w *Worker) Sweep(ctx context.Context) Result {
	var res Result

	if w.cfg.DocumentTTL > 0 {
		docs, err := w.source.ExpiredDocuments(ctx, w.now().Add(-w.cfg.DocumentTTL))
		if err != nil {
			w.logger.Error("Retention worker failed to list expired documents", "error", err)
		}
		for _, doc := range docs {
			if err := w.remover.Remove(ctx, doc); err != nil {
				if ctx.Err() != nil {
					w.logger.Debug("Retention worker canceled during document cleanup", "error", err)
					return res
				}
				w.logger.Warn("Retention worker failed to remove document",
					"document_id", doc.ID,
					"session_id", doc.SessionID,
					"error", err)
				continue
			}
			res.Documents++
		}
	}

	if w.cfg.TurnTTL > 0 {
		deleted, err := w.source.CleanupExpiredTurns(ctx, w.cfg.TurnTTL)
		if err != nil {
			w.logger.Error("Retention worker failed to cleanup turns", "error", err)
		} else {
			res.Turns = deleted
		}
	}

	if res.Documents > 0 || res.Turns > 0 {
		w.logger.Info("Retention worker cleanup completed",
			"documents", res.Documents,
			"turns", res.Turns)
	}
	return res
}
