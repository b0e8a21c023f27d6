package agent

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/agent-chat/internal/domain"
)

type fakeRepo struct {
	mu        sync.Mutex
	documents map[string]*domain.Document
	turns     []*domain.Turn
	appendErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{documents: make(map[string]*domain.Document)}
}

func (f *fakeRepo) SaveDocument(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy := *doc
	f.documents[doc.ID] = &copy
	return nil
}

func (f *fakeRepo) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc := f.documents[id]
	if doc == nil {
		return nil, nil
	}
	copy := *doc
	return &copy, nil
}

func (f *fakeRepo) ExpiredDocuments(_ context.Context, before time.Time) ([]*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Document
	for _, doc := range f.documents {
		if doc.CreatedAt.Before(before) {
			copy := *doc
			out = append(out, &copy)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeRepo) DeleteDocument(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.documents, id)
	return nil
}

func (f *fakeRepo) AppendTurn(_ context.Context, turn *domain.Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	copy := *turn
	f.turns = append(f.turns, &copy)
	return nil
}

func (f *fakeRepo) RecentTurns(_ context.Context, sessionID string, limit int) ([]*domain.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Turn
	for _, t := range f.turns {
		if t.SessionID == sessionID {
			copy := *t
			out = append(out, &copy)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeRepo) CleanupExpiredTurns(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

func (f *fakeRepo) Ping(context.Context) error { return nil }
func (f *fakeRepo) Close() error               { return nil }

func (f *fakeRepo) turnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.turns)
}

func (f *fakeRepo) documentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.documents)
}

type fakeProcessor struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []Prompt
}

func (p *fakeProcessor) Name() string { return "fake" }

func (p *fakeProcessor) Process(_ context.Context, prompt Prompt) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, prompt)
	if p.err != nil {
		return "", p.err
	}
	return p.reply, nil
}

func (p *fakeProcessor) lastPrompt() Prompt {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.prompts) == 0 {
		return Prompt{}
	}
	return p.prompts[len(p.prompts)-1]
}

type recordingPublisher struct {
	mu    sync.Mutex
	turns []domain.Turn
}

func (p *recordingPublisher) Publish(turn domain.Turn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turns = append(p.turns, turn)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.turns)
}

var errProcessor = errors.New("model unavailable")
