// Package tui is the terminal front end of the chat client.
package tui

import (
	"errors"

	"github.com/ashureev/agent-chat/internal/domain"
	"github.com/ashureev/agent-chat/internal/turn"
)

// ErrLoopStopped is returned when the event loop is no longer running.
var ErrLoopStopped = errors.New("event loop stopped")

// Controller is what the view asks of the chat core.
type Controller interface {
	Submit(text string) error
	Attach(path string) (domain.PendingFile, error)
	Detach() error
}

// Loop runs functions on the goroutine that owns the orchestrator.
type Loop interface {
	Post(fn func()) bool
	Done() <-chan struct{}
}

// Bridge calls into an orchestrator from other goroutines and forwards its
// snapshots. Only the newest snapshot is kept when the reader falls behind.
type Bridge struct {
	loop        Loop
	orch        *turn.Orchestrator
	updates     chan turn.Snapshot
	unsubscribe func()
}

// NewBridge subscribes to orch on loop and queues the current snapshot.
func NewBridge(loop Loop, orch *turn.Orchestrator) (*Bridge, error) {
	b := &Bridge{
		loop:    loop,
		orch:    orch,
		updates: make(chan turn.Snapshot, 1),
	}
	err := b.call(func() {
		b.unsubscribe = orch.Subscribe(b.push)
		b.push(orch.Snapshot())
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Updates delivers snapshots in order, skipping superseded ones.
func (b *Bridge) Updates() <-chan turn.Snapshot {
	return b.updates
}

// Snapshot returns the current render state.
func (b *Bridge) Snapshot() (turn.Snapshot, error) {
	var snap turn.Snapshot
	if err := b.call(func() { snap = b.orch.Snapshot() }); err != nil {
		return turn.Snapshot{}, err
	}
	return snap, nil
}

// Submit sends text with the pending attachment.
func (b *Bridge) Submit(text string) error {
	var err error
	if callErr := b.call(func() { err = b.orch.Submit(text) }); callErr != nil {
		return callErr
	}
	return err
}

// Attach selects the file at path.
func (b *Bridge) Attach(path string) (domain.PendingFile, error) {
	var (
		file domain.PendingFile
		err  error
	)
	if callErr := b.call(func() { file, err = b.orch.Attach(path) }); callErr != nil {
		return domain.PendingFile{}, callErr
	}
	return file, err
}

// Detach drops the pending attachment.
func (b *Bridge) Detach() error {
	return b.call(b.orch.Detach)
}

// Close stops the orchestrator and its subscription.
func (b *Bridge) Close() error {
	return b.call(func() {
		if b.unsubscribe != nil {
			b.unsubscribe()
		}
		b.orch.Close()
	})
}

// push runs on the loop, the only sender on updates.
func (b *Bridge) push(s turn.Snapshot) {
	select {
	case b.updates <- s:
		return
	default:
	}
	select {
	case <-b.updates:
	default:
	}
	select {
	case b.updates <- s:
	default:
	}
}

func (b *Bridge) call(fn func()) error {
	done := make(chan struct{})
	if !b.loop.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrLoopStopped
	}
	select {
	case <-done:
		return nil
	case <-b.loop.Done():
		return ErrLoopStopped
	}
}

var _ Controller = (*Bridge)(nil)
