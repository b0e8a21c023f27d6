// Package eventloop provides the single execution context the chat core runs on.
//
// Every function handed to Post, and every AfterFunc callback, runs on one
// goroutine in submission order, so state owned by the loop needs no locks.
package eventloop

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Timer is a pending AfterFunc callback.
type Timer interface {
	// Stop prevents the callback from being queued. It returns false if the
	// timer already fired or was stopped.
	Stop() bool
}

// Scheduler is the subset of a loop that components schedule work on.
type Scheduler interface {
	// Post queues fn to run on the loop. It returns false if the loop is stopped.
	Post(fn func()) bool
	// AfterFunc queues fn on the loop once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Loop runs posted functions serially on the goroutine that called Run.
type Loop struct {
	tasks  chan func()
	quit   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

// New creates a loop with a task queue of the given size.
func New(queueSize int, logger *slog.Logger) *Loop {
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		tasks:  make(chan func(), queueSize),
		quit:   make(chan struct{}),
		logger: logger,
	}
}

// Run executes tasks until ctx is done or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return ctx.Err()
		case <-l.quit:
			return nil
		case fn := <-l.tasks:
			l.run(fn)
		}
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("event loop task panicked", "panic", r)
		}
	}()
	fn()
}

// Post queues fn. It blocks while the queue is full and must not be called
// from the loop goroutine itself when the queue may be full.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.quit:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.quit:
		return false
	}
}

// AfterFunc queues fn on the loop after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, func() {
		l.Post(fn)
	})
}

// Stop terminates Run. Pending tasks are dropped. Safe to call more than once.
func (l *Loop) Stop() {
	l.once.Do(func() {
		close(l.quit)
	})
}

// Done is closed once the loop is stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.quit
}

// Ensure Loop implements Scheduler.
var _ Scheduler = (*Loop)(nil)
