package eventloop

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLoopRunsTasksInOrder(t *testing.T) {
	t.Parallel()

	l := New(16, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	var (
		mu  sync.Mutex
		got []int
	)
	finished := make(chan struct{})
	for i := 0; i < 5; i++ {
		i := i
		l.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			if i == 4 {
				close(finished)
			}
		})
	}

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tasks")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("expected task %d at position %d, got %v", i, i, got)
		}
	}

	l.Stop()
	if err := <-done; err != nil {
		t.Fatalf("expected nil error after Stop, got %v", err)
	}
}

func TestLoopAfterFuncRunsOnLoop(t *testing.T) {
	t.Parallel()

	l := New(4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()

	fired := make(chan struct{})
	l.AfterFunc(5*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("AfterFunc callback never ran")
	}
}

func TestLoopPostAfterStop(t *testing.T) {
	t.Parallel()

	l := New(1, nil)
	l.Stop()
	l.Stop()

	if l.Post(func() {}) {
		t.Fatal("expected Post to fail on a stopped loop")
	}
}

func TestLoopRecoversFromPanic(t *testing.T) {
	t.Parallel()

	l := New(4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()

	l.Post(func() { panic("boom") })
	ok := make(chan struct{})
	l.Post(func() { close(ok) })

	select {
	case <-ok:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not survive a panicking task")
	}
}

func TestManualAdvanceFiresInDueOrder(t *testing.T) {
	m := NewManual()
	var got []string

	m.AfterFunc(20*time.Millisecond, func() { got = append(got, "b") })
	m.AfterFunc(10*time.Millisecond, func() { got = append(got, "a") })
	stopped := m.AfterFunc(15*time.Millisecond, func() { got = append(got, "x") })
	if !stopped.Stop() {
		t.Fatal("expected Stop to succeed on a pending timer")
	}

	m.Advance(15 * time.Millisecond)
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("expected [a] after 15ms, got %v", got)
	}

	m.Advance(5 * time.Millisecond)
	if len(got) != 2 || got[1] != "b" {
		t.Fatalf("expected [a b] after 20ms, got %v", got)
	}
	if m.Now() != 20*time.Millisecond {
		t.Errorf("expected virtual time 20ms, got %v", m.Now())
	}
	if m.PendingTimers() != 0 {
		t.Errorf("expected no pending timers, got %d", m.PendingTimers())
	}
}

func TestManualElapseQueuesWithoutRunning(t *testing.T) {
	m := NewManual()
	ran := false
	m.AfterFunc(time.Millisecond, func() { ran = true })

	m.Elapse(time.Millisecond)
	if ran {
		t.Fatal("expected Elapse to only queue the callback")
	}

	m.Drain()
	if !ran {
		t.Fatal("expected Drain to run the queued callback")
	}
}
