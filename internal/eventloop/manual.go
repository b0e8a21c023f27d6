package eventloop

import (
	"sort"
	"sync"
	"time"
)

// Manual is a deterministic Scheduler driven by the caller.
// Posted functions run on Drain; timers fire on Advance, in due-time order.
type Manual struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	queue  []func()
	timers []*manualTimer
}

type manualTimer struct {
	m       *Manual
	at      time.Duration
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

// NewManual creates a manual loop at virtual time zero.
func NewManual() *Manual {
	return &Manual{}
}

// Post queues fn until the next Drain or Advance.
func (m *Manual) Post(fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, fn)
	return true
}

// AfterFunc registers fn to fire once virtual time reaches now+d.
func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{m: m, at: m.now + d, seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Now returns the virtual time elapsed since creation.
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Drain runs queued functions, including ones queued while draining.
func (m *Manual) Drain() {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return
		}
		fn := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		fn()
	}
}

// Advance moves virtual time forward by d, firing due timers in order.
// Fired callbacks are queued like the real loop does and drained right away.
func (m *Manual) Advance(d time.Duration) {
	m.Drain()
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()

	for {
		t := m.nextDue(target)
		if t == nil {
			break
		}
		m.Post(t.fn)
		m.Drain()
	}

	m.mu.Lock()
	m.now = target
	m.mu.Unlock()
	m.Drain()
}

// Elapse moves virtual time forward by d and queues the callbacks of due
// timers without running them. It reproduces a tick that fired on the timer
// goroutine but has not reached the loop yet.
func (m *Manual) Elapse(d time.Duration) {
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()

	for {
		t := m.nextDue(target)
		if t == nil {
			break
		}
		m.Post(t.fn)
	}

	m.mu.Lock()
	m.now = target
	m.mu.Unlock()
}

// PendingTimers reports timers that have neither fired nor been stopped.
func (m *Manual) PendingTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// RunUntilIdle advances time step by step until no timers remain, up to limit steps.
func (m *Manual) RunUntilIdle(step time.Duration, limit int) {
	m.Drain()
	for i := 0; i < limit && m.PendingTimers() > 0; i++ {
		m.Advance(step)
	}
}

func (m *Manual) nextDue(target time.Duration) *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	m.timers = live
	if len(live) == 0 {
		return nil
	}

	sort.Slice(live, func(i, j int) bool {
		if live[i].at == live[j].at {
			return live[i].seq < live[j].seq
		}
		return live[i].at < live[j].at
	})
	next := live[0]
	if next.at > target {
		return nil
	}
	next.fired = true
	m.now = next.at
	return next
}

// Ensure Manual implements Scheduler.
var _ Scheduler = (*Manual)(nil)
