// Package reveal simulates the progressive arrival of an already complete
// agent reply, one grapheme cluster per tick.
package reveal

import (
	"log/slog"
	"time"

	"github.com/ashureev/agent-chat/internal/eventloop"
	"github.com/rivo/uniseg"
)

// Config holds reveal timing.
type Config struct {
	// Interval is the delay between two revealed units (default: 10ms).
	Interval time.Duration
}

// DefaultConfig returns the default reveal cadence.
func DefaultConfig() Config {
	return Config{
		Interval: 10 * time.Millisecond,
	}
}

// Scheduler drives at most one reveal session at a time.
// All methods, and every callback it invokes, run on the event loop.
type Scheduler struct {
	loop       eventloop.Scheduler
	config     Config
	logger     *slog.Logger
	generation uint64
	session    *session
}

type session struct {
	generation uint64
	fullText   string
	ends       []int // byte offset where each unit ends
	revealed   int
	onTick     func(prefix string)
	onDone     func()
	timer      eventloop.Timer
}

// NewScheduler creates a scheduler on the given loop.
func NewScheduler(loop eventloop.Scheduler, config Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	return &Scheduler{
		loop:   loop,
		config: config,
		logger: logger,
	}
}

// Start reveals fullText. Any active session is cancelled first and never
// reaches its onDone. An empty text completes immediately without ticks.
func (s *Scheduler) Start(fullText string, onTick func(prefix string), onDone func()) {
	s.Cancel()

	s.generation++
	sess := &session{
		generation: s.generation,
		fullText:   fullText,
		ends:       unitEnds(fullText),
		onTick:     onTick,
		onDone:     onDone,
	}

	if len(sess.ends) == 0 {
		s.logger.Debug("reveal finished without ticks", "generation", sess.generation)
		if onDone != nil {
			onDone()
		}
		return
	}

	s.session = sess
	s.logger.Debug("reveal started", "generation", sess.generation, "units", len(sess.ends))
	s.schedule(sess)
}

// Cancel stops the active session. No callback of that session fires after
// Cancel returns, including a tick that is already queued on the loop.
func (s *Scheduler) Cancel() {
	if s.session == nil {
		return
	}
	if s.session.timer != nil {
		s.session.timer.Stop()
	}
	s.logger.Debug("reveal cancelled", "generation", s.session.generation, "revealed", s.session.revealed)
	s.session = nil
	s.generation++
}

// Active returns true while a session is revealing.
func (s *Scheduler) Active() bool {
	return s.session != nil
}

// Prefix returns the text revealed so far by the active session.
func (s *Scheduler) Prefix() string {
	if s.session == nil || s.session.revealed == 0 {
		return ""
	}
	return s.session.fullText[:s.session.ends[s.session.revealed-1]]
}

func (s *Scheduler) schedule(sess *session) {
	gen := sess.generation
	sess.timer = s.loop.AfterFunc(s.config.Interval, func() {
		s.tick(gen)
	})
}

func (s *Scheduler) tick(gen uint64) {
	sess := s.session
	if sess == nil || sess.generation != gen || gen != s.generation {
		return
	}

	sess.revealed++
	prefix := sess.fullText[:sess.ends[sess.revealed-1]]
	done := sess.revealed == len(sess.ends)
	if done {
		s.session = nil
	}

	if sess.onTick != nil {
		sess.onTick(prefix)
	}

	if !done {
		// onTick may have started or cancelled a session.
		if s.session == sess {
			s.schedule(sess)
		}
		return
	}

	s.logger.Debug("reveal finished", "generation", gen, "units", len(sess.ends))
	if sess.onDone != nil {
		sess.onDone()
	}
}

// unitEnds returns the end offset of every grapheme cluster in text.
func unitEnds(text string) []int {
	if text == "" {
		return nil
	}
	ends := make([]int, 0, len(text))
	g := uniseg.NewGraphemes(text)
	for g.Next() {
		_, end := g.Positions()
		ends = append(ends, end)
	}
	return ends
}
