// Package turn sequences one chat turn at a time: the user message, the
// agent request, and the reveal of the reply.
//
// An Orchestrator is owned by an event loop. Every method must be called on
// that loop, and observers are notified on it.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/agent-chat/internal/agent"
	"github.com/ashureev/agent-chat/internal/config"
	"github.com/ashureev/agent-chat/internal/conversation"
	"github.com/ashureev/agent-chat/internal/domain"
	"github.com/ashureev/agent-chat/internal/eventloop"
	"github.com/ashureev/agent-chat/internal/reveal"
	"github.com/dustin/go-humanize"
)

var (
	// ErrEmptyInput is returned when a submission has neither text nor attachment.
	ErrEmptyInput = errors.New("nothing to send")
	// ErrBusy is returned while a turn is being sent or revealed.
	ErrBusy = errors.New("a turn is already in progress")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("orchestrator closed")
	// ErrUnsupportedFile is returned when an attachment has a rejected extension.
	ErrUnsupportedFile = errors.New("unsupported file type")
	// ErrFileTooLarge is returned when an attachment exceeds the upload limit.
	ErrFileTooLarge = errors.New("file too large")
	// ErrNotRegularFile is returned when an attachment path is not a regular file.
	ErrNotRegularFile = errors.New("not a regular file")
)

// Dispatcher sends one turn to the agent and returns its full reply.
type Dispatcher interface {
	Send(ctx context.Context, req agent.Request) (string, error)
}

// Config holds the orchestrator settings.
type Config struct {
	RequestTimeout time.Duration
	MaxUploadBytes int64
	Apology        string
	Reveal         reveal.Config
}

// ConfigFromClient maps the client configuration.
func ConfigFromClient(cfg *config.ClientConfig) Config {
	return Config{
		RequestTimeout: cfg.RequestTimeout,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Apology:        cfg.Apology,
		Reveal:         reveal.Config{Interval: cfg.RevealInterval},
	}
}

// Orchestrator runs the turn state machine.
type Orchestrator struct {
	loop       eventloop.Scheduler
	store      *conversation.Store
	revealer   *reveal.Scheduler
	dispatcher Dispatcher
	cfg        Config
	logger     *slog.Logger

	state      State
	revealID   string
	revealText string

	seq       uint64
	ctx       context.Context
	cancelAll context.CancelFunc
	cancelReq context.CancelFunc
	closed    bool

	observers map[int]func(Snapshot)
	nextObs   int

	// spawn runs the blocking request off the loop.
	spawn func(func())
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStore replaces the conversation store.
func WithStore(store *conversation.Store) Option {
	return func(o *Orchestrator) {
		o.store = store
	}
}

// New creates an idle orchestrator on loop.
func New(loop eventloop.Scheduler, dispatcher Dispatcher, cfg Config, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Apology == "" {
		cfg.Apology = config.DefaultApology
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		loop:       loop,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
		state:      StateIdle,
		ctx:        ctx,
		cancelAll:  cancel,
		observers:  make(map[int]func(Snapshot)),
		spawn:      func(fn func()) { go fn() },
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.store == nil {
		o.store = conversation.New(logger)
	}
	o.revealer = reveal.NewScheduler(loop, cfg.Reveal, logger)
	return o
}

// State returns the current turn state.
func (o *Orchestrator) State() State {
	return o.state
}

// Submit starts a turn with text and the pending attachment, if any.
// The request result is handled later on the loop.
func (o *Orchestrator) Submit(text string) error {
	if o.closed {
		return ErrClosed
	}
	if o.state != StateIdle {
		return ErrBusy
	}

	pending, hasFile := o.store.Attachment()
	if strings.TrimSpace(text) == "" && !hasFile {
		return ErrEmptyInput
	}

	var att *domain.Attachment
	var file *domain.PendingFile
	if hasFile {
		a := pending.Attachment()
		att = &a
		file = &pending
	}
	if _, err := o.store.AppendUserTurn(text, att); err != nil {
		if errors.Is(err, conversation.ErrEmptyTurn) {
			return ErrEmptyInput
		}
		return fmt.Errorf("append user turn: %w", err)
	}
	o.store.ClearAttachment()

	o.seq++
	seq := o.seq
	o.state = StateSending

	ctx, cancel := o.requestContext()
	o.cancelReq = cancel
	req := agent.Request{Message: text, File: file}

	o.logger.Info("Turn dispatched", "seq", seq, "has_file", hasFile)
	o.publish()

	o.spawn(func() {
		start := time.Now()
		resp, err := o.dispatcher.Send(ctx, req)
		cancel()
		duration := time.Since(start)
		if !o.loop.Post(func() { o.finish(seq, resp, err, duration) }) {
			o.logger.Debug("Turn result dropped, loop stopped", "seq", seq)
		}
	})
	return nil
}

func (o *Orchestrator) requestContext() (context.Context, context.CancelFunc) {
	if o.cfg.RequestTimeout > 0 {
		return context.WithTimeout(o.ctx, o.cfg.RequestTimeout)
	}
	return context.WithCancel(o.ctx)
}

func (o *Orchestrator) finish(seq uint64, resp string, err error, duration time.Duration) {
	if o.closed || seq != o.seq || o.state != StateSending {
		o.logger.Debug("Stale turn result ignored", "seq", seq)
		return
	}
	o.cancelReq = nil

	if err != nil {
		o.logger.Error("Agent request failed", "seq", seq, "duration", duration, "error", err)
		o.store.AppendAgentMessage(o.cfg.Apology)
		o.state = StateIdle
		o.publish()
		return
	}

	placeholder, err := o.store.AppendAgentPlaceholder()
	if err != nil {
		o.logger.Error("Failed to append agent placeholder", "seq", seq, "error", err)
		o.state = StateIdle
		o.publish()
		return
	}

	o.logger.Info("Agent replied", "seq", seq, "duration", duration, "chars", len(resp))
	o.state = StateRevealing
	o.revealID = placeholder.ID
	o.revealText = ""
	o.publish()

	id := placeholder.ID
	o.revealer.Start(resp,
		func(prefix string) {
			o.revealText = prefix
			o.publish()
		},
		func() {
			o.completeReveal(id, resp)
		},
	)
}

func (o *Orchestrator) completeReveal(id, text string) {
	if err := o.store.CommitAgentContent(id, text); err != nil {
		o.logger.Warn("Agent reply not committed", "message_id", id, "error", err)
	}
	o.state = StateIdle
	o.revealID = ""
	o.revealText = ""
	o.publish()
}

// Attach validates the file at path and makes it the pending attachment,
// replacing any previous one.
func (o *Orchestrator) Attach(path string) (domain.PendingFile, error) {
	if o.closed {
		return domain.PendingFile{}, ErrClosed
	}
	if o.state == StateSending {
		return domain.PendingFile{}, ErrBusy
	}

	info, err := os.Stat(path)
	if err != nil {
		return domain.PendingFile{}, fmt.Errorf("attach %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return domain.PendingFile{}, fmt.Errorf("attach %s: %w", path, ErrNotRegularFile)
	}
	name := filepath.Base(path)
	ext := filepath.Ext(name)
	if !domain.IsAcceptedExtension(ext) {
		return domain.PendingFile{}, fmt.Errorf("attach %s: %w %q", name, ErrUnsupportedFile, ext)
	}
	if o.cfg.MaxUploadBytes > 0 && info.Size() > o.cfg.MaxUploadBytes {
		return domain.PendingFile{}, fmt.Errorf("attach %s (%s): %w, limit is %s",
			name,
			humanize.IBytes(uint64(info.Size())),
			ErrFileTooLarge,
			humanize.IBytes(uint64(o.cfg.MaxUploadBytes)))
	}

	contentType, err := detectContentType(path, name)
	if err != nil {
		return domain.PendingFile{}, fmt.Errorf("attach %s: %w", name, err)
	}

	file := domain.PendingFile{
		Path:        path,
		Name:        name,
		ContentType: contentType,
		SizeBytes:   info.Size(),
	}
	o.store.SetAttachment(file)
	o.logger.Debug("Attachment selected", "name", name, "size_bytes", file.SizeBytes, "content_type", contentType)
	o.publish()
	return file, nil
}

func detectContentType(path, name string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	return agent.DetectContentType(name, f)
}

// Detach drops the pending attachment. It is a no-op when none is pending.
func (o *Orchestrator) Detach() {
	if _, ok := o.store.Attachment(); !ok {
		return
	}
	o.store.ClearAttachment()
	o.publish()
}

// Subscribe registers fn to receive a snapshot after every change and
// returns a function that removes it.
func (o *Orchestrator) Subscribe(fn func(Snapshot)) func() {
	id := o.nextObs
	o.nextObs++
	o.observers[id] = fn
	return func() {
		delete(o.observers, id)
	}
}

// Snapshot returns the current render state.
func (o *Orchestrator) Snapshot() Snapshot {
	snap := Snapshot{
		Messages:   o.store.Messages(),
		State:      o.state,
		RevealID:   o.revealID,
		RevealText: o.revealText,
	}
	if f, ok := o.store.Attachment(); ok {
		snap.Attachment = &f
	}
	return snap
}

// Close aborts an in-flight request and any reveal. Later calls are rejected.
func (o *Orchestrator) Close() {
	if o.closed {
		return
	}
	o.closed = true
	o.revealer.Cancel()
	if o.cancelReq != nil {
		o.cancelReq()
		o.cancelReq = nil
	}
	o.cancelAll()
	o.state = StateIdle
	o.revealID = ""
	o.revealText = ""
	o.publish()
	o.observers = make(map[int]func(Snapshot))
}

func (o *Orchestrator) publish() {
	if len(o.observers) == 0 {
		return
	}
	snap := o.Snapshot()
	for _, fn := range o.observers {
		fn(snap)
	}
}
