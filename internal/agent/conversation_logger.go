package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// ConversationLogConfig controls NDJSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// ConversationLogEvent is one line of a conversation log.
type ConversationLogEvent struct {
	Timestamp  string         `json:"ts"`
	SessionID  string         `json:"session_id"`
	ClientID   string         `json:"client_id,omitempty"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw"`
	Content    string         `json:"content"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// ConversationLogger records conversation events.
type ConversationLogger interface {
	Log(event ConversationLogEvent)
	Close() error
}

type noopConversationLogger struct{}

func (noopConversationLogger) Log(ConversationLogEvent) {}
func (noopConversationLogger) Close() error             { return nil }

var (
	ansiPattern     = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07]*(\x07|\x1b\\)`)
	spacePattern    = regexp.MustCompile(`[ \t]+`)
	logFileNameSafe = regexp.MustCompile(`[^A-Za-z0-9._:-]+`)
)

// cleanForReadability strips terminal escapes and collapses runs of blanks.
func cleanForReadability(raw string) string {
	s := ansiPattern.ReplaceAllString(raw, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = spacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// fileConversationLogger writes one NDJSON file per session from a single
// background goroutine.
type fileConversationLogger struct {
	cfg     ConversationLogConfig
	events  chan ConversationLogEvent
	files   map[string]*os.File
	global  *os.File
	done    chan struct{}
	once    sync.Once
	logger  *slog.Logger
	closeMu sync.RWMutex
	closed  bool

	closeErr error
}

// NewConversationLogger returns a logger writing under cfg.Dir, or a no-op
// logger when logging is disabled.
func NewConversationLogger(cfg ConversationLogConfig, logger *slog.Logger) (ConversationLogger, error) {
	if !cfg.Enabled {
		return noopConversationLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}

	l := &fileConversationLogger{
		cfg:    cfg,
		events: make(chan ConversationLogEvent, cfg.QueueSize),
		files:  make(map[string]*os.File),
		done:   make(chan struct{}),
		logger: logger,
	}
	if cfg.GlobalEnabled && cfg.GlobalPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o755); err != nil {
			return nil, fmt.Errorf("create global conversation log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.GlobalPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open global conversation log: %w", err)
		}
		l.global = f
	}

	go l.run()
	return l, nil
}

// Log queues an event. Events are dropped when the queue is full.
func (l *fileConversationLogger) Log(event ConversationLogEvent) {
	l.closeMu.RLock()
	defer l.closeMu.RUnlock()
	if l.closed {
		return
	}
	if event.Content == "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}
	select {
	case l.events <- event:
	default:
		l.logger.Warn("conversation log queue full, dropping event",
			"session_id", event.SessionID,
			"event_type", event.EventType,
		)
	}
}

// Close flushes queued events and closes all files.
func (l *fileConversationLogger) Close() error {
	l.once.Do(func() {
		l.closeMu.Lock()
		l.closed = true
		close(l.events)
		l.closeMu.Unlock()
		<-l.done

		var errs []error
		for _, f := range l.files {
			errs = append(errs, f.Close())
		}
		if l.global != nil {
			errs = append(errs, l.global.Close())
		}
		l.closeErr = errors.Join(errs...)
	})
	return l.closeErr
}

func (l *fileConversationLogger) run() {
	defer close(l.done)
	for event := range l.events {
		line, err := json.Marshal(event)
		if err != nil {
			l.logger.Warn("failed to marshal conversation event", "error", err)
			continue
		}
		line = append(line, '\n')

		f, err := l.sessionFile(event.SessionID)
		if err != nil {
			l.logger.Warn("failed to open conversation log", "session_id", event.SessionID, "error", err)
		} else if _, err := f.Write(line); err != nil {
			l.logger.Warn("failed to write conversation log", "session_id", event.SessionID, "error", err)
		}
		if l.global != nil {
			if _, err := l.global.Write(line); err != nil {
				l.logger.Warn("failed to write global conversation log", "error", err)
			}
		}
	}
}

func (l *fileConversationLogger) sessionFile(sessionID string) (*os.File, error) {
	name := logFileNameSafe.ReplaceAllString(sessionID, "_")
	if name == "" || name == "." || name == ".." {
		name = "default"
	}
	if f, ok := l.files[name]; ok {
		return f, nil
	}
	f, err := os.OpenFile(filepath.Join(l.cfg.Dir, name+".ndjson"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	l.files[name] = f
	return f, nil
}
