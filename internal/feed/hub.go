// Package feed broadcasts recorded turns to websocket watchers.
package feed

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/agent-chat/internal/domain"
	"github.com/ashureev/agent-chat/internal/identity"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	// EventTurn carries one recorded turn.
	EventTurn = "turn"

	defaultReplaySize = 50
	subscriberBuffer  = 32
	writeTimeout      = 5 * time.Second
)

// Event is one message on the feed.
type Event struct {
	Type string      `json:"type"`
	Turn domain.Turn `json:"turn"`
}

type subscriber struct {
	sessionID string
	events    chan Event
	done      chan struct{}
	once      sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber) wants(turn domain.Turn) bool {
	return s.sessionID == "" || s.sessionID == turn.SessionID
}

// Hub fans out turns to connected watchers and keeps the latest ones for replay.
type Hub struct {
	mu             sync.RWMutex
	subscribers    map[*subscriber]struct{}
	replay         *ring
	originPatterns []string
	logger         *slog.Logger
}

// NewHub creates a hub that replays up to replaySize turns to new watchers.
// originPatterns take CORS style origins; only their host part is matched.
func NewHub(replaySize int, originPatterns []string, logger *slog.Logger) *Hub {
	if replaySize <= 0 {
		replaySize = defaultReplaySize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subscribers:    make(map[*subscriber]struct{}),
		replay:         newRing(replaySize),
		originPatterns: originHosts(originPatterns),
		logger:         logger,
	}
}

// originHosts turns origins such as https://app.example.com into the host
// patterns websocket.Accept matches against.
func originHosts(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimPrefix(o, "https://")
		o = strings.TrimPrefix(o, "http://")
		o = strings.TrimRight(o, "/")
		if o != "" {
			hosts = append(hosts, o)
		}
	}
	return hosts
}

// Publish sends turn to every interested watcher. Watchers that cannot keep
// up are disconnected instead of blocking the caller.
func (h *Hub) Publish(turn domain.Turn) {
	ev := Event{Type: EventTurn, Turn: turn}

	h.mu.Lock()
	h.replay.push(ev)
	subs := make([]*subscriber, 0, len(h.subscribers))
	for s := range h.subscribers {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		if !s.wants(turn) {
			continue
		}
		select {
		case s.events <- ev:
		default:
			h.logger.Warn("Feed watcher too slow, disconnecting", "session_id", s.sessionID)
			h.unregister(s)
		}
	}
}

// Watchers returns the number of connected watchers.
func (h *Hub) Watchers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

func (h *Hub) register(sessionID string) (*subscriber, []Event) {
	s := &subscriber{
		sessionID: sessionID,
		events:    make(chan Event, subscriberBuffer),
		done:      make(chan struct{}),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[s] = struct{}{}

	var backlog []Event
	for _, ev := range h.replay.items() {
		if s.wants(ev.Turn) {
			backlog = append(backlog, ev)
		}
	}
	h.logger.Info("Feed watcher registered", "session_id", sessionID, "watchers", len(h.subscribers))
	return s, backlog
}

func (h *Hub) unregister(s *subscriber) {
	h.mu.Lock()
	_, ok := h.subscribers[s]
	delete(h.subscribers, s)
	n := len(h.subscribers)
	h.mu.Unlock()

	s.close()
	if ok {
		h.logger.Info("Feed watcher unregistered", "session_id", s.sessionID, "watchers", n)
	}
}

// ServeHTTP upgrades the request and streams events until the watcher leaves.
// The optional session_id query parameter limits the feed to one session.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := ""
	if raw := r.URL.Query().Get("session_id"); raw != "" {
		sessionID = identity.SanitizeSessionID(raw)
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Error("Failed to accept feed websocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "feed ended"); closeErr != nil {
			h.logger.Debug("Failed to close feed websocket", "error", closeErr)
		}
	}()

	// Watchers never send data; CloseRead handles control frames and cancels on close.
	ctx := ws.CloseRead(r.Context())

	sub, backlog := h.register(sessionID)
	defer h.unregister(sub)

	for _, ev := range backlog {
		if err := h.write(ctx, ws, ev); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		case ev := <-sub.events:
			if err := h.write(ctx, ws, ev); err != nil {
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, ws *websocket.Conn, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, ws, ev); err != nil {
		h.logger.Debug("Feed write failed", "error", err)
		return err
	}
	return nil
}
