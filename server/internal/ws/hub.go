package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/speedscope/speedscope/server/internal/api"
	"github.com/speedscope/speedscope/server/internal/store"
)

// Event names carried in Message.Event.
const (
	EventSnapshot = "snapshot" // on connect and on every tick
	EventRecord   = "record"   // right after a new record was stored
)

const (
	writeWait   = 10 * time.Second
	idleTimeout = 60 * time.Second
	pingEvery   = idleTimeout * 9 / 10 // below idleTimeout so pongs arrive in time
	queueDepth  = 16
	maxInbound  = 512 // dashboard clients only send control frames
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin checks are left to the reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope streamed to dashboard clients.
type Message struct {
	Event string `json:"event"`

	// Source names the agent whose record triggered an EventRecord message.
	Source string `json:"source,omitempty"`

	Data api.SnapshotResponse `json:"data"`
}

// Snapshotter builds the dashboard view streamed to clients.
type Snapshotter interface {
	Snapshot() api.SnapshotResponse
}

// Hub streams dashboard snapshots to WebSocket clients.
type Hub struct {
	src      Snapshotter
	interval time.Duration

	// pending holds the source of the latest unbroadcast record; kick wakes Run.
	pendingMu sync.Mutex
	pending   string
	kick      chan struct{}

	mu       sync.RWMutex
	sessions map[*session]struct{}
}

// session is one connected dashboard.
type session struct {
	conn  *websocket.Conn
	queue chan []byte
}

// New returns a Hub that snapshots src every interval.
func New(src Snapshotter, interval time.Duration) *Hub {
	return &Hub{
		src:      src,
		interval: interval,
		kick:     make(chan struct{}, 1),
		sessions: make(map[*session]struct{}),
	}
}

// Observe requests an EventRecord broadcast for e. Records arriving before
// Run wakes up share one broadcast, tagged with the latest source.
func (h *Hub) Observe(e store.Entry) {
	h.pendingMu.Lock()
	h.pending = e.Record.Source
	h.pendingMu.Unlock()

	select {
	case h.kick <- struct{}{}:
	default:
	}
}

// Run broadcasts until ctx is cancelled, then disconnects every client. The
// tick restarts after each record broadcast.
func (h *Hub) Run(ctx context.Context) {
	tick := time.NewTicker(h.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			h.disconnectAll()
			return
		case <-tick.C:
			h.publish(EventSnapshot, "")
		case <-h.kick:
			h.pendingMu.Lock()
			src := h.pending
			h.pending = ""
			h.pendingMu.Unlock()
			h.publish(EventRecord, src)
			tick.Reset(h.interval)
		}
	}
}

// ServeHTTP upgrades the request and streams messages until the client goes
// away. The first message is a snapshot sent on connect.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade already replied
	}

	s := &session{conn: conn, queue: make(chan []byte, queueDepth)}
	if data, err := h.encode(EventSnapshot, ""); err == nil {
		s.queue <- data // queued before attach so publish cannot race it
	}
	h.attach(s)
	defer h.detach(s)

	go s.writeLoop()
	s.readLoop()
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) attach(s *session) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
}

// detach is idempotent; closing the queue stops the session's writeLoop.
func (h *Hub) detach(s *session) {
	h.mu.Lock()
	if _, ok := h.sessions[s]; ok {
		delete(h.sessions, s)
		close(s.queue)
	}
	h.mu.Unlock()
}

func (h *Hub) publish(event, source string) {
	data, err := h.encode(event, source)
	if err != nil {
		slog.Error("ws: encode message", "event", event, "err", err)
		return
	}

	h.mu.RLock()
	targets := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		select {
		case s.queue <- data:
		default:
			slog.Warn("ws: client too slow, disconnecting", "remote", s.conn.RemoteAddr().String())
			h.detach(s)
		}
	}
}

func (h *Hub) encode(event, source string) ([]byte, error) {
	return json.Marshal(Message{Event: event, Source: source, Data: h.src.Snapshot()})
}

func (h *Hub) disconnectAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.sessions {
		delete(h.sessions, s)
		close(s.queue)
	}
}

// writeLoop is the only writer on s.conn. It forwards queued messages and
// keeps the connection alive with pings.
func (s *session) writeLoop() {
	ping := time.NewTicker(pingEvery)
	defer func() {
		ping.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case data, open := <-s.queue:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !open {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop discards inbound frames so pongs and close frames are processed.
// It returns once the client disconnects or stops answering pings.
func (s *session) readLoop() {
	defer s.conn.Close()
	s.conn.SetReadLimit(maxInbound)
	s.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
