// Package gateway terminates the per-client bidirectional WebSocket
// connection and bridges it to the relay core: JSON text frames carry
// control events, binary frames carry media chunks. Each connection is one
// streaming session identified by a transport-assigned UUID.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"relaycast/internal/observability/logging"
	"relaycast/internal/relay"
	"relaycast/internal/simulate"
)

const (
	// EventBeginStream asks the supervisor to start a pipeline.
	EventBeginStream = "begin-stream"
	// EventEndStream asks the supervisor to stop the pipeline.
	EventEndStream = "end-stream"
	// EventStreamStatus reports pipeline lifecycle transitions.
	EventStreamStatus = "stream-status"
	// EventViewerUpdate carries simulated per-platform viewer counts.
	EventViewerUpdate = "viewer-update"
	// EventChatUpdate carries the most recent simulated chat records.
	EventChatUpdate = "chat-update"
)

const (
	defaultSendBuffer    = 16
	defaultMaxChunkBytes = 8 << 20
	writeWait            = 10 * time.Second
)

// Controller starts and stops per-session transcoding pipelines.
type Controller interface {
	Start(ctx context.Context, sessionID string, destinations []string) error
	Stop(sessionID string)
	Terminate(sessionID string)
}

// ChunkRelay forwards media chunks into a session's pipeline.
type ChunkRelay interface {
	Relay(ctx context.Context, sessionID string, chunk []byte) error
}

// Config configures a Gateway.
type Config struct {
	Logger *slog.Logger
	// Heartbeat controls how often ping frames are sent to connected
	// clients. A zero value disables heartbeats.
	Heartbeat time.Duration
	// SendBuffer bounds the per-session outbound event queue. Events are
	// dropped, never blocked on, when the queue is full.
	SendBuffer int
	// MaxChunkBytes caps the size of a single inbound frame.
	MaxChunkBytes int64
	// CheckOrigin overrides the upgrade origin policy. The default allows
	// every origin, matching the original service's open CORS posture.
	CheckOrigin func(*http.Request) bool
}

// Gateway owns all connected sessions and implements the emitter contracts
// of both the relay core and the simulation collaborator.
type Gateway struct {
	logger        *slog.Logger
	upgrader      websocket.Upgrader
	heartbeat     time.Duration
	sendBuffer    int
	maxChunkBytes int64

	controller Controller
	relay      ChunkRelay

	mu       sync.RWMutex
	sessions map[string]*session
}

// New initialises a gateway. Attach must be called before the first
// connection is served.
func New(cfg Config) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sendBuffer := cfg.SendBuffer
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	maxChunk := cfg.MaxChunkBytes
	if maxChunk <= 0 {
		maxChunk = defaultMaxChunkBytes
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Gateway{
		logger:        logger,
		upgrader:      websocket.Upgrader{CheckOrigin: checkOrigin},
		heartbeat:     cfg.Heartbeat,
		sendBuffer:    sendBuffer,
		maxChunkBytes: maxChunk,
		sessions:      make(map[string]*session),
	}
}

// Attach wires the gateway to the relay core. Separate from New because the
// supervisor needs the gateway as its status emitter.
func (g *Gateway) Attach(controller Controller, chunkRelay ChunkRelay) {
	g.controller = controller
	g.relay = chunkRelay
}

// HandleConnection upgrades the request to a WebSocket and serves the
// session until the client disconnects. The connection's teardown always
// terminates the session's pipeline; terminating an already-stopped
// session is a no-op.
func (g *Gateway) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	ctx = logging.ContextWithSessionID(ctx, id)
	s := &session{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, g.sendBuffer),
		cancel: cancel,
		logger: g.logger.With("session_id", id),
	}
	g.register(s)
	s.logger.Info("session connected", "remote_addr", r.RemoteAddr)

	go s.writeLoop(ctx, g.heartbeat)
	g.readLoop(ctx, s)

	g.unregister(s)
	cancel()
	if g.controller != nil {
		g.controller.Terminate(id)
	}
	s.logger.Info("session disconnected")
}

// SessionCount reports the number of connected sessions.
func (g *Gateway) SessionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

// Emit implements relay.Emitter: lifecycle status events are delivered to
// the originating session only, best-effort.
func (g *Gateway) Emit(sessionID string, status relay.Status) {
	g.push(sessionID, statusEvent{
		Type:    EventStreamStatus,
		Status:  status.Status,
		Message: status.Message,
		Detail:  status.Detail,
	})
}

// EmitViewerUpdate implements simulate.Emitter.
func (g *Gateway) EmitViewerUpdate(sessionID string, counts map[string]int) {
	g.push(sessionID, viewerEvent{Type: EventViewerUpdate, Counts: counts})
}

// EmitChatUpdate implements simulate.Emitter.
func (g *Gateway) EmitChatUpdate(sessionID string, records []simulate.ChatRecord) {
	g.push(sessionID, chatEvent{Type: EventChatUpdate, Messages: records})
}

type controlMessage struct {
	Type         string   `json:"type"`
	Destinations []string `json:"destinations"`
}

type statusEvent struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Detail  any    `json:"detail,omitempty"`
}

type viewerEvent struct {
	Type   string         `json:"type"`
	Counts map[string]int `json:"counts"`
}

type chatEvent struct {
	Type     string                `json:"type"`
	Messages []simulate.ChatRecord `json:"messages"`
}

func (g *Gateway) readLoop(ctx context.Context, s *session) {
	s.conn.SetReadLimit(g.maxChunkBytes)
	if g.heartbeat > 0 {
		deadline := 2 * g.heartbeat
		_ = s.conn.SetReadDeadline(time.Now().Add(deadline))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(deadline))
		})
	}
	for {
		messageType, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("read failed", "error", err)
			}
			return
		}
		switch messageType {
		case websocket.BinaryMessage:
			if g.relay == nil {
				continue
			}
			// Relay blocks under backpressure, pausing intake for
			// this session only. Failures emit their own status.
			if err := g.relay.Relay(ctx, s.id, payload); err != nil {
				s.logger.Debug("relay chunk", "error", err)
			}
		case websocket.TextMessage:
			g.handleControl(ctx, s, payload)
		}
	}
}

func (g *Gateway) handleControl(ctx context.Context, s *session, payload []byte) {
	var msg controlMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.logger.Warn("malformed control message", "error", err)
		return
	}
	if g.controller == nil {
		s.logger.Error("no pipeline controller attached")
		return
	}
	switch msg.Type {
	case EventBeginStream:
		if err := g.controller.Start(ctx, s.id, msg.Destinations); err != nil {
			// The supervisor already reported the failure status.
			s.logger.Warn("begin stream", "error", err)
		}
	case EventEndStream:
		g.controller.Stop(s.id)
	default:
		s.logger.Warn("unknown control message", "type", msg.Type)
	}
}

func (g *Gateway) push(sessionID string, event any) {
	g.mu.RLock()
	s := g.sessions[sessionID]
	g.mu.RUnlock()
	if s == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("marshal outbound event", "error", err)
		return
	}
	select {
	case s.send <- payload:
	default:
		s.logger.Debug("outbound queue full, dropping event")
	}
}

func (g *Gateway) register(s *session) {
	g.mu.Lock()
	g.sessions[s.id] = s
	g.mu.Unlock()
}

func (g *Gateway) unregister(s *session) {
	g.mu.Lock()
	delete(g.sessions, s.id)
	g.mu.Unlock()
}
