package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// session is one connected producing client. The send channel is drained by
// a dedicated write loop; readers never write to the connection directly.
type session struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	cancel context.CancelFunc
	logger *slog.Logger
}

func (s *session) writeLoop(ctx context.Context, heartbeat time.Duration) {
	var ping <-chan time.Time
	if heartbeat > 0 {
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		ping = ticker.C
	}
	defer s.conn.Close()
	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(writeWait)
			_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		case payload := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.logger.Debug("write failed", "error", err)
				return
			}
		case <-ping:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
