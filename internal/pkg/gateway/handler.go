package gateway

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Gopher0727/Strangers/config"
)

const writeWait = 10 * time.Second

// StreamHandler upgrades HTTP requests into session event streams.
// The stream is one-way: client frames only count as heartbeats.
type StreamHandler struct {
	connManager *ConnectionManager
	config      *config.WebsocketConfig
	logger      *zap.Logger
	upgrader    websocket.Upgrader
}

func NewStreamHandler(connManager *ConnectionManager, cfg *config.WebsocketConfig, logger *zap.Logger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{
		connManager: connManager,
		config:      cfg,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// the bridge serves a local view
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Serve upgrades the request and streams the events of sessionID until
// either side closes.
func (h *StreamHandler) Serve(w http.ResponseWriter, r *http.Request, sessionID string) error {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	conn := h.connManager.AddConnection(sessionID, ws)
	go h.readPump(conn)
	go h.writePump(conn)
	return nil
}

func (h *StreamHandler) timeout() time.Duration {
	if h.config.ConnectionTimeout <= 0 {
		return 0
	}
	return time.Duration(h.config.ConnectionTimeout) * time.Second
}

func (h *StreamHandler) extendReadDeadline(conn *Connection) {
	if d := h.timeout(); d > 0 {
		_ = conn.Conn.SetReadDeadline(time.Now().Add(d))
	}
}

// readPump keeps the heartbeat fresh and notices when the client leaves.
func (h *StreamHandler) readPump(conn *Connection) {
	defer h.connManager.RemoveConnection(conn)

	h.extendReadDeadline(conn)
	conn.Conn.SetPongHandler(func(string) error {
		conn.UpdateHeartbeat()
		h.extendReadDeadline(conn)
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Debug("event stream read error", zap.String("session_id", conn.SessionID), zap.Error(err))
			}
			return
		}
		conn.UpdateHeartbeat()
		h.extendReadDeadline(conn)
	}
}

// closeStream says goodbye once the queue is drained and releases the
// socket.
func (h *StreamHandler) closeStream(conn *Connection) {
	_ = conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
	h.connManager.RemoveConnection(conn)
}

// writePump forwards queued events and pings the client.
func (h *StreamHandler) writePump(conn *Connection) {
	interval := time.Duration(h.config.HeartbeatInterval) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-conn.Context().Done():
			return
		case message, ok := <-conn.Send:
			if !ok {
				h.closeStream(conn)
				return
			}
			_ = conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debug("event stream write failed", zap.String("session_id", conn.SessionID), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
