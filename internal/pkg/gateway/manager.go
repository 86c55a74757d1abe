package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Gopher0727/Strangers/config"
	"github.com/Gopher0727/Strangers/internal/events"
)

// ConnectionManager tracks the event stream of every session and routes
// session events to it. A session has at most one stream; a new one
// replaces the old.
type ConnectionManager struct {
	connections map[string]*Connection
	mu          sync.RWMutex

	config *config.WebsocketConfig
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConnectionManager creates a new ConnectionManager and starts the
// heartbeat monitor when an interval is configured.
//
// Parameters:
//   - ctx: Parent context for the manager
//   - cfg: WebSocket configuration
//   - logger: Logger for connection events
//
// Returns:
//   - *ConnectionManager: The initialized connection manager
func NewConnectionManager(ctx context.Context, cfg *config.WebsocketConfig, logger *zap.Logger) *ConnectionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	managerCtx, cancel := context.WithCancel(ctx)
	cm := &ConnectionManager{
		connections: make(map[string]*Connection),
		config:      cfg,
		logger:      logger,
		ctx:         managerCtx,
		cancel:      cancel,
	}
	if cfg.HeartbeatInterval > 0 {
		cm.wg.Go(cm.monitorHeartbeats)
	}
	return cm
}

// AddConnection registers conn as the stream of sessionID, closing any
// previous stream of that session.
func (cm *ConnectionManager) AddConnection(sessionID string, conn *websocket.Conn) *Connection {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if existing, ok := cm.connections[sessionID]; ok {
		_ = existing.Close()
	}
	connection := NewConnection(cm.ctx, sessionID, conn, cm.config.SendBuffer)
	cm.connections[sessionID] = connection
	cm.logger.Debug("event stream opened", zap.String("session_id", sessionID))
	return connection
}

// RemoveConnection closes conn and forgets it unless it was already
// replaced.
func (cm *ConnectionManager) RemoveConnection(conn *Connection) {
	cm.forget(conn)
	if err := conn.Close(); err != nil {
		cm.logger.Debug("close event stream", zap.String("session_id", conn.SessionID), zap.Error(err))
	}
}

func (cm *ConnectionManager) GetConnection(sessionID string) (*Connection, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	conn, ok := cm.connections[sessionID]
	return conn, ok
}

func (cm *ConnectionManager) ConnectionCount() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

// Dispatch pushes e to the stream of its session. A closed session also
// finishes its stream: the writer sends the final frame and then closes
// the socket.
func (cm *ConnectionManager) Dispatch(e events.Event) {
	conn, ok := cm.GetConnection(e.SessionID)
	if !ok {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		cm.logger.Error("encode event", zap.String("type", string(e.Type)), zap.Error(err))
		return
	}
	if !conn.Enqueue(data) {
		cm.logger.Warn("event stream full, dropping event",
			zap.String("session_id", e.SessionID), zap.String("type", string(e.Type)))
	}
	if e.Type == events.SessionClosed {
		cm.forget(conn)
		conn.Finish()
	}
}

// forget drops conn from the routing table without closing it.
func (cm *ConnectionManager) forget(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if current, ok := cm.connections[conn.SessionID]; ok && current == conn {
		delete(cm.connections, conn.SessionID)
	}
}

// Run dispatches everything received on ch until ch closes or the manager
// shuts down.
func (cm *ConnectionManager) Run(ch <-chan events.Event) {
	cm.wg.Go(func() {
		for {
			select {
			case <-cm.ctx.Done():
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				cm.Dispatch(e)
			}
		}
	})
}

func (cm *ConnectionManager) monitorHeartbeats() {
	interval := time.Duration(cm.config.HeartbeatInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// a stream is dead after two missed heartbeats
	timeout := 2 * interval
	for {
		select {
		case <-cm.ctx.Done():
			return
		case <-ticker.C:
			cm.checkHeartbeats(timeout)
		}
	}
}

func (cm *ConnectionManager) checkHeartbeats(timeout time.Duration) {
	cm.mu.RLock()
	var dead []*Connection
	for _, conn := range cm.connections {
		if !conn.IsAlive(timeout) {
			dead = append(dead, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range dead {
		cm.logger.Info("removing dead event stream", zap.String("session_id", conn.SessionID))
		cm.RemoveConnection(conn)
	}
}

// Shutdown closes every stream and waits for background goroutines.
func (cm *ConnectionManager) Shutdown() {
	cm.cancel()

	cm.mu.Lock()
	for sessionID, conn := range cm.connections {
		_ = conn.Close()
		delete(cm.connections, sessionID)
	}
	cm.mu.Unlock()

	cm.wg.Wait()
}
