package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

const (
	sendBufferSize = 64
	writeTimeout   = 5 * time.Second
)

// Sender delivers a message to one connection without blocking.
type Sender interface {
	Send(connectionID string, msg ServerMessage)
}

// Connection is one live websocket client. Outbound messages go through send and
// are written by a single writer goroutine, so per-connection order is the order
// in which Send was called.
type Connection struct {
	ID      string
	Address string

	socket *websocket.Conn
	send   chan ServerMessage
	done   chan struct{}
	once   sync.Once
}

func NewConnection(id, address string, socket *websocket.Conn) *Connection {
	return &Connection{
		ID:      id,
		Address: address,
		socket:  socket,
		send:    make(chan ServerMessage, sendBufferSize),
		done:    make(chan struct{}),
	}
}

// writeLoop drains the send queue until ctx ends or the connection is closed.
func (c *Connection) writeLoop(ctx context.Context, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case msg := <-c.send:
			data, err := json.Marshal(msg)
			if err != nil {
				logger.Error("failed to marshal outbound message",
					zap.String("conn_id", c.ID), zap.String("type", msg.Type), zap.Error(err))
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = c.socket.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.Debug("write failed", zap.String("conn_id", c.ID), zap.Error(err))
				c.close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

func (c *Connection) close(code websocket.StatusCode, reason string) {
	c.once.Do(func() {
		close(c.done)
		if c.socket != nil {
			// Close waits for the peer's close frame; never block the caller on it.
			go c.socket.Close(code, reason)
		}
	})
}

type ConnectionManager struct {
	connections map[string]*Connection // connectionID -> connection
	mu          sync.RWMutex
	logger      *zap.Logger
}

func NewConnectionManager(logger *zap.Logger) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*Connection),
		logger:      logger,
	}
}

func (cm *ConnectionManager) AddConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.connections[conn.ID] = conn
}

func (cm *ConnectionManager) RemoveConnection(id string) {
	cm.mu.Lock()
	conn, ok := cm.connections[id]
	delete(cm.connections, id)
	cm.mu.Unlock()

	if ok {
		conn.close(websocket.StatusNormalClosure, "")
	}
}

// GetConnection returns the connection for connectionID
func (cm *ConnectionManager) GetConnection(id string) *Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.connections[id]
}

func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

// Send queues msg for connectionID. A client whose queue is full is too slow to
// keep up with its room and gets disconnected; its disconnect turns into a leave.
func (cm *ConnectionManager) Send(id string, msg ServerMessage) {
	conn := cm.GetConnection(id)
	if conn == nil {
		return
	}

	select {
	case <-conn.done:
	case conn.send <- msg:
	default:
		cm.logger.Warn("send queue full, dropping slow connection", zap.String("conn_id", id))
		conn.close(websocket.StatusPolicyViolation, "too slow")
	}
}

// CloseAll closes every connection, used during shutdown.
func (cm *ConnectionManager) CloseAll(reason string) {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections))
	for _, c := range cm.connections {
		conns = append(conns, c)
	}
	cm.mu.RUnlock()

	for _, c := range conns {
		c.close(websocket.StatusGoingAway, reason)
	}
}
