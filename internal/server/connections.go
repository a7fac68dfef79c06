package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
)

// messageSocket is the part of *websocket.Conn the write pump uses.
type messageSocket interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// conn is one websocket handle. It implements match.Peer: Send and Close
// never block, the write pump does the I/O.
type conn struct {
	id     string
	socket messageSocket
	logger *slog.Logger

	send      chan []byte
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	reason    string
}

func newConn(id string, socket messageSocket, logger *slog.Logger) *conn {
	return &conn{
		id:      id,
		socket:  socket,
		logger:  logger.With("connection_id", id),
		send:    make(chan []byte, sendBuffer),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (c *conn) ID() string { return c.id }

// Send queues an envelope for the write pump. A client that stops reading
// long enough to fill the buffer is disconnected.
func (c *conn) Send(event string, payload any) {
	data, err := json.Marshal(ServerMessage{Type: event, Payload: payload})
	if err != nil {
		c.logger.Error("failed to marshal message", "event", event, "err", err)
		return
	}
	select {
	case <-c.closing:
		return
	default:
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("send buffer full, closing connection", "event", event)
		c.Close("client too slow")
	}
}

// Close asks the write pump to flush what is queued and close the socket.
func (c *conn) Close(reason string) {
	c.closeOnce.Do(func() {
		c.reason = reason
		close(c.closing)
	})
}

// Done is closed once the write pump has exited.
func (c *conn) Done() <-chan struct{} { return c.done }

func (c *conn) writePump(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case data := <-c.send:
			if err := c.write(ctx, data); err != nil {
				c.logger.Debug("write failed", "err", err)
				c.socket.Close(websocket.StatusInternalError, "write failed")
				return
			}
		case <-c.closing:
			c.flush(ctx)
			c.socket.Close(websocket.StatusNormalClosure, c.reason)
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *conn) flush(ctx context.Context) {
	for {
		select {
		case data := <-c.send:
			if err := c.write(ctx, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *conn) write(ctx context.Context, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.socket.Write(ctx, websocket.MessageText, data)
}

// ConnectionManager tracks the open websocket handles of this process.
type ConnectionManager struct {
	connections map[string]*conn
	mu          sync.RWMutex
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*conn),
	}
}

func (cm *ConnectionManager) AddConnection(c *conn) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.connections[c.id] = c
}

func (cm *ConnectionManager) RemoveConnection(connID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.connections, connID)
}

func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

// CloseAll closes every tracked connection with reason.
func (cm *ConnectionManager) CloseAll(reason string) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	for _, c := range cm.connections {
		c.Close(reason)
	}
}
