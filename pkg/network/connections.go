package network

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cbodonnell/sessionkeeper/pkg/bridge"
	"github.com/cbodonnell/sessionkeeper/pkg/log"
	"github.com/cbodonnell/sessionkeeper/pkg/messages"
	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

// ConnectionEventChannelSize represents the size of the connection event channel
const ConnectionEventChannelSize = 1024

var _ bridge.Sink = &Connection{}

// Connection is a presentation layer attached over a WebSocket. Outbound
// messages use the frame type of the last inbound frame: zstd compressed
// binary frames by default, plain JSON text frames for browser clients.
type Connection struct {
	ID   uuid.UUID
	conn *websocket.Conn

	lock sync.Mutex
	text bool
}

func (c *Connection) setFrameType(typ websocket.MessageType) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.text = typ == websocket.MessageText
}

// Deliver writes msg to the connection.
func (c *Connection) Deliver(ctx context.Context, msg *messages.Message) error {
	c.lock.Lock()
	text := c.text
	c.lock.Unlock()

	if text {
		b, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %v", err)
		}
		if err := c.conn.Write(ctx, websocket.MessageText, b); err != nil {
			return fmt.Errorf("failed to write message to connection %s: %w", c.ID, err)
		}
		return nil
	}

	if err := WriteMessageToWS(ctx, c.conn, msg); err != nil {
		return fmt.Errorf("failed to write message to connection %s: %w", c.ID, err)
	}
	return nil
}

// ConnectionEvent represents something that happened to a connection
type ConnectionEvent struct {
	ConnectionID uuid.UUID
	Type         ConnectionEventType
}

// ConnectionEventType represents the type of a connection event
type ConnectionEventType int

const (
	ConnectionEventTypeConnect ConnectionEventType = iota
	ConnectionEventTypeDisconnect
)

func (t ConnectionEventType) String() string {
	switch t {
	case ConnectionEventTypeConnect:
		return "connect"
	case ConnectionEventTypeDisconnect:
		return "disconnect"
	default:
		return fmt.Sprintf("ConnectionEventType(%d)", int(t))
	}
}

// ConnectionManager manages open presentation connections
type ConnectionManager struct {
	connections     map[uuid.UUID]*Connection
	connectionsLock sync.RWMutex
	eventChan       chan ConnectionEvent
}

// NewConnectionManager creates a new ConnectionManager
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[uuid.UUID]*Connection),
		eventChan:   make(chan ConnectionEvent, ConnectionEventChannelSize),
	}
}

// GetEventChan returns a one-way channel for receiving connection events
func (cm *ConnectionManager) GetEventChan() <-chan ConnectionEvent {
	return cm.eventChan
}

// Connect registers conn and returns its Connection
func (cm *ConnectionManager) Connect(conn *websocket.Conn) *Connection {
	cm.connectionsLock.Lock()
	defer cm.connectionsLock.Unlock()

	c := &Connection{
		ID:   uuid.New(),
		conn: conn,
	}
	cm.connections[c.ID] = c
	cm.publish(ConnectionEvent{ConnectionID: c.ID, Type: ConnectionEventTypeConnect})
	return c
}

// Disconnect removes a connection from the manager
func (cm *ConnectionManager) Disconnect(id uuid.UUID) {
	cm.connectionsLock.Lock()
	defer cm.connectionsLock.Unlock()

	if _, ok := cm.connections[id]; !ok {
		return
	}
	delete(cm.connections, id)
	cm.publish(ConnectionEvent{ConnectionID: id, Type: ConnectionEventTypeDisconnect})
}

// GetConnection returns the connection with the given id
func (cm *ConnectionManager) GetConnection(id uuid.UUID) (*Connection, error) {
	cm.connectionsLock.RLock()
	defer cm.connectionsLock.RUnlock()
	c, ok := cm.connections[id]
	if !ok {
		return nil, fmt.Errorf("connection %s not found", id)
	}
	return c, nil
}

// GetSink returns the connection with the given id as a bridge.Sink
func (cm *ConnectionManager) GetSink(id uuid.UUID) (bridge.Sink, error) {
	return cm.GetConnection(id)
}

// Count returns the number of open connections
func (cm *ConnectionManager) Count() int {
	cm.connectionsLock.RLock()
	defer cm.connectionsLock.RUnlock()
	return len(cm.connections)
}

// publish must be called with the lock held. Events are dropped rather than
// blocking connection handling when nobody drains the channel.
func (cm *ConnectionManager) publish(event ConnectionEvent) {
	select {
	case cm.eventChan <- event:
	default:
		log.Warn("Connection event channel full, dropping %s event for %s", event.Type, event.ConnectionID)
	}
}
