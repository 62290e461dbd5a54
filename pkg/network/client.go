package network

import (
	"context"
	"fmt"
	"sync"

	"github.com/cbodonnell/sessionkeeper/pkg/log"
	"github.com/cbodonnell/sessionkeeper/pkg/messages"
	"nhooyr.io/websocket"
)

// WSClient is the presentation side of a connection: it sends commands to
// the runtime and receives outcome and event messages.
type WSClient struct {
	serverAddr string
	lock       sync.Mutex
	conn       *websocket.Conn
}

// NewWSClient creates a new WebSocket client.
func NewWSClient(serverAddr string) *WSClient {
	return &WSClient{
		serverAddr: serverAddr,
	}
}

// Connect establishes a connection to the WebSocket server.
func (c *WSClient) Connect(ctx context.Context) error {
	log.Info("Connecting to WebSocket server at %s", c.serverAddr)
	conn, _, err := websocket.Dial(ctx, c.serverAddr, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %v", err)
	}
	conn.SetReadLimit(MaxFrameSize)

	c.lock.Lock()
	defer c.lock.Unlock()
	c.conn = conn
	return nil
}

func (c *WSClient) getConn() (*websocket.Conn, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.conn == nil {
		return nil, fmt.Errorf("not connected")
	}
	return c.conn, nil
}

// HandleMessages calls handler for every message from the server until the
// connection closes or ctx is done.
func (c *WSClient) HandleMessages(ctx context.Context, handler func(msg *messages.Message)) error {
	conn, err := c.getConn()
	if err != nil {
		return err
	}
	for {
		msg, err := ReadMessageFromWS(ctx, conn)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				log.Trace("Connection closed for %s", c.serverAddr)
				return nil
			}
			return fmt.Errorf("failed to read message: %v", err)
		}
		log.Trace("Received %s.%s from WebSocket server", msg.Target, msg.Method)
		handler(msg)
	}
}

// SendMessage sends a message to the WebSocket server.
func (c *WSClient) SendMessage(ctx context.Context, msg *messages.Message) error {
	conn, err := c.getConn()
	if err != nil {
		return err
	}
	return WriteMessageToWS(ctx, conn, msg)
}

// Close closes the WebSocket connection.
func (c *WSClient) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.conn == nil {
		log.Warn("WebSocket connection is already closed")
		return nil
	}
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	c.conn = nil
	return err
}
