package network

import (
	"context"
	"net/http"

	"github.com/cbodonnell/sessionkeeper/pkg/log"
	"github.com/cbodonnell/sessionkeeper/pkg/messages"
	"github.com/cbodonnell/sessionkeeper/pkg/queue"
	"github.com/google/uuid"
)

// InboundMessage is a command read from a presentation connection.
type InboundMessage struct {
	ConnectionID uuid.UUID
	Message      *messages.Message
}

type NetworkManager struct {
	ConnectionManager *ConnectionManager
	MessageQueue      queue.Queue
	WSServer          *WSServer
}

type NewNetworkManagerOptions struct {
	ConnectionManager *ConnectionManager
	MessageQueue      queue.Queue
	WSHost            string
	WSPort            int
	OriginPatterns    []string
	WSServerTLS       *TLSConfig
}

func NewNetworkManager(options NewNetworkManagerOptions) *NetworkManager {
	connections := options.ConnectionManager
	if connections == nil {
		connections = NewConnectionManager()
	}
	return &NetworkManager{
		ConnectionManager: connections,
		MessageQueue:      options.MessageQueue,
		WSServer: NewWSServer(NewWSServerOptions{
			Host:           options.WSHost,
			Port:           options.WSPort,
			OriginPatterns: options.OriginPatterns,
			TLS:            options.WSServerTLS,
			Connections:    connections,
		}),
	}
}

func (n *NetworkManager) Start(ctx context.Context) {
	go n.WSServer.Start(ctx, n.handleDisconnect, n.handleMessage)
}

// Handler serves connections on an existing HTTP server.
func (n *NetworkManager) Handler(ctx context.Context) http.Handler {
	return n.WSServer.Handler(ctx, n.handleDisconnect, n.handleMessage)
}

func (n *NetworkManager) handleDisconnect(conn *Connection) {
	log.Info("Connection %s disconnected", conn.ID)
}

func (n *NetworkManager) handleMessage(ctx context.Context, conn *Connection, message *messages.Message) {
	log.Trace("Received %s from %s", message.Method, conn.ID)
	if err := n.MessageQueue.Enqueue(&InboundMessage{ConnectionID: conn.ID, Message: message}); err != nil {
		log.Error("Failed to enqueue message: %v", err)
	}
}
