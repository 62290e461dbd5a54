package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/cbodonnell/sessionkeeper/pkg/log"
	"github.com/cbodonnell/sessionkeeper/pkg/messages"
	"nhooyr.io/websocket"
)

// MaxFrameSize bounds a single inbound frame.
const MaxFrameSize = messages.MaxMessageSize

// DefaultHost keeps the runtime reachable from this machine only.
const DefaultHost = "127.0.0.1"

// WSServer accepts presentation layer connections.
type WSServer struct {
	host           string
	port           int
	originPatterns []string
	tls            *TLSConfig
	connections    *ConnectionManager
}

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type NewWSServerOptions struct {
	// Host is the interface to listen on, DefaultHost when empty.
	Host string
	Port int
	// OriginPatterns lists the page origins, as host patterns, allowed to
	// connect besides the server's own host. Requests without an Origin
	// header are not browsers and are always accepted.
	OriginPatterns []string
	TLS            *TLSConfig
	Connections    *ConnectionManager
}

// NewWSServer creates a new WebSocket server.
func NewWSServer(opts NewWSServerOptions) *WSServer {
	connections := opts.Connections
	if connections == nil {
		connections = NewConnectionManager()
	}
	host := opts.Host
	if host == "" {
		host = DefaultHost
	}
	return &WSServer{
		host:           host,
		port:           opts.Port,
		originPatterns: opts.OriginPatterns,
		tls:            opts.TLS,
		connections:    connections,
	}
}

// DisconnectHandler is called once a connection is gone.
type DisconnectHandler func(conn *Connection)

// MessageHandler is called for every message read from a connection, in
// the order the messages arrived.
type MessageHandler func(ctx context.Context, conn *Connection, message *messages.Message)

// Handler returns the HTTP handler that upgrades requests to WebSocket
// connections.
func (s *WSServer) Handler(ctx context.Context, disconnectHandler DisconnectHandler, messageHandler MessageHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: s.originPatterns,
		})
		if err != nil {
			log.Warn("Rejected WebSocket connection from %s: %v", r.RemoteAddr, err)
			return
		}
		conn.SetReadLimit(MaxFrameSize)
		log.Debug("New WebSocket connection from %s", r.RemoteAddr)
		s.handleWSConnection(ctx, conn, disconnectHandler, messageHandler)
	})
}

// Start serves WebSocket connections until ctx is done.
func (s *WSServer) Start(ctx context.Context, disconnectHandler DisconnectHandler, messageHandler MessageHandler) {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	server := &http.Server{Addr: addr, Handler: s.Handler(ctx, disconnectHandler, messageHandler)}

	go func() {
		<-ctx.Done()
		server.Shutdown(context.Background())
	}()

	var listenAndServe func() error
	if s.tls != nil {
		log.Info("WebSocket server listening on %s with TLS", addr)
		listenAndServe = func() error {
			return server.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
		}
	} else {
		log.Info("WebSocket server listening on %s", addr)
		listenAndServe = server.ListenAndServe
	}
	if err := listenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("WebSocket server closed")
			return
		}
		log.Error("WebSocket server error: %v", err)
	}
}

// handleWSConnection reads from conn until it closes.
func (s *WSServer) handleWSConnection(ctx context.Context, conn *websocket.Conn, disconnectHandler DisconnectHandler, messageHandler MessageHandler) {
	ctx, cancel := context.WithCancel(ctx)
	c := s.connections.Connect(conn)
	defer func() {
		cancel()
		s.connections.Disconnect(c.ID)
		disconnectHandler(c)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		typ, b, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				log.Error("Error reading WebSocket message from %s: %v", c.ID, err)
			}
			log.Trace("Connection closed for %s", c.ID)
			return
		}

		message, err := decodeFrame(typ, b)
		if err != nil {
			log.Warn("Dropping malformed frame from %s: %v", c.ID, err)
			continue
		}
		c.setFrameType(typ)
		messageHandler(ctx, c, message)
	}
}

func decodeFrame(typ websocket.MessageType, b []byte) (*messages.Message, error) {
	if typ == websocket.MessageText {
		return messages.DeserializeMessageJSON(b)
	}
	return messages.DeserializeMessage(b)
}

// WriteMessageToWS writes a Message to a WebSocket connection as a binary frame
func WriteMessageToWS(ctx context.Context, conn *websocket.Conn, msg *messages.Message) error {
	b, err := messages.SerializeMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %v", err)
	}

	if err := conn.Write(ctx, websocket.MessageBinary, b); err != nil {
		return fmt.Errorf("failed to write message to WebSocket connection: %v", err)
	}

	return nil
}

// ReadMessageFromWS reads a Message from a WebSocket connection
func ReadMessageFromWS(ctx context.Context, conn *websocket.Conn) (*messages.Message, error) {
	typ, b, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}

	msg, err := decodeFrame(typ, b)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize message: %v", err)
	}

	return msg, nil
}
