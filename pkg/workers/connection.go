package workers

import (
	"context"

	"github.com/cbodonnell/sessionkeeper/pkg/log"
	"github.com/cbodonnell/sessionkeeper/pkg/network"
	"github.com/google/uuid"
)

type ConnectionEventWorker struct {
	connectionEventChan <-chan network.ConnectionEvent
	onConnect           func(id uuid.UUID)
	onDisconnect        func(id uuid.UUID)
}

type NewConnectionEventWorkerOptions struct {
	ConnectionEventChan <-chan network.ConnectionEvent
	OnConnect           func(id uuid.UUID)
	OnDisconnect        func(id uuid.UUID)
}

// NewConnectionEventWorker creates a new ConnectionEventWorker.
// The worker processes connect and disconnect events of presentation
// connections so that a closed connection stops receiving messages.
func NewConnectionEventWorker(opts NewConnectionEventWorkerOptions) *ConnectionEventWorker {
	return &ConnectionEventWorker{
		connectionEventChan: opts.ConnectionEventChan,
		onConnect:           opts.OnConnect,
		onDisconnect:        opts.OnDisconnect,
	}
}

func (w *ConnectionEventWorker) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-w.connectionEventChan:
			switch event.Type {
			case network.ConnectionEventTypeConnect:
				log.Debug("Presentation connection %s opened", event.ConnectionID)
				if w.onConnect != nil {
					w.onConnect(event.ConnectionID)
				}
			case network.ConnectionEventTypeDisconnect:
				log.Debug("Presentation connection %s closed", event.ConnectionID)
				if w.onDisconnect != nil {
					w.onDisconnect(event.ConnectionID)
				}
			default:
				log.Error("Unknown connection event type: %v", event.Type)
			}
		}
	}
}
