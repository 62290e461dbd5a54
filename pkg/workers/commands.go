package workers

import (
	"context"

	"github.com/cbodonnell/sessionkeeper/pkg/log"
	"github.com/cbodonnell/sessionkeeper/pkg/network"
	"github.com/cbodonnell/sessionkeeper/pkg/queue"
)

// CommandHandler executes a command sent by the presentation layer.
type CommandHandler interface {
	HandleCommand(ctx context.Context, inbound *network.InboundMessage) error
}

type CommandWorker struct {
	messageQueue queue.Queue
	handler      CommandHandler
}

type NewCommandWorkerOptions struct {
	MessageQueue queue.Queue
	Handler      CommandHandler
}

// NewCommandWorker creates a new CommandWorker.
// The worker drains inbound messages one at a time, so commands run in the
// order they were received.
func NewCommandWorker(opts NewCommandWorkerOptions) *CommandWorker {
	return &CommandWorker{
		messageQueue: opts.MessageQueue,
		handler:      opts.Handler,
	}
}

func (w *CommandWorker) Start(ctx context.Context) {
	for {
		item, err := w.messageQueue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("Failed to dequeue command: %v", err)
			}
			return
		}

		inbound, ok := item.(*network.InboundMessage)
		if !ok {
			log.Error("Unexpected item in command queue: %T", item)
			continue
		}

		if err := w.handler.HandleCommand(ctx, inbound); err != nil {
			log.Error("Failed to handle %s from %s: %v", inbound.Message.Method, inbound.ConnectionID, err)
		}
	}
}
