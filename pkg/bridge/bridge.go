// Package bridge delivers string messages to the presentation layer. Messages
// sent before the presentation layer is ready are held and delivered, in
// order and exactly once, when it attaches.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cbodonnell/sessionkeeper/pkg/log"
	"github.com/cbodonnell/sessionkeeper/pkg/messages"
)

const (
	DefaultMaxPending      = 1024
	DefaultDeliveryTimeout = 5 * time.Second
)

var (
	// ErrOutboxFull is returned when too many messages wait for the
	// presentation layer.
	ErrOutboxFull = errors.New("bridge outbox is full")
	ErrClosed     = errors.New("bridge is closed")
)

// Sink delivers a message to an attached presentation layer.
type Sink interface {
	Deliver(ctx context.Context, msg *messages.Message) error
}

type Bridge struct {
	// lock is held across deliveries so that messages leave in send order.
	lock            sync.Mutex
	sink            Sink
	pending         []*messages.Message
	sent            map[string]string
	closed          bool
	maxPending      int
	deliveryTimeout time.Duration
	logger          *log.Logger
}

type NewBridgeOptions struct {
	MaxPending      int
	DeliveryTimeout time.Duration
}

func New(opts NewBridgeOptions) *Bridge {
	b := &Bridge{
		sent:            make(map[string]string),
		maxPending:      opts.MaxPending,
		deliveryTimeout: opts.DeliveryTimeout,
		logger:          log.With("component", "bridge"),
	}
	if b.maxPending <= 0 {
		b.maxPending = DefaultMaxPending
	}
	if b.deliveryTimeout <= 0 {
		b.deliveryTimeout = DefaultDeliveryTimeout
	}
	return b
}

// Send delivers msg now if a sink is attached and holds it otherwise. A
// failed delivery detaches the sink and keeps the message for the next one.
func (b *Bridge) Send(ctx context.Context, target, method, payload string) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.send(ctx, &messages.Message{Target: target, Method: method, Payload: payload})
}

// SendOnce is Send guarded by an idempotency key: the message is dropped if
// the last message sent under kind carried the same key. It reports whether
// the message was accepted.
func (b *Bridge) SendOnce(ctx context.Context, kind, key, target, method, payload string) (bool, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if last, ok := b.sent[kind]; ok && last == key {
		b.logger.Debug("Suppressing duplicate %s.%s for %s %s", target, method, kind, key)
		return false, nil
	}
	if err := b.send(ctx, &messages.Message{Target: target, Method: method, Payload: payload}); err != nil {
		return false, err
	}
	b.sent[kind] = key
	return true, nil
}

// Forget clears the idempotency key of kind so that the next SendOnce under
// it is accepted.
func (b *Bridge) Forget(kind string) {
	b.lock.Lock()
	defer b.lock.Unlock()
	delete(b.sent, kind)
}

// Attach marks the presentation layer ready and flushes held messages to
// sink. Attaching replaces any previous sink.
func (b *Bridge) Attach(ctx context.Context, sink Sink) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.sink = sink
	b.logger.Debug("Presentation layer attached with %d pending messages", len(b.pending))
	b.flush(ctx)
	return nil
}

// Detach removes sink if it is the attached one. Later messages are held.
func (b *Bridge) Detach(sink Sink) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.sink == sink {
		b.sink = nil
		b.logger.Debug("Presentation layer detached")
	}
}

// Ready reports whether a sink is attached.
func (b *Bridge) Ready() bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.sink != nil
}

// Pending returns the number of held messages.
func (b *Bridge) Pending() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return len(b.pending)
}

// Close detaches the sink and drops held messages.
func (b *Bridge) Close() {
	b.lock.Lock()
	defer b.lock.Unlock()
	if len(b.pending) > 0 {
		b.logger.Warn("Closing bridge with %d undelivered messages", len(b.pending))
	}
	b.closed = true
	b.sink = nil
	b.pending = nil
}

func (b *Bridge) send(ctx context.Context, msg *messages.Message) error {
	if b.closed {
		return ErrClosed
	}
	if len(b.pending) >= b.maxPending {
		return fmt.Errorf("%w: dropping %s.%s", ErrOutboxFull, msg.Target, msg.Method)
	}
	b.pending = append(b.pending, msg)
	if b.sink == nil {
		b.logger.Trace("Holding %s.%s until the presentation layer is ready", msg.Target, msg.Method)
		return nil
	}
	b.flush(ctx)
	return nil
}

// flush delivers held messages in order. It must be called with the lock
// held. A delivery error detaches the sink and leaves the message held.
func (b *Bridge) flush(ctx context.Context) {
	for len(b.pending) > 0 && b.sink != nil {
		msg := b.pending[0]
		deliverCtx, cancel := context.WithTimeout(ctx, b.deliveryTimeout)
		err := b.sink.Deliver(deliverCtx, msg)
		cancel()
		if err != nil {
			b.logger.Warn("Failed to deliver %s.%s, holding it for the next attach: %v", msg.Target, msg.Method, err)
			b.sink = nil
			return
		}
		b.pending[0] = nil
		b.pending = b.pending[1:]
		b.logger.Trace("Delivered %s.%s", msg.Target, msg.Method)
	}
}
