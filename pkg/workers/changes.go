package workers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/cbodonnell/sessionkeeper/pkg/log"
	"github.com/cbodonnell/sessionkeeper/pkg/messages"
	"github.com/cbodonnell/sessionkeeper/pkg/queue"
	"github.com/cbodonnell/sessionkeeper/pkg/store"
)

// Sender delivers a message to the presentation layer.
type Sender interface {
	Send(ctx context.Context, target, method, payload string) error
}

// RelayFunc turns a changed value into a message payload. Returning false
// skips the change. value is nil when the key was removed.
type RelayFunc func(value json.RawMessage) (payload string, ok bool)

// Route names where changes and errors of a listened path are sent.
type Route struct {
	Target      string
	Method      string
	ErrorTarget string
	ErrorMethod string
	// Transform builds the payload. When nil the value is relayed as is.
	Transform RelayFunc
}

// DataRoute relays raw values to the database manager.
var DataRoute = Route{
	Target:      messages.TargetDatabaseManager,
	Method:      messages.MethodOnDataChanged,
	ErrorTarget: messages.TargetDatabaseManager,
	ErrorMethod: messages.MethodOnDatabaseError,
}

// DataChangeEvent is a store notification waiting to be relayed.
type DataChangeEvent struct {
	Path  string
	Route Route
	Value json.RawMessage
	Err   error
}

// ChangeRelayWorker forwards store notifications for listened paths to the
// presentation layer. Store handlers must not block, so they only enqueue
// and the worker sends.
type ChangeRelayWorker struct {
	store      store.Store
	sender     Sender
	eventQueue queue.Queue

	lock      sync.Mutex
	listeners map[string]store.SubscriptionID
}

type NewChangeRelayWorkerOptions struct {
	Store      store.Store
	Sender     Sender
	EventQueue queue.Queue
}

func NewChangeRelayWorker(opts NewChangeRelayWorkerOptions) *ChangeRelayWorker {
	eventQueue := opts.EventQueue
	if eventQueue == nil {
		eventQueue = queue.NewInMemoryQueue(queue.QueueBufferSize)
	}
	return &ChangeRelayWorker{
		store:      opts.Store,
		sender:     opts.Sender,
		eventQueue: eventQueue,
		listeners:  make(map[string]store.SubscriptionID),
	}
}

// Listen relays changes of path with DataRoute. A previous listener on the
// same path is replaced.
func (w *ChangeRelayWorker) Listen(path string) {
	w.ListenRoute(path, path, DataRoute)
}

// ListenRoute relays changes of path along route under the listener name.
// A previous listener with the same name is replaced.
func (w *ChangeRelayWorker) ListenRoute(name, path string, route Route) {
	w.lock.Lock()
	defer w.lock.Unlock()

	if id, ok := w.listeners[name]; ok {
		w.store.Unsubscribe(id)
	}
	w.listeners[name] = w.store.Subscribe(path,
		func(key string, value json.RawMessage) {
			w.enqueue(&DataChangeEvent{Path: key, Route: route, Value: value})
		},
		func(key string, err error) {
			w.enqueue(&DataChangeEvent{Path: key, Route: route, Err: err})
		},
	)
	log.Debug("Listening for changes of %s as %s", path, name)
}

// StopListening removes the listener with the given name. It reports
// whether one was registered.
func (w *ChangeRelayWorker) StopListening(name string) bool {
	w.lock.Lock()
	defer w.lock.Unlock()

	id, ok := w.listeners[name]
	if !ok {
		return false
	}
	w.store.Unsubscribe(id)
	delete(w.listeners, name)
	log.Debug("Stopped listening as %s", name)
	return true
}

// StopAll removes every listener.
func (w *ChangeRelayWorker) StopAll() {
	w.lock.Lock()
	defer w.lock.Unlock()
	for path, id := range w.listeners {
		w.store.Unsubscribe(id)
		delete(w.listeners, path)
	}
}

func (w *ChangeRelayWorker) enqueue(event *DataChangeEvent) {
	if err := w.eventQueue.Enqueue(event); err != nil {
		log.Warn("Dropping change event for %s: %v", event.Path, err)
	}
}

func (w *ChangeRelayWorker) Start(ctx context.Context) {
	defer w.StopAll()
	for {
		item, err := w.eventQueue.Dequeue(ctx)
		if err != nil {
			return
		}
		event, ok := item.(*DataChangeEvent)
		if !ok {
			log.Error("Unexpected item in change queue: %T", item)
			continue
		}
		w.relay(ctx, event)
	}
}

func (w *ChangeRelayWorker) relay(ctx context.Context, event *DataChangeEvent) {
	route := event.Route
	if event.Err != nil {
		if err := w.sender.Send(ctx, route.ErrorTarget, route.ErrorMethod, event.Err.Error()); err != nil {
			log.Error("Failed to relay error for %s: %v", event.Path, err)
		}
		return
	}

	transform := route.Transform
	if transform == nil {
		transform = RawValue
	}
	payload, ok := transform(event.Value)
	if !ok {
		log.Trace("Skipping change of %s", event.Path)
		return
	}
	if err := w.sender.Send(ctx, route.Target, route.Method, payload); err != nil {
		log.Error("Failed to relay change of %s: %v", event.Path, err)
	}
}

// RawValue relays the value unchanged and a removed value as the JSON
// literal null.
func RawValue(value json.RawMessage) (string, bool) {
	if len(value) == 0 {
		return "null", true
	}
	return string(value), true
}
