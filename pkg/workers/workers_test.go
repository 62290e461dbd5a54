package workers

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cbodonnell/sessionkeeper/pkg/messages"
	"github.com/cbodonnell/sessionkeeper/pkg/network"
	"github.com/cbodonnell/sessionkeeper/pkg/queue"
	"github.com/cbodonnell/sessionkeeper/pkg/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	target, method, payload string
}

type fakeSender struct {
	ch chan sent
}

func newFakeSender() *fakeSender {
	return &fakeSender{ch: make(chan sent, 16)}
}

func (s *fakeSender) Send(ctx context.Context, target, method, payload string) error {
	s.ch <- sent{target: target, method: method, payload: payload}
	return nil
}

func (s *fakeSender) next(t *testing.T) sent {
	t.Helper()
	select {
	case m := <-s.ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relayed message")
		return sent{}
	}
}

func (s *fakeSender) none(t *testing.T) {
	t.Helper()
	select {
	case m := <-s.ch:
		t.Fatalf("unexpected relayed message: %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChangeRelayWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := store.NewMemoryStore()
	sender := newFakeSender()
	w := NewChangeRelayWorker(NewChangeRelayWorkerOptions{Store: s, Sender: sender})
	go w.Start(ctx)

	w.Listen("sessions/ABC123")
	// Listening again replaces the first listener.
	w.Listen("sessions/ABC123")

	require.NoError(t, s.Set(ctx, "sessions/ABC123", json.RawMessage(`{"sessionId":"ABC123"}`)))
	m := sender.next(t)
	assert.Equal(t, messages.TargetDatabaseManager, m.target)
	assert.Equal(t, messages.MethodOnDataChanged, m.method)
	assert.JSONEq(t, `{"sessionId":"ABC123"}`, m.payload)
	sender.none(t)

	require.NoError(t, s.Remove(ctx, "sessions/ABC123"))
	m = sender.next(t)
	assert.Equal(t, messages.MethodOnDataChanged, m.method)
	assert.Equal(t, "null", m.payload)

	require.NoError(t, s.Set(ctx, "sessions/OTHER1", json.RawMessage(`{}`)))
	sender.none(t)

	assert.True(t, w.StopListening("sessions/ABC123"))
	assert.False(t, w.StopListening("sessions/ABC123"))
	require.NoError(t, s.Set(ctx, "sessions/ABC123", json.RawMessage(`{"sessionId":"ABC123"}`)))
	sender.none(t)
}

func TestChangeRelayWorkerErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender := newFakeSender()
	w := NewChangeRelayWorker(NewChangeRelayWorkerOptions{Store: store.NewMemoryStore(), Sender: sender})
	go w.Start(ctx)

	w.enqueue(&DataChangeEvent{Path: "sessions/ABC123", Route: DataRoute, Err: errors.New("permission denied")})
	m := sender.next(t)
	assert.Equal(t, messages.TargetDatabaseManager, m.target)
	assert.Equal(t, messages.MethodOnDatabaseError, m.method)
	assert.Equal(t, "permission denied", m.payload)
}

func TestChangeRelayWorkerRoute(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := store.NewMemoryStore()
	sender := newFakeSender()
	w := NewChangeRelayWorker(NewChangeRelayWorkerOptions{Store: s, Sender: sender})
	go w.Start(ctx)

	w.ListenRoute("roster", "sessions/ABC123", Route{
		Target: messages.TargetGameSessionManager,
		Method: messages.MethodOnRosterUpdated,
		Transform: func(value json.RawMessage) (string, bool) {
			if value == nil {
				return "", false
			}
			var record struct {
				Players json.RawMessage `json:"players"`
			}
			if err := json.Unmarshal(value, &record); err != nil {
				return "", false
			}
			return string(record.Players), true
		},
	})

	require.NoError(t, s.Set(ctx, "sessions/ABC123", json.RawMessage(`{"sessionId":"ABC123","players":[{"id":"p1"}],"round":1}`)))
	m := sender.next(t)
	assert.Equal(t, messages.TargetGameSessionManager, m.target)
	assert.Equal(t, messages.MethodOnRosterUpdated, m.method)
	assert.JSONEq(t, `[{"id":"p1"}]`, m.payload)

	require.NoError(t, s.Remove(ctx, "sessions/ABC123"))
	sender.none(t)

	assert.True(t, w.StopListening("roster"))
}

type recordingHandler struct {
	lock    sync.Mutex
	methods []string
	done    chan struct{}
	want    int
}

func (h *recordingHandler) HandleCommand(ctx context.Context, inbound *network.InboundMessage) error {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.methods = append(h.methods, inbound.Message.Method)
	if len(h.methods) == h.want {
		close(h.done)
	}
	if inbound.Message.Method == messages.CommandLogout {
		return errors.New("not logged in")
	}
	return nil
}

func TestCommandWorkerKeepsOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queue.NewInMemoryQueue(16)
	id := uuid.New()
	commands := []string{
		messages.CommandReady,
		messages.CommandLogout,
		messages.CommandHostSession,
		messages.CommandLeaveSession,
	}
	for i, method := range commands {
		if i == 2 {
			require.NoError(t, q.Enqueue("not a message"))
		}
		require.NoError(t, q.Enqueue(&network.InboundMessage{ConnectionID: id, Message: &messages.Message{Method: method}}))
	}

	h := &recordingHandler{done: make(chan struct{}), want: len(commands)}
	stopped := make(chan struct{})
	go func() {
		NewCommandWorker(NewCommandWorkerOptions{MessageQueue: q, Handler: h}).Start(ctx)
		close(stopped)
	}()

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for commands")
	}
	h.lock.Lock()
	assert.Equal(t, commands, h.methods)
	h.lock.Unlock()

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestConnectionEventWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan network.ConnectionEvent, 2)
	connected := make(chan uuid.UUID, 1)
	disconnected := make(chan uuid.UUID, 1)
	w := NewConnectionEventWorker(NewConnectionEventWorkerOptions{
		ConnectionEventChan: events,
		OnConnect:           func(id uuid.UUID) { connected <- id },
		OnDisconnect:        func(id uuid.UUID) { disconnected <- id },
	})
	go w.Start(ctx)

	id := uuid.New()
	events <- network.ConnectionEvent{ConnectionID: id, Type: network.ConnectionEventTypeConnect}
	events <- network.ConnectionEvent{ConnectionID: id, Type: network.ConnectionEventTypeDisconnect}

	for _, ch := range []chan uuid.UUID{connected, disconnected} {
		select {
		case got := <-ch:
			assert.Equal(t, id, got)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for connection event")
		}
	}
}
