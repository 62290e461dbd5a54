package bridge_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	mocks "github.com/cbodonnell/sessionkeeper/mocks/github.com/cbodonnell/sessionkeeper/pkg/bridge"
	"github.com/cbodonnell/sessionkeeper/pkg/bridge"
	"github.com/cbodonnell/sessionkeeper/pkg/messages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// recordingSink collects delivered messages.
type recordingSink struct {
	lock      sync.Mutex
	delivered []*messages.Message
}

func (s *recordingSink) Deliver(ctx context.Context, msg *messages.Message) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.delivered = append(s.delivered, msg)
	return nil
}

func (s *recordingSink) methods() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	out := make([]string, 0, len(s.delivered))
	for _, m := range s.delivered {
		out = append(out, m.Method)
	}
	return out
}

func TestBridgeHoldsUntilReady(t *testing.T) {
	ctx := context.Background()
	b := bridge.New(bridge.NewBridgeOptions{})

	require.NoError(t, b.Send(ctx, messages.TargetURLHandler, messages.MethodOnSessionCodeFound, "XYZ999"))
	require.NoError(t, b.Send(ctx, messages.TargetGameSessionManager, messages.MethodJoinFromInvitation, "XYZ999"))
	assert.False(t, b.Ready())
	assert.Equal(t, 2, b.Pending())

	sink := &recordingSink{}
	require.NoError(t, b.Attach(ctx, sink))
	assert.True(t, b.Ready())
	assert.Equal(t, 0, b.Pending())
	assert.Equal(t, []string{messages.MethodOnSessionCodeFound, messages.MethodJoinFromInvitation}, sink.methods())

	// Attaching again must not redeliver.
	require.NoError(t, b.Attach(ctx, sink))
	assert.Len(t, sink.methods(), 2)

	require.NoError(t, b.Send(ctx, messages.TargetGameSessionManager, messages.MethodSetQRCodeImage, "data:"))
	assert.Equal(t, messages.MethodSetQRCodeImage, sink.methods()[2])
}

func TestBridgeKeepsMessageOnDeliveryFailure(t *testing.T) {
	ctx := context.Background()
	b := bridge.New(bridge.NewBridgeOptions{})

	broken := mocks.NewSink(t)
	broken.EXPECT().Deliver(mock.Anything, mock.MatchedBy(func(m *messages.Message) bool {
		return m.Method == messages.MethodStartClean
	})).Return(errors.New("connection reset")).Once()

	require.NoError(t, b.Attach(ctx, broken))
	require.NoError(t, b.Send(ctx, messages.TargetGameSessionManager, messages.MethodStartClean, ""))
	assert.False(t, b.Ready())
	assert.Equal(t, 1, b.Pending())

	sink := &recordingSink{}
	require.NoError(t, b.Attach(ctx, sink))
	assert.Equal(t, []string{messages.MethodStartClean}, sink.methods())
}

func TestBridgeSendOnce(t *testing.T) {
	ctx := context.Background()
	b := bridge.New(bridge.NewBridgeOptions{})
	sink := &recordingSink{}
	require.NoError(t, b.Attach(ctx, sink))

	send := func(uid string) bool {
		ok, err := b.SendOnce(ctx, "login", uid, messages.TargetAuthManager, messages.MethodOnLoginSuccess, uid)
		require.NoError(t, err)
		return ok
	}

	assert.True(t, send("user-1"))
	assert.False(t, send("user-1"))
	assert.True(t, send("user-2"))
	assert.True(t, send("user-1"))

	b.Forget("login")
	assert.True(t, send("user-1"))
	assert.Len(t, sink.methods(), 4)
}

func TestBridgeDetach(t *testing.T) {
	ctx := context.Background()
	b := bridge.New(bridge.NewBridgeOptions{})
	first := &recordingSink{}
	second := &recordingSink{}

	require.NoError(t, b.Attach(ctx, first))
	require.NoError(t, b.Attach(ctx, second))

	// Detaching a replaced sink leaves the current one attached.
	b.Detach(first)
	assert.True(t, b.Ready())

	b.Detach(second)
	require.NoError(t, b.Send(ctx, messages.TargetAuthManager, messages.MethodOnSignOutSuccess, ""))
	assert.Equal(t, 1, b.Pending())
	assert.Empty(t, first.methods())
	assert.Empty(t, second.methods())
}

func TestBridgeOutboxFull(t *testing.T) {
	ctx := context.Background()
	b := bridge.New(bridge.NewBridgeOptions{MaxPending: 1})

	require.NoError(t, b.Send(ctx, messages.TargetGameSessionManager, messages.MethodStartClean, ""))
	err := b.Send(ctx, messages.TargetGameSessionManager, messages.MethodStartClean, "")
	assert.True(t, errors.Is(err, bridge.ErrOutboxFull))
}

func TestBridgeClosed(t *testing.T) {
	ctx := context.Background()
	b := bridge.New(bridge.NewBridgeOptions{})
	b.Close()

	assert.True(t, errors.Is(b.Send(ctx, messages.TargetGameSessionManager, messages.MethodStartClean, ""), bridge.ErrClosed))
	assert.True(t, errors.Is(b.Attach(ctx, &recordingSink{}), bridge.ErrClosed))
}
