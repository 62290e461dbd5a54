package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cbodonnell/sessionkeeper/pkg/auth/providers"
	"github.com/cbodonnell/sessionkeeper/pkg/bridge"
	"github.com/cbodonnell/sessionkeeper/pkg/continuity"
	"github.com/cbodonnell/sessionkeeper/pkg/invite"
	"github.com/cbodonnell/sessionkeeper/pkg/local"
	"github.com/cbodonnell/sessionkeeper/pkg/log"
	"github.com/cbodonnell/sessionkeeper/pkg/messages"
	"github.com/cbodonnell/sessionkeeper/pkg/network"
	"github.com/cbodonnell/sessionkeeper/pkg/sessions"
	"github.com/cbodonnell/sessionkeeper/pkg/store"
	"github.com/cbodonnell/sessionkeeper/pkg/workers"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

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

func (s *recordingSink) all() []*messages.Message {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]*messages.Message(nil), s.delivered...)
}

func (s *recordingSink) methods() []string {
	var out []string
	for _, m := range s.all() {
		out = append(out, m.Method)
	}
	return out
}

// last returns the most recent message with the given method.
func (s *recordingSink) last(method string) (*messages.Message, bool) {
	all := s.all()
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Method == method {
			return all[i], true
		}
	}
	return nil, false
}

func (s *recordingSink) waitFor(t *testing.T, method string, match func(*messages.Message) bool) *messages.Message {
	t.Helper()
	var found *messages.Message
	require.Eventually(t, func() bool {
		for _, m := range s.all() {
			if m.Method == method && (match == nil || match(m)) {
				found = m
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "no %s delivered", method)
	return found
}

type sinkTable map[uuid.UUID]bridge.Sink

func (s sinkTable) GetSink(id uuid.UUID) (bridge.Sink, error) {
	sink, ok := s[id]
	if !ok {
		return nil, fmt.Errorf("connection %s not found", id)
	}
	return sink, nil
}

type fakeAuth struct{}

func (fakeAuth) VerifyToken(ctx context.Context, idToken string) (*providers.TokenClaims, error) {
	if idToken != "good-token" {
		return nil, errors.New("invalid token")
	}
	return &providers.TokenClaims{UID: "uid-ann", Email: "ann@example.com", DisplayName: "Ann"}, nil
}

type testEnv struct {
	runtime *Runtime
	store   *store.MemoryStore
	storage local.Storage
	sink    *recordingSink
	connID  uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithStorage(t, local.NewMemoryStorage())
}

func newTestEnvWithStorage(t *testing.T, storage local.Storage) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	s := store.NewMemoryStore()
	b := bridge.New(bridge.NewBridgeOptions{})
	relay := workers.NewChangeRelayWorker(workers.NewChangeRelayWorkerOptions{Store: s, Sender: b})
	go relay.Start(ctx)

	codes := []string{"HOST01", "HOST02", "HOST03"}
	next := 0
	env := &testEnv{
		store:   s,
		storage: storage,
		sink:    &recordingSink{},
		connID:  uuid.New(),
	}
	env.runtime = NewRuntime(NewRuntimeOptions{
		Continuity: continuity.NewManager(continuity.NewManagerOptions{
			Storage: storage,
			Now:     func() time.Time { return testNow },
		}),
		Sessions: sessions.NewService(sessions.NewServiceOptions{
			Store: s,
			NewCode: func() (string, error) {
				code := codes[next%len(codes)]
				next++
				return code, nil
			},
		}),
		Store:         s,
		Bridge:        b,
		Relay:         relay,
		Connections:   sinkTable{env.connID: env.sink},
		Auth:          fakeAuth{},
		InviteBaseURL: "https://game.example.com/play",
	})
	return env
}

func (e *testEnv) command(t *testing.T, method, payload string) error {
	t.Helper()
	return e.runtime.HandleCommand(context.Background(), &network.InboundMessage{
		ConnectionID: e.connID,
		Message:      &messages.Message{Method: method, Payload: payload},
	})
}

func (e *testEnv) ready(t *testing.T) {
	t.Helper()
	require.NoError(t, e.command(t, messages.CommandReady, ""))
}

func (e *testEnv) storePointer(t *testing.T, sessionID string, isHost bool, age time.Duration) {
	t.Helper()
	raw := fmt.Sprintf(`{"sessionData":{"sessionId":%q},"isHost":%t,"timestamp":%d}`,
		sessionID, isHost, testNow.Add(-age).UnixMilli())
	require.NoError(t, e.storage.Set(continuity.PointerKey, raw))
}

func (e *testEnv) pointer(t *testing.T) (sessionID string, isHost bool, ok bool) {
	t.Helper()
	raw, ok, err := e.storage.Get(continuity.PointerKey)
	require.NoError(t, err)
	if !ok {
		return "", false, false
	}
	var p struct {
		SessionData struct {
			SessionID string `json:"sessionId"`
		} `json:"sessionData"`
		IsHost bool `json:"isHost"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	return p.SessionData.SessionID, p.IsHost, true
}

func TestStartupDecisionWaitsForReady(t *testing.T) {
	env := newTestEnv(t)
	env.storePointer(t, "ABC123", false, 10*time.Minute)
	ctx := context.Background()

	decision, err := env.runtime.Start(ctx, StartOptions{InvitationURL: "https://game.example.com/play?session=XYZ999"})
	require.NoError(t, err)
	assert.Equal(t, continuity.Decision{Outcome: continuity.JoinFromInvitation, SessionID: "XYZ999"}, decision)
	assert.Empty(t, env.sink.all())

	_, _, ok := env.pointer(t)
	assert.False(t, ok, "superseded pointer should be purged")

	env.ready(t)
	delivered := env.sink.all()
	require.Len(t, delivered, 2)
	assert.Equal(t, &messages.Message{Target: messages.TargetURLHandler, Method: messages.MethodOnSessionCodeFound, Payload: "XYZ999"}, delivered[0])
	assert.Equal(t, &messages.Message{Target: messages.TargetGameSessionManager, Method: messages.MethodJoinFromInvitation, Payload: "XYZ999"}, delivered[1])

	// A second start and a second Ready do not redeliver.
	_, err = env.runtime.Start(ctx, StartOptions{InvitationURL: "https://game.example.com/play?session=XYZ999"})
	require.NoError(t, err)
	env.ready(t)
	assert.Len(t, env.sink.all(), 2)
}

func TestStartupOutcomePayloads(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(t *testing.T, env *testEnv)
		opts       StartOptions
		wantMethod string
		wantBody   string
	}{
		{
			name:       "nothing stored",
			wantMethod: messages.MethodStartClean,
			wantBody:   "",
		},
		{
			name: "recent host",
			setup: func(t *testing.T, env *testEnv) {
				env.storePointer(t, "ABC123", true, 5*time.Minute)
			},
			opts:       StartOptions{IsHost: true},
			wantMethod: messages.MethodAutoRejoin,
			wantBody:   "ABC123",
		},
		{
			name: "guest is prompted",
			setup: func(t *testing.T, env *testEnv) {
				env.storePointer(t, "ABC123", false, 10*time.Minute)
			},
			wantMethod: messages.MethodPromptRecovery,
			wantBody:   "false",
		},
		{
			name: "old host is prompted",
			setup: func(t *testing.T, env *testEnv) {
				env.storePointer(t, "ABC123", true, time.Hour)
			},
			opts:       StartOptions{IsHost: true},
			wantMethod: messages.MethodPromptRecovery,
			wantBody:   "true",
		},
		{
			name: "expired pointer",
			setup: func(t *testing.T, env *testEnv) {
				env.storePointer(t, "ABC123", true, 3*time.Hour)
			},
			wantMethod: messages.MethodStartClean,
		},
		{
			name:       "link without invitation",
			opts:       StartOptions{InvitationURL: "https://game.example.com/play"},
			wantMethod: messages.MethodStartClean,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tt.setup != nil {
				tt.setup(t, env)
			}
			env.ready(t)
			_, err := env.runtime.Start(context.Background(), tt.opts)
			require.NoError(t, err)

			msg, ok := env.sink.last(tt.wantMethod)
			require.True(t, ok, "got %v", env.sink.methods())
			assert.Equal(t, messages.TargetGameSessionManager, msg.Target)
			assert.Equal(t, tt.wantBody, msg.Payload)
		})
	}
}

func TestStartupInvitationNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.ready(t)
	_, err := env.runtime.Start(context.Background(), StartOptions{InvitationURL: "https://game.example.com/play?session="})
	require.NoError(t, err)
	assert.Equal(t, []string{messages.MethodOnSessionCodeNotFound, messages.MethodStartClean}, env.sink.methods())
}

func TestResolveRecovery(t *testing.T) {
	env := newTestEnv(t)
	env.storePointer(t, "ABC123", false, 10*time.Minute)
	env.ready(t)
	_, err := env.runtime.Start(context.Background(), StartOptions{})
	require.NoError(t, err)

	require.NoError(t, env.command(t, messages.CommandResolveRecovery, "rejoin"))
	msg, ok := env.sink.last(messages.MethodAutoRejoin)
	require.True(t, ok)
	assert.Equal(t, "ABC123", msg.Payload)

	require.NoError(t, env.command(t, messages.CommandResolveRecovery, "start new"))
	_, ok = env.sink.last(messages.MethodStartClean)
	assert.True(t, ok)
	_, _, ok = env.pointer(t)
	assert.False(t, ok)

	assert.Error(t, env.command(t, messages.CommandResolveRecovery, "maybe"))
	_, ok = env.sink.last(messages.MethodOnSessionError)
	assert.True(t, ok)
}

func TestHostSetReadyAndLeave(t *testing.T) {
	env := newTestEnv(t)
	env.ready(t)
	ctx := context.Background()

	require.NoError(t, env.command(t, messages.CommandHostSession, `{"displayName":"Ann","extra":{"round":1}}`))
	created, ok := env.sink.last(messages.MethodOnSessionCreated)
	require.True(t, ok)
	assert.Equal(t, "HOST01", created.Payload)

	id, isHost, ok := env.pointer(t)
	require.True(t, ok)
	assert.Equal(t, "HOST01", id)
	assert.True(t, isHost)

	value, err := env.store.Get(ctx, sessions.Key("HOST01"))
	require.NoError(t, err)
	assert.JSONEq(t, fmt.Sprintf(`{"sessionId":"HOST01","round":1,"players":[{"id":%q,"displayName":"Ann","isReady":false}]}`, env.runtime.PlayerID()), string(value))

	require.NoError(t, env.command(t, messages.CommandSetReady, `{"isReady":true}`))
	roster := env.sink.waitFor(t, messages.MethodOnRosterUpdated, func(m *messages.Message) bool {
		return strings.Contains(m.Payload, `"isReady":true`)
	})
	assert.JSONEq(t, fmt.Sprintf(`[{"id":%q,"displayName":"Ann","isReady":true}]`, env.runtime.PlayerID()), roster.Payload)

	require.NoError(t, env.command(t, messages.CommandGenerateQRCode, ""))
	qr, ok := env.sink.last(messages.MethodSetQRCodeImage)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(qr.Payload, "data:image/png;base64,"))

	require.NoError(t, env.command(t, messages.CommandLeaveSession, ""))
	left, ok := env.sink.last(messages.MethodOnSessionLeft)
	require.True(t, ok)
	assert.Equal(t, "HOST01", left.Payload)
	_, _, ok = env.pointer(t)
	assert.False(t, ok)

	// The host was the only player, so the session is gone.
	_, err = env.store.Get(ctx, sessions.Key("HOST01"))
	assert.True(t, store.IsNotFound(err))

	assert.ErrorIs(t, env.command(t, messages.CommandSetReady, `{"isReady":true}`), ErrNotInSession)
}

func TestJoinSession(t *testing.T) {
	env := newTestEnv(t)
	env.ready(t)
	ctx := context.Background()

	err := env.command(t, messages.CommandJoinSession, `{"sessionId":"NOPE00","displayName":"Bo"}`)
	assert.Error(t, err)
	sessionErr, ok := env.sink.last(messages.MethodOnSessionError)
	require.True(t, ok)
	assert.Contains(t, sessionErr.Payload, "NOPE00")

	require.NoError(t, env.store.Set(ctx, sessions.Key("ABC123"), json.RawMessage(`{"sessionId":"ABC123","players":[{"id":"host","displayName":"Ann","isReady":true}],"map":"dunes"}`)))
	require.NoError(t, env.command(t, messages.CommandJoinSession, `{"sessionId":"ABC123","displayName":"Bo"}`))
	joined, ok := env.sink.last(messages.MethodOnSessionJoined)
	require.True(t, ok)
	assert.Equal(t, "ABC123", joined.Payload)

	id, isHost, ok := env.pointer(t)
	require.True(t, ok)
	assert.Equal(t, "ABC123", id)
	assert.False(t, isHost)

	value, err := env.store.Get(ctx, sessions.Key("ABC123"))
	require.NoError(t, err)
	assert.JSONEq(t, fmt.Sprintf(`{"sessionId":"ABC123","map":"dunes","players":[{"id":"host","displayName":"Ann","isReady":true},{"id":%q,"displayName":"Bo","isReady":false}]}`, env.runtime.PlayerID()), string(value))
}

// lockedBuffer collects log output written from several goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// stuckStorage cannot remove entries.
type stuckStorage struct {
	*local.MemoryStorage
}

func (stuckStorage) Remove(key string) error {
	return errors.New("disk is read-only")
}

func TestJoinVanishedSessionLogsClearFailure(t *testing.T) {
	buf := &lockedBuffer{}
	log.SetDefaultLogger(log.New(buf, "", 0, log.LogLevelInfo))
	t.Cleanup(func() {
		log.SetDefaultLogger(log.New(os.Stdout, "", log.DefaultLoggerFlag, log.LogLevelDebug))
	})

	env := newTestEnvWithStorage(t, stuckStorage{local.NewMemoryStorage()})
	env.ready(t)
	env.storePointer(t, "GONE00", false, time.Minute)

	err := env.command(t, messages.CommandJoinSession, `{"sessionId":"GONE00","displayName":"Bo"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GONE00")
	assert.Contains(t, buf.String(), "Failed to clear session pointer")
	assert.Contains(t, buf.String(), "disk is read-only")

	_, _, ok := env.pointer(t)
	assert.True(t, ok)
}

func TestRejoinKeepsHostRole(t *testing.T) {
	env := newTestEnv(t)
	env.ready(t)

	require.NoError(t, env.command(t, messages.CommandHostSession, `{"displayName":"Ann"}`))
	require.NoError(t, env.command(t, messages.CommandJoinSession, `{"sessionId":"HOST01","displayName":"Ann"}`))

	_, isHost, ok := env.pointer(t)
	require.True(t, ok)
	assert.True(t, isHost)
}

func TestUpdatePlayers(t *testing.T) {
	env := newTestEnv(t)
	env.ready(t)
	ctx := context.Background()
	require.NoError(t, env.store.Set(ctx, sessions.Key("ABC123"), json.RawMessage(`{"sessionId":"ABC123","players":[],"round":4}`)))

	payload := `{"sessionId":"ABC123","players":{"0":{"id":"a","displayName":"A","isReady":true},"1":{"id":"b","displayName":"B","isReady":false}}}`
	require.NoError(t, env.command(t, messages.CommandUpdatePlayers, payload))
	saved, ok := env.sink.last(messages.MethodOnDataSaved)
	require.True(t, ok)
	assert.Equal(t, "sessions/ABC123", saved.Payload)

	value, err := env.store.Get(ctx, sessions.Key("ABC123"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"sessionId":"ABC123","round":4,"players":[{"id":"a","displayName":"A","isReady":true},{"id":"b","displayName":"B","isReady":false}]}`, string(value))

	assert.Error(t, env.command(t, messages.CommandUpdatePlayers, `{"sessionId":"GONE00","players":[]}`))
	dbErr, ok := env.sink.last(messages.MethodOnDatabaseError)
	require.True(t, ok)
	assert.Contains(t, dbErr.Payload, "cancelled")
}

func TestLoginAndLogout(t *testing.T) {
	env := newTestEnv(t)
	env.ready(t)

	assert.Error(t, env.command(t, messages.CommandLogin, `{"idToken":"bad-token"}`))
	_, ok := env.sink.last(messages.MethodOnAuthError)
	assert.True(t, ok)

	require.NoError(t, env.command(t, messages.CommandLogin, `{"idToken":"good-token"}`))
	require.NoError(t, env.command(t, messages.CommandLogin, `{"idToken":"good-token"}`))
	assert.Equal(t, "uid-ann", env.runtime.PlayerID())

	count := func(method string) int {
		n := 0
		for _, m := range env.sink.methods() {
			if m == method {
				n++
			}
		}
		return n
	}
	assert.Equal(t, 1, count(messages.MethodOnLoginSuccess))
	email, ok := env.sink.last(messages.MethodSetUserEmail)
	require.True(t, ok)
	assert.Equal(t, messages.TargetUserSessionManager, email.Target)
	assert.Equal(t, "ann@example.com", email.Payload)

	login, _ := env.sink.last(messages.MethodOnLoginSuccess)
	var user messages.LoginPayload
	require.NoError(t, json.Unmarshal([]byte(login.Payload), &user))
	assert.Equal(t, "uid-ann", user.UID)

	require.NoError(t, env.command(t, messages.CommandHostSession, ""))
	created, _ := env.sink.last(messages.MethodOnSessionCreated)
	require.NoError(t, env.command(t, messages.CommandLogout, ""))
	_, ok = env.sink.last(messages.MethodOnSignOutSuccess)
	assert.True(t, ok)
	_, _, ok = env.pointer(t)
	assert.False(t, ok)
	_, err := env.store.Get(context.Background(), sessions.Key(created.Payload))
	assert.True(t, store.IsNotFound(err))
	assert.NotEqual(t, "uid-ann", env.runtime.PlayerID())

	// Signing in again after logout is reported again.
	require.NoError(t, env.command(t, messages.CommandLogin, `{"idToken":"good-token"}`))
	assert.Equal(t, 2, count(messages.MethodOnLoginSuccess))
}

func TestDataRelayCommands(t *testing.T) {
	env := newTestEnv(t)
	env.ready(t)

	require.NoError(t, env.command(t, messages.CommandSetupDataListener, `{"path":"scores/ann"}`))

	require.NoError(t, env.command(t, messages.CommandSaveData, `{"path":"scores/ann","data":"{\"best\":10}"}`))
	saved, ok := env.sink.last(messages.MethodOnDataSaved)
	require.True(t, ok)
	assert.Equal(t, "scores/ann", saved.Payload)

	changed := env.sink.waitFor(t, messages.MethodOnDataChanged, nil)
	assert.JSONEq(t, `{"best":10}`, changed.Payload)

	require.NoError(t, env.command(t, messages.CommandLoadData, `{"path":"scores/ann"}`))
	loaded, ok := env.sink.last(messages.MethodOnDataLoaded)
	require.True(t, ok)
	assert.JSONEq(t, `{"best":10}`, loaded.Payload)

	require.NoError(t, env.command(t, messages.CommandCheckAndSaveData, `{"path":"sessions/NEW001","data":"{\"sessionId\":\"NEW001\"}"}`))
	done, ok := env.sink.last(messages.MethodOnTransactionCompleted)
	require.True(t, ok)
	assert.Equal(t, "sessions/NEW001,true", done.Payload)

	require.NoError(t, env.command(t, messages.CommandCheckAndSaveData, `{"path":"sessions/NEW001","data":"{\"sessionId\":\"NEW001\"}"}`))
	done, _ = env.sink.last(messages.MethodOnTransactionCompleted)
	assert.Equal(t, "sessions/NEW001,false", done.Payload)
	_, ok = env.sink.last(messages.MethodOnDatabaseError)
	assert.True(t, ok)

	require.NoError(t, env.command(t, messages.CommandRemoveDataListener, `{"path":"scores/ann"}`))
	require.NoError(t, env.command(t, messages.CommandRemoveData, `{"path":"scores/ann"}`))
	removed, ok := env.sink.last(messages.MethodOnDataRemoved)
	require.True(t, ok)
	assert.Equal(t, "scores/ann", removed.Payload)

	require.NoError(t, env.command(t, messages.CommandLoadData, `{"path":"scores/ann"}`))
	loaded, _ = env.sink.last(messages.MethodOnDataLoaded)
	assert.Equal(t, "null", loaded.Payload)

	assert.Error(t, env.command(t, messages.CommandSaveData, `{"path":"scores/ann","data":"not json"}`))
	assert.Error(t, env.command(t, messages.CommandSaveData, `{"data":"1"}`))
}

func TestCheckURLSessionCode(t *testing.T) {
	env := newTestEnv(t)
	env.ready(t)

	require.NoError(t, env.command(t, messages.CommandCheckURLSessionCode, "https://game.example.com/play?session=ABC123&lang=en"))
	found, ok := env.sink.last(messages.MethodOnSessionCodeFound)
	require.True(t, ok)
	assert.Equal(t, messages.TargetURLHandler, found.Target)
	assert.Equal(t, "ABC123", found.Payload)

	require.NoError(t, env.command(t, messages.CommandCheckURLSessionCode, "https://game.example.com/play?lang=en"))
	_, ok = env.sink.last(messages.MethodOnSessionCodeNotFound)
	assert.True(t, ok)
}

func TestQRCodeForText(t *testing.T) {
	env := newTestEnv(t)
	env.ready(t)

	assert.ErrorIs(t, env.command(t, messages.CommandGenerateQRCode, ""), ErrNotInSession)
	require.NoError(t, env.command(t, messages.CommandGenerateQRCode, `{"text":"https://game.example.com/play?session=ABC123","size":128}`))
	_, ok := env.sink.last(messages.MethodSetQRCodeImage)
	assert.True(t, ok)
}

func TestQRCodeSizeIsBounded(t *testing.T) {
	env := newTestEnv(t)
	env.ready(t)

	for _, size := range []int{-1, 8, 1025, 100000} {
		payload := fmt.Sprintf(`{"text":"https://game.example.com/play?session=ABC123","size":%d}`, size)
		err := env.command(t, messages.CommandGenerateQRCode, payload)
		assert.ErrorIs(t, err, invite.ErrQRCodeSize, "size %d", size)
	}
	sessionErr, ok := env.sink.last(messages.MethodOnSessionError)
	require.True(t, ok)
	assert.Contains(t, sessionErr.Payload, "qr code size")
	_, ok = env.sink.last(messages.MethodSetQRCodeImage)
	assert.False(t, ok)
}

func TestConnectionClosedHoldsMessages(t *testing.T) {
	env := newTestEnv(t)
	env.ready(t)

	env.runtime.ConnectionClosed(uuid.New())
	require.NoError(t, env.command(t, messages.CommandCheckURLSessionCode, "https://game.example.com/?session=ABC123"))
	assert.Len(t, env.sink.all(), 1)

	env.runtime.ConnectionClosed(env.connID)
	require.NoError(t, env.command(t, messages.CommandCheckURLSessionCode, "https://game.example.com/?session=ABC123"))
	assert.Len(t, env.sink.all(), 1)

	env.ready(t)
	assert.Len(t, env.sink.all(), 2)
}

func TestUnknownCommand(t *testing.T) {
	env := newTestEnv(t)
	assert.Error(t, env.command(t, "Dance", ""))
}
