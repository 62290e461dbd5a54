package continuity

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	mocks "github.com/cbodonnell/sessionkeeper/mocks/github.com/cbodonnell/sessionkeeper/pkg/local"
	"github.com/cbodonnell/sessionkeeper/pkg/local"
	"github.com/cbodonnell/sessionkeeper/pkg/sessions/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func pointerJSON(sessionID string, isHost bool, age time.Duration) string {
	return fmt.Sprintf(`{"sessionData":{"sessionId":%q},"isHost":%t,"timestamp":%d}`,
		sessionID, isHost, testNow.Add(-age).UnixMilli())
}

func newTestManager(storage local.Storage) *Manager {
	return NewManager(NewManagerOptions{
		Storage: storage,
		Now:     func() time.Time { return testNow },
	})
}

func storedPointer(t *testing.T, storage local.Storage) (string, bool) {
	t.Helper()
	raw, ok, err := storage.Get(PointerKey)
	require.NoError(t, err)
	return raw, ok
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name       string
		pointer    string
		in         Inputs
		want       Decision
		wantPurged bool
	}{
		{
			name: "no pointer no invitation",
			want: Decision{Outcome: StartClean},
		},
		{
			name: "no pointer with invitation",
			in:   Inputs{InvitationSessionID: "XYZ999"},
			want: Decision{Outcome: JoinFromInvitation, SessionID: "XYZ999"},
		},
		{
			name:    "recent host pointer resumes silently",
			pointer: pointerJSON("HOST01", true, 10*time.Minute),
			in:      Inputs{IsHost: true},
			want:    Decision{Outcome: AutoRejoin, SessionID: "HOST01"},
		},
		{
			name:    "host pointer at the recent threshold resumes silently",
			pointer: pointerJSON("HOST01", true, DefaultRecentThreshold),
			in:      Inputs{IsHost: true},
			want:    Decision{Outcome: AutoRejoin, SessionID: "HOST01"},
		},
		{
			name:    "host pointer past the recent threshold prompts",
			pointer: pointerJSON("HOST01", true, 45*time.Minute),
			in:      Inputs{IsHost: true},
			want:    Decision{Outcome: PromptRecovery, SessionID: "HOST01", IsHost: true},
		},
		{
			name:    "host pointer when running as participant prompts",
			pointer: pointerJSON("HOST01", true, time.Minute),
			in:      Inputs{IsHost: false},
			want:    Decision{Outcome: PromptRecovery, SessionID: "HOST01", IsHost: true},
		},
		{
			name:    "participant pointer is never resumed silently",
			pointer: pointerJSON("ABC123", false, 10*time.Minute),
			in:      Inputs{IsHost: false},
			want:    Decision{Outcome: PromptRecovery, SessionID: "ABC123", IsHost: false},
		},
		{
			name:    "participant pointer when running as host prompts",
			pointer: pointerJSON("ABC123", false, time.Minute),
			in:      Inputs{IsHost: true},
			want:    Decision{Outcome: PromptRecovery, SessionID: "ABC123", IsHost: false},
		},
		{
			name:    "matching invitation rejoins",
			pointer: pointerJSON("ABC123", false, 90*time.Minute),
			in:      Inputs{InvitationSessionID: "ABC123"},
			want:    Decision{Outcome: AutoRejoin, SessionID: "ABC123"},
		},
		{
			name:       "different invitation supersedes pointer",
			pointer:    pointerJSON("ABC123", true, time.Minute),
			in:         Inputs{InvitationSessionID: "XYZ999", IsHost: true},
			want:       Decision{Outcome: JoinFromInvitation, SessionID: "XYZ999"},
			wantPurged: true,
		},
		{
			name:       "expired pointer starts clean",
			pointer:    pointerJSON("ABC123", true, DefaultMaxAge+time.Millisecond),
			in:         Inputs{IsHost: true},
			want:       Decision{Outcome: StartClean},
			wantPurged: true,
		},
		{
			name:       "expired pointer with matching invitation joins from invitation",
			pointer:    pointerJSON("ABC123", false, 5*time.Hour),
			in:         Inputs{InvitationSessionID: "ABC123"},
			want:       Decision{Outcome: JoinFromInvitation, SessionID: "ABC123"},
			wantPurged: true,
		},
		{
			name:       "unparseable pointer starts clean",
			pointer:    `{"sessionData":`,
			want:       Decision{Outcome: StartClean},
			wantPurged: true,
		},
		{
			name:       "pointer without session id starts clean",
			pointer:    fmt.Sprintf(`{"sessionData":{"players":[]},"isHost":true,"timestamp":%d}`, testNow.UnixMilli()),
			in:         Inputs{IsHost: true},
			want:       Decision{Outcome: StartClean},
			wantPurged: true,
		},
		{
			name:       "pointer dated in the future starts clean",
			pointer:    pointerJSON("HOST01", true, -time.Hour),
			in:         Inputs{IsHost: true},
			want:       Decision{Outcome: StartClean},
			wantPurged: true,
		},
		{
			name:    "small clock skew is tolerated",
			pointer: pointerJSON("HOST01", true, -30*time.Second),
			in:      Inputs{IsHost: true},
			want:    Decision{Outcome: AutoRejoin, SessionID: "HOST01"},
		},
		{
			name:    "string encoded session data is accepted",
			pointer: fmt.Sprintf(`{"sessionData":"{\"sessionId\":\"STR001\"}","isHost":true,"timestamp":%d}`, testNow.Add(-time.Minute).UnixMilli()),
			in:      Inputs{IsHost: true},
			want:    Decision{Outcome: AutoRejoin, SessionID: "STR001"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage := local.NewMemoryStorage()
			if tt.pointer != "" {
				require.NoError(t, storage.Set(PointerKey, tt.pointer))
			}
			m := newTestManager(storage)

			got, err := m.Decide(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			raw, ok := storedPointer(t, storage)
			if tt.wantPurged || tt.pointer == "" {
				assert.False(t, ok, "pointer should be absent")
			} else {
				assert.True(t, ok, "pointer should be kept")
				assert.Equal(t, tt.pointer, raw)
			}
		})
	}
}

func TestDecideIsIdempotent(t *testing.T) {
	pointers := []string{
		"",
		pointerJSON("ABC123", false, 10*time.Minute),
		pointerJSON("ABC123", true, 10*time.Minute),
		pointerJSON("ABC123", true, 3*time.Hour),
		`garbage`,
	}
	inputs := []Inputs{
		{},
		{IsHost: true},
		{InvitationSessionID: "ABC123"},
		{InvitationSessionID: "XYZ999", IsHost: true},
	}
	for _, pointer := range pointers {
		for _, in := range inputs {
			storage := local.NewMemoryStorage()
			if pointer != "" {
				require.NoError(t, storage.Set(PointerKey, pointer))
			}
			m := newTestManager(storage)

			first, err := m.Decide(in)
			require.NoError(t, err)
			second, err := m.Decide(in)
			require.NoError(t, err)
			assert.Equal(t, first, second, "pointer %q inputs %+v", pointer, in)
		}
	}
}

func TestDecideOnlyMutationIsPurge(t *testing.T) {
	storage := mocks.NewStorage(t)
	storage.EXPECT().Get(PointerKey).Return(pointerJSON("ABC123", false, 10*time.Minute), true, nil).Twice()
	m := newTestManager(storage)

	for _, in := range []Inputs{{}, {InvitationSessionID: "ABC123"}} {
		_, err := m.Decide(in)
		require.NoError(t, err)
	}
	storage.AssertNotCalled(t, "Set")
	storage.AssertNotCalled(t, "Remove")
}

func TestDecideStorageReadFailure(t *testing.T) {
	storage := mocks.NewStorage(t)
	storage.EXPECT().Get(PointerKey).Return("", false, errors.New("disk unavailable")).Twice()
	m := newTestManager(storage)

	got, err := m.Decide(Inputs{IsHost: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorage))
	assert.Equal(t, Decision{Outcome: StartClean}, got)

	got, err = m.Decide(Inputs{InvitationSessionID: "XYZ999"})
	require.Error(t, err)
	assert.Equal(t, Decision{Outcome: JoinFromInvitation, SessionID: "XYZ999"}, got)
}

func TestDecidePurgeFailure(t *testing.T) {
	storage := mocks.NewStorage(t)
	storage.EXPECT().Get(PointerKey).Return(pointerJSON("ABC123", true, 3*time.Hour), true, nil).Once()
	storage.EXPECT().Remove(PointerKey).Return(errors.New("read-only")).Once()
	m := newTestManager(storage)

	got, err := m.Decide(Inputs{IsHost: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorage))
	assert.Equal(t, Decision{Outcome: StartClean}, got)
}

func TestExampleScenarios(t *testing.T) {
	t.Run("participant pointer without invitation", func(t *testing.T) {
		storage := local.NewMemoryStorage()
		require.NoError(t, storage.Set(PointerKey, fmt.Sprintf(
			`{"sessionData":{"sessionId":"ABC123"},"isHost":false,"timestamp":%d}`,
			testNow.Add(-10*time.Minute).UnixMilli())))

		got, err := newTestManager(storage).Decide(Inputs{IsHost: false})
		require.NoError(t, err)
		assert.Equal(t, PromptRecovery, got.Outcome)
		assert.False(t, got.IsHost)
	})

	t.Run("invitation without pointer", func(t *testing.T) {
		got, err := newTestManager(local.NewMemoryStorage()).Decide(Inputs{InvitationSessionID: "XYZ999"})
		require.NoError(t, err)
		assert.Equal(t, Decision{Outcome: JoinFromInvitation, SessionID: "XYZ999"}, got)
	})
}

func TestResolve(t *testing.T) {
	t.Run("rejoin keeps pointer", func(t *testing.T) {
		storage := local.NewMemoryStorage()
		require.NoError(t, storage.Set(PointerKey, pointerJSON("ABC123", false, 10*time.Minute)))
		m := newTestManager(storage)

		got, err := m.Resolve(ChoiceRejoin)
		require.NoError(t, err)
		assert.Equal(t, Decision{Outcome: AutoRejoin, SessionID: "ABC123"}, got)
		_, ok := storedPointer(t, storage)
		assert.True(t, ok)
	})

	t.Run("start new purges pointer", func(t *testing.T) {
		storage := local.NewMemoryStorage()
		require.NoError(t, storage.Set(PointerKey, pointerJSON("ABC123", false, 10*time.Minute)))
		m := newTestManager(storage)

		got, err := m.Resolve(ChoiceStartNew)
		require.NoError(t, err)
		assert.Equal(t, Decision{Outcome: StartClean}, got)
		_, ok := storedPointer(t, storage)
		assert.False(t, ok)
	})

	t.Run("rejoin after pointer vanished starts clean", func(t *testing.T) {
		got, err := newTestManager(local.NewMemoryStorage()).Resolve(ChoiceRejoin)
		require.NoError(t, err)
		assert.Equal(t, Decision{Outcome: StartClean}, got)
	})
}

func TestRecordSession(t *testing.T) {
	storage := local.NewMemoryStorage()
	m := newTestManager(storage)

	record := types.SessionRecord{
		SessionID: "HOST01",
		Players:   []types.PlayerEntry{{ID: "p1", DisplayName: "Ann"}},
	}
	require.NoError(t, m.RecordSession(record, true))

	pointer, ok, err := m.Pointer()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, pointer.IsHost)
	assert.Equal(t, testNow.UnixMilli(), pointer.Timestamp)

	got, err := m.Decide(Inputs{IsHost: true})
	require.NoError(t, err)
	assert.Equal(t, Decision{Outcome: AutoRejoin, SessionID: "HOST01"}, got)

	require.NoError(t, m.Clear())
	_, ok, err = m.Pointer()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordSessionData(t *testing.T) {
	m := newTestManager(local.NewMemoryStorage())

	require.NoError(t, m.RecordSessionData(json.RawMessage(`{"sessionId":"P00001","state":"lobby"}`), false))
	err := m.RecordSessionData(json.RawMessage(`{"state":"lobby"}`), false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrMalformedPointer))

	pointer, ok, err := m.Pointer()
	require.NoError(t, err)
	require.True(t, ok)
	id, err := pointer.SessionID()
	require.NoError(t, err)
	assert.Equal(t, "P00001", id)
}

func TestCustomThresholds(t *testing.T) {
	storage := local.NewMemoryStorage()
	require.NoError(t, storage.Set(PointerKey, pointerJSON("HOST01", true, 20*time.Minute)))
	m := NewManager(NewManagerOptions{
		Storage:         storage,
		MaxAge:          15 * time.Minute,
		RecentThreshold: 5 * time.Minute,
		Now:             func() time.Time { return testNow },
	})

	got, err := m.Decide(Inputs{IsHost: true})
	require.NoError(t, err)
	assert.Equal(t, Decision{Outcome: StartClean}, got)
}

func TestParseChoice(t *testing.T) {
	c, err := ParseChoice("rejoin")
	require.NoError(t, err)
	assert.Equal(t, ChoiceRejoin, c)

	c, err = ParseChoice("start new")
	require.NoError(t, err)
	assert.Equal(t, ChoiceStartNew, c)

	_, err = ParseChoice("maybe")
	assert.Error(t, err)
}
