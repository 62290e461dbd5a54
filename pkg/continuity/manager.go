// Package continuity decides, on client startup, whether a returning client
// rejoins its previous session, follows an invitation, is asked, or starts
// clean.
package continuity

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cbodonnell/sessionkeeper/pkg/local"
	"github.com/cbodonnell/sessionkeeper/pkg/log"
	"github.com/cbodonnell/sessionkeeper/pkg/sessions/types"
)

const (
	// PointerKey is the local slot holding the session pointer.
	PointerKey = "currentSession"

	DefaultMaxAge          = 2 * time.Hour
	DefaultRecentThreshold = 30 * time.Minute
)

// ErrStorage wraps failures of the local storage.
var ErrStorage = errors.New("local storage unavailable")

type Manager struct {
	storage         local.Storage
	maxAge          time.Duration
	recentThreshold time.Duration
	now             func() time.Time
	logger          *log.Logger
}

type NewManagerOptions struct {
	Storage local.Storage
	// MaxAge is how long a pointer may be offered for recovery.
	MaxAge time.Duration
	// RecentThreshold is how long a host may silently resume its own session.
	RecentThreshold time.Duration
	Now             func() time.Time
}

func NewManager(opts NewManagerOptions) *Manager {
	m := &Manager{
		storage:         opts.Storage,
		maxAge:          opts.MaxAge,
		recentThreshold: opts.RecentThreshold,
		now:             opts.Now,
		logger:          log.With("component", "continuity"),
	}
	if m.maxAge <= 0 {
		m.maxAge = DefaultMaxAge
	}
	if m.recentThreshold <= 0 {
		m.recentThreshold = DefaultRecentThreshold
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Decide returns exactly one outcome for the current startup. Stale or
// malformed pointers, and pointers superseded by a different invitation, are
// purged; nothing else is written. A non-nil error reports a local storage
// failure; the returned decision is still usable and treats the pointer as
// absent.
func (m *Manager) Decide(in Inputs) (Decision, error) {
	pointer, storageErr := m.loadValid()
	if pointer == nil {
		return m.withoutPointer(in), storageErr
	}

	// loadValid guarantees a session id.
	storedID, _ := pointer.SessionID()

	if in.InvitationSessionID != "" {
		if in.InvitationSessionID == storedID {
			return m.decided(Decision{Outcome: AutoRejoin, SessionID: storedID}), nil
		}
		m.logger.Debug("Invitation for %s supersedes stored session %s", in.InvitationSessionID, storedID)
		err := m.purge()
		return m.decided(Decision{Outcome: JoinFromInvitation, SessionID: in.InvitationSessionID}), err
	}

	if in.IsHost && pointer.IsHost && pointer.Age(m.now()) <= m.recentThreshold {
		return m.decided(Decision{Outcome: AutoRejoin, SessionID: storedID}), nil
	}
	return m.decided(Decision{Outcome: PromptRecovery, SessionID: storedID, IsHost: pointer.IsHost}), nil
}

// Resolve applies the user's answer to a recovery prompt. Rejoining keeps the
// pointer; starting new purges it. A pointer that disappeared or went stale
// since the prompt resolves to StartClean.
func (m *Manager) Resolve(choice Choice) (Decision, error) {
	if choice == ChoiceStartNew {
		err := m.purge()
		return m.decided(Decision{Outcome: StartClean}), err
	}

	pointer, err := m.loadValid()
	if pointer == nil {
		return m.decided(Decision{Outcome: StartClean}), err
	}
	storedID, _ := pointer.SessionID()
	return m.decided(Decision{Outcome: AutoRejoin, SessionID: storedID}), nil
}

// RecordSession remembers record as the session the local user is in.
func (m *Manager) RecordSession(record types.SessionRecord, isHost bool) error {
	pointer, err := types.NewLocalSessionPointer(record, isHost, m.now())
	if err != nil {
		return err
	}
	return m.write(pointer)
}

// RecordSessionData remembers a raw session snapshot. The snapshot must name
// a session id.
func (m *Manager) RecordSessionData(sessionData json.RawMessage, isHost bool) error {
	pointer := &types.LocalSessionPointer{
		SessionData: sessionData,
		IsHost:      isHost,
		Timestamp:   m.now().UnixMilli(),
	}
	if _, err := pointer.SessionID(); err != nil {
		return err
	}
	return m.write(pointer)
}

// Clear forgets the stored session, as on logout or leave.
func (m *Manager) Clear() error {
	return m.purge()
}

// Pointer returns the stored pointer without validating its age.
func (m *Manager) Pointer() (*types.LocalSessionPointer, bool, error) {
	raw, ok, err := m.storage.Get(PointerKey)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if !ok {
		return nil, false, nil
	}
	pointer, err := types.ParseLocalSessionPointer(raw)
	if err != nil {
		return nil, false, err
	}
	return pointer, true, nil
}

func (m *Manager) withoutPointer(in Inputs) Decision {
	if in.InvitationSessionID != "" {
		return m.decided(Decision{Outcome: JoinFromInvitation, SessionID: in.InvitationSessionID})
	}
	return m.decided(Decision{Outcome: StartClean})
}

// loadValid reads the pointer, purging it when it is malformed, dated in the
// future, or older than the max age. It returns nil when there is nothing to recover.
func (m *Manager) loadValid() (*types.LocalSessionPointer, error) {
	raw, ok, err := m.storage.Get(PointerKey)
	if err != nil {
		m.logger.Error("Failed to read session pointer: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if !ok {
		return nil, nil
	}

	pointer, err := types.ParseLocalSessionPointer(raw)
	if err == nil {
		err = pointer.CheckTimestamp(m.now())
	}
	if err != nil {
		m.logger.Warn("Discarding malformed session pointer: %v", err)
		return nil, m.purge()
	}
	if age := pointer.Age(m.now()); age > m.maxAge {
		m.logger.Debug("Discarding session pointer that is %s old", age.Round(time.Second))
		return nil, m.purge()
	}
	return pointer, nil
}

func (m *Manager) write(pointer *types.LocalSessionPointer) error {
	b, err := json.Marshal(pointer)
	if err != nil {
		return fmt.Errorf("failed to encode session pointer: %v", err)
	}
	if err := m.storage.Set(PointerKey, string(b)); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

func (m *Manager) purge() error {
	if err := m.storage.Remove(PointerKey); err != nil {
		m.logger.Error("Failed to purge session pointer: %v", err)
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

func (m *Manager) decided(d Decision) Decision {
	m.logger.Info("Startup decision: %s", d)
	return d
}
