// Package sessions creates game sessions and maintains their rosters on top
// of a remote store.
package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cbodonnell/sessionkeeper/pkg/log"
	"github.com/cbodonnell/sessionkeeper/pkg/sessions/types"
	"github.com/cbodonnell/sessionkeeper/pkg/store"
)

const (
	keyPrefix = "sessions/"

	DefaultMaxCreateAttempts = 10
)

// ErrSessionNotFound is returned by Load when no record exists.
var ErrSessionNotFound = errors.New("session not found")

// Key returns the store key of a session record.
func Key(sessionID string) string {
	return keyPrefix + sessionID
}

type Service struct {
	store             store.Store
	newCode           func() (string, error)
	maxCreateAttempts int
	logger            *log.Logger
}

type NewServiceOptions struct {
	Store store.Store
	// NewCode generates candidate session ids for HostSession.
	NewCode           func() (string, error)
	MaxCreateAttempts int
}

func NewService(opts NewServiceOptions) *Service {
	s := &Service{
		store:             opts.Store,
		newCode:           opts.NewCode,
		maxCreateAttempts: opts.MaxCreateAttempts,
		logger:            log.With("component", "sessions"),
	}
	if s.newCode == nil {
		s.newCode = NewSessionCode
	}
	if s.maxCreateAttempts <= 0 {
		s.maxCreateAttempts = DefaultMaxCreateAttempts
	}
	return s
}

// CreateSession stores initial under sessionID only if no record exists
// there yet. Concurrent callers with the same id see exactly one Created;
// the others see Collision together with the record that won.
func (s *Service) CreateSession(ctx context.Context, sessionID string, initial types.SessionRecord) (CreateOutcome, *types.SessionRecord, error) {
	if sessionID == "" {
		return Collision, nil, fmt.Errorf("session id is required")
	}
	initial.SessionID = sessionID
	payload, err := json.Marshal(initial)
	if err != nil {
		return Collision, nil, fmt.Errorf("failed to encode session %s: %v", sessionID, err)
	}

	key := Key(sessionID)
	result, err := s.store.AtomicUpdate(ctx, key, func(current json.RawMessage) (json.RawMessage, error) {
		if current != nil {
			return nil, store.ErrAbortTransaction
		}
		return payload, nil
	})
	if err != nil {
		return Collision, nil, &StoreError{Op: "create", Key: key, Err: err}
	}

	record, err := decodeRecord(result.Value)
	if err != nil {
		s.logger.Warn("Session %s holds an unreadable record: %v", sessionID, err)
		record = nil
	}
	if !result.Committed {
		s.logger.Debug("Session id %s is already taken", sessionID)
		return Collision, record, nil
	}
	s.logger.Info("Created session %s", sessionID)
	return Created, record, nil
}

// CreateSessionCheckThenSet creates a session by reading the key and then
// writing it. Two callers racing between the read and the write can both
// observe Created, and the later write wins. It exists for stores that have
// no atomic update; CreateSession is the safe variant.
func (s *Service) CreateSessionCheckThenSet(ctx context.Context, sessionID string, initial types.SessionRecord) (CreateOutcome, error) {
	if sessionID == "" {
		return Collision, fmt.Errorf("session id is required")
	}
	key := Key(sessionID)
	_, err := s.store.Get(ctx, key)
	if err == nil {
		return Collision, nil
	}
	if !store.IsNotFound(err) {
		return Collision, &StoreError{Op: "read", Key: key, Err: err}
	}

	initial.SessionID = sessionID
	payload, err := json.Marshal(initial)
	if err != nil {
		return Collision, fmt.Errorf("failed to encode session %s: %v", sessionID, err)
	}
	if err := s.store.Set(ctx, key, payload); err != nil {
		return Collision, &StoreError{Op: "write", Key: key, Err: err}
	}
	return Created, nil
}

// HostSession creates a session under a fresh random code with host as its
// only player, re-rolling the code on collisions.
func (s *Service) HostSession(ctx context.Context, host types.PlayerEntry, extra map[string]json.RawMessage) (*types.SessionRecord, error) {
	for attempt := 1; attempt <= s.maxCreateAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, err
		}
		initial := types.SessionRecord{
			Players: []types.PlayerEntry{host},
			Extra:   extra,
		}
		outcome, record, err := s.CreateSession(ctx, code, initial)
		if err != nil {
			return nil, err
		}
		if outcome == Created {
			return record, nil
		}
		s.logger.Debug("Re-rolling session code after collision on %s (attempt %d)", code, attempt)
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrNoFreeSessionID, s.maxCreateAttempts)
}

// UpsertPlayer adds player to the roster or replaces the entry with the same
// id. Only the players field is rewritten.
func (s *Service) UpsertPlayer(ctx context.Context, sessionID string, player types.PlayerEntry) (RosterOutcome, *types.SessionRecord, error) {
	if player.ID == "" {
		return NotFound, nil, fmt.Errorf("player id is required")
	}
	return s.mutateRoster(ctx, "upsert player", sessionID, func(record *types.SessionRecord) (RosterOutcome, bool) {
		record.UpsertPlayer(player)
		return Applied, true
	})
}

// RemovePlayer drops the entry with playerID from the roster.
func (s *Service) RemovePlayer(ctx context.Context, sessionID, playerID string) (RosterOutcome, *types.SessionRecord, error) {
	return s.mutateRoster(ctx, "remove player", sessionID, func(record *types.SessionRecord) (RosterOutcome, bool) {
		if !record.RemovePlayer(playerID) {
			return NotFound, false
		}
		return Applied, true
	})
}

// JoinSession adds player to an existing session as not ready.
func (s *Service) JoinSession(ctx context.Context, sessionID string, player types.PlayerEntry) (RosterOutcome, *types.SessionRecord, error) {
	player.IsReady = false
	outcome, record, err := s.UpsertPlayer(ctx, sessionID, player)
	if err == nil && outcome == Applied {
		s.logger.Info("Player %s joined session %s", player.ID, sessionID)
	}
	return outcome, record, err
}

// LeaveSession removes playerID and deletes the session once its roster is
// empty. The returned record is nil when the session was deleted.
func (s *Service) LeaveSession(ctx context.Context, sessionID, playerID string) (RosterOutcome, *types.SessionRecord, error) {
	var outcome RosterOutcome
	key := Key(sessionID)
	result, err := s.store.AtomicUpdate(ctx, key, func(current json.RawMessage) (json.RawMessage, error) {
		if current == nil {
			outcome = SessionNotFound
			return nil, store.ErrAbortTransaction
		}
		next, changed, empty, err := rewriteRoster(current, func(record *types.SessionRecord) bool {
			return record.RemovePlayer(playerID)
		})
		if err != nil {
			return nil, err
		}
		if !changed {
			outcome = NotFound
			return nil, store.ErrAbortTransaction
		}
		outcome = Applied
		if empty {
			return nil, nil
		}
		return next, nil
	})
	if err != nil {
		return s.rosterError("leave", key, err)
	}
	if !result.Committed {
		return outcome, nil, nil
	}

	s.logger.Info("Player %s left session %s", playerID, sessionID)
	if result.Value == nil {
		s.logger.Info("Deleted empty session %s", sessionID)
		return Applied, nil, nil
	}
	record, err := decodeRecord(result.Value)
	if err != nil {
		return Applied, nil, err
	}
	return Applied, record, nil
}

// SetReady updates the readiness flag of a player already on the roster.
func (s *Service) SetReady(ctx context.Context, sessionID, playerID string, ready bool) (RosterOutcome, *types.SessionRecord, error) {
	return s.mutateRoster(ctx, "set ready", sessionID, func(record *types.SessionRecord) (RosterOutcome, bool) {
		i := record.FindPlayer(playerID)
		if i < 0 {
			return NotFound, false
		}
		if record.Players[i].IsReady == ready {
			return Applied, false
		}
		record.Players[i].IsReady = ready
		return Applied, true
	})
}

// ReplacePlayers overwrites the whole roster, keeping one entry per id.
func (s *Service) ReplacePlayers(ctx context.Context, sessionID string, players []types.PlayerEntry) (RosterOutcome, *types.SessionRecord, error) {
	return s.mutateRoster(ctx, "replace players", sessionID, func(record *types.SessionRecord) (RosterOutcome, bool) {
		record.Players = nil
		for _, p := range players {
			record.UpsertPlayer(p)
		}
		return Applied, true
	})
}

// Load returns the session record or an error wrapping ErrSessionNotFound.
func (s *Service) Load(ctx context.Context, sessionID string) (*types.SessionRecord, error) {
	key := Key(sessionID)
	value, err := s.store.Get(ctx, key)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, &StoreError{Op: "read", Key: key, Err: err}
	}
	return decodeRecord(value)
}

// Delete removes the session record.
func (s *Service) Delete(ctx context.Context, sessionID string) error {
	key := Key(sessionID)
	if err := s.store.Remove(ctx, key); err != nil {
		return &StoreError{Op: "remove", Key: key, Err: err}
	}
	s.logger.Info("Deleted session %s", sessionID)
	return nil
}

// Watch calls onChange with the full record after every change of the
// session, and with nil once it is removed.
func (s *Service) Watch(sessionID string, onChange func(record *types.SessionRecord), onError func(err error)) store.SubscriptionID {
	key := Key(sessionID)
	return s.store.Subscribe(key, func(_ string, value json.RawMessage) {
		if value == nil {
			onChange(nil)
			return
		}
		record, err := decodeRecord(value)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(record)
	}, func(_ string, err error) {
		if onError != nil {
			onError(&StoreError{Op: "watch", Key: key, Err: err})
		}
	})
}

func (s *Service) Unwatch(id store.SubscriptionID) {
	s.store.Unsubscribe(id)
}

// mutateRoster runs mutate inside an atomic update of the session. When
// mutate reports no change nothing is written.
func (s *Service) mutateRoster(ctx context.Context, op, sessionID string, mutate func(record *types.SessionRecord) (RosterOutcome, bool)) (RosterOutcome, *types.SessionRecord, error) {
	var outcome RosterOutcome
	key := Key(sessionID)
	result, err := s.store.AtomicUpdate(ctx, key, func(current json.RawMessage) (json.RawMessage, error) {
		if current == nil {
			outcome = SessionNotFound
			return nil, store.ErrAbortTransaction
		}
		next, changed, _, err := rewriteRoster(current, func(record *types.SessionRecord) bool {
			var changed bool
			outcome, changed = mutate(record)
			return changed
		})
		if err != nil {
			return nil, err
		}
		if !changed {
			return nil, store.ErrAbortTransaction
		}
		return next, nil
	})
	if err != nil {
		return s.rosterError(op, key, err)
	}

	// An aborted update that still counts as Applied was a no-op; the
	// result then carries the unchanged record.
	if !result.Committed && outcome != Applied {
		return outcome, nil, nil
	}
	record, err := decodeRecord(result.Value)
	if err != nil {
		return outcome, nil, err
	}
	return outcome, record, nil
}

func (s *Service) rosterError(op, key string, err error) (RosterOutcome, *types.SessionRecord, error) {
	var malformed *malformedRecordError
	if errors.As(err, &malformed) {
		return SessionNotFound, nil, err
	}
	return SessionNotFound, nil, &StoreError{Op: op, Key: key, Err: err}
}

type malformedRecordError struct {
	err error
}

func (e *malformedRecordError) Error() string {
	return fmt.Sprintf("malformed session record: %v", e.err)
}

func (e *malformedRecordError) Unwrap() error {
	return e.err
}

// rewriteRoster applies mutate to the roster of current and re-encodes only
// the players field. Every other field keeps its stored bytes.
func rewriteRoster(current json.RawMessage, mutate func(record *types.SessionRecord) bool) (next json.RawMessage, changed, empty bool, err error) {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(current, &fields); err != nil {
		return nil, false, false, &malformedRecordError{err: err}
	}
	record := types.SessionRecord{}
	if err := json.Unmarshal(current, &record); err != nil {
		return nil, false, false, &malformedRecordError{err: err}
	}

	if !mutate(&record) {
		return nil, false, len(record.Players) == 0, nil
	}

	players := record.Players
	if players == nil {
		players = []types.PlayerEntry{}
	}
	encoded, err := json.Marshal(players)
	if err != nil {
		return nil, false, false, fmt.Errorf("failed to encode players: %v", err)
	}
	fields["players"] = encoded

	next, err = json.Marshal(fields)
	if err != nil {
		return nil, false, false, fmt.Errorf("failed to encode session record: %v", err)
	}
	return next, true, len(players) == 0, nil
}

func decodeRecord(value json.RawMessage) (*types.SessionRecord, error) {
	if value == nil {
		return nil, nil
	}
	record := &types.SessionRecord{}
	if err := json.Unmarshal(value, record); err != nil {
		return nil, &malformedRecordError{err: err}
	}
	return record, nil
}
