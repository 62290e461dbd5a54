package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cbodonnell/sessionkeeper/pkg/continuity"
	"github.com/cbodonnell/sessionkeeper/pkg/invite"
	"github.com/cbodonnell/sessionkeeper/pkg/messages"
	"github.com/cbodonnell/sessionkeeper/pkg/network"
	"github.com/cbodonnell/sessionkeeper/pkg/sessions"
	"github.com/cbodonnell/sessionkeeper/pkg/sessions/types"
	"github.com/cbodonnell/sessionkeeper/pkg/store"
	"github.com/cbodonnell/sessionkeeper/pkg/workers"
	"github.com/google/uuid"
)

var _ workers.CommandHandler = &Runtime{}

// HandleCommand executes a command from the presentation layer. Failures
// the presentation layer can act on are reported to it as messages; the
// returned error is for logging.
func (r *Runtime) HandleCommand(ctx context.Context, inbound *network.InboundMessage) error {
	msg := inbound.Message
	r.logger.Debug("Handling %s from %s", msg.Method, inbound.ConnectionID)

	switch msg.Method {
	case messages.CommandReady:
		return r.ready(ctx, inbound.ConnectionID)
	case messages.CommandHostSession:
		return r.hostSession(ctx, msg.Payload)
	case messages.CommandJoinSession:
		return r.joinSession(ctx, msg.Payload)
	case messages.CommandResolveRecovery:
		return r.resolveRecovery(ctx, msg.Payload)
	case messages.CommandLeaveSession:
		return r.leaveSession(ctx)
	case messages.CommandSetReady:
		return r.setReady(ctx, msg.Payload)
	case messages.CommandUpdatePlayers:
		return r.updatePlayers(ctx, msg.Payload)
	case messages.CommandLogin:
		return r.login(ctx, msg.Payload)
	case messages.CommandLogout:
		return r.logout(ctx)
	case messages.CommandSaveData:
		return r.saveData(ctx, msg.Payload)
	case messages.CommandCheckAndSaveData:
		return r.checkAndSaveData(ctx, msg.Payload)
	case messages.CommandLoadData:
		return r.loadData(ctx, msg.Payload)
	case messages.CommandRemoveData:
		return r.removeData(ctx, msg.Payload)
	case messages.CommandSetupDataListener:
		return r.setupDataListener(msg.Payload)
	case messages.CommandRemoveDataListener:
		return r.removeDataListener(msg.Payload)
	case messages.CommandGenerateQRCode:
		return r.generateQRCode(ctx, msg.Payload)
	case messages.CommandCheckURLSessionCode:
		return r.checkURLSessionCode(ctx, msg.Payload)
	default:
		return fmt.Errorf("unknown command %q", msg.Method)
	}
}

func decodePayload(payload string, v interface{}) error {
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return fmt.Errorf("malformed payload: %v", err)
	}
	return nil
}

// ready attaches the presentation layer, which flushes everything queued
// while it was loading.
func (r *Runtime) ready(ctx context.Context, connectionID uuid.UUID) error {
	sink, err := r.connections.GetSink(connectionID)
	if err != nil {
		return err
	}
	r.lock.Lock()
	r.attachedID = connectionID
	r.attachedSink = sink
	r.lock.Unlock()
	return r.bridge.Attach(ctx, sink)
}

func (r *Runtime) sessionError(ctx context.Context, err error) error {
	r.send(ctx, messages.TargetGameSessionManager, messages.MethodOnSessionError, err.Error())
	return err
}

func (r *Runtime) hostSession(ctx context.Context, payload string) error {
	var p messages.HostSessionPayload
	if payload != "" {
		if err := decodePayload(payload, &p); err != nil {
			return r.sessionError(ctx, err)
		}
	}

	extra := make(map[string]json.RawMessage, len(p.Extra))
	for k, v := range p.Extra {
		b, err := json.Marshal(v)
		if err != nil {
			return r.sessionError(ctx, fmt.Errorf("failed to encode %s: %v", k, err))
		}
		extra[k] = b
	}

	record, err := r.sessions.HostSession(ctx, r.player(p.DisplayName), extra)
	if err != nil {
		return r.sessionError(ctx, err)
	}
	if err := r.enter(record, true); err != nil {
		r.logger.Error("%v", err)
	}
	r.send(ctx, messages.TargetGameSessionManager, messages.MethodOnSessionCreated, record.SessionID)
	return nil
}

func (r *Runtime) joinSession(ctx context.Context, payload string) error {
	var p messages.JoinSessionPayload
	if err := decodePayload(payload, &p); err != nil {
		return r.sessionError(ctx, err)
	}
	if p.SessionID == "" {
		return r.sessionError(ctx, fmt.Errorf("missing session id"))
	}

	outcome, record, err := r.sessions.JoinSession(ctx, p.SessionID, r.player(p.DisplayName))
	if err != nil {
		return r.sessionError(ctx, err)
	}
	if outcome == sessions.SessionNotFound {
		// A pointer to a vanished session is useless for recovery.
		if pointer, ok, _ := r.continuity.Pointer(); ok {
			if id, err := pointer.SessionID(); err == nil && id == p.SessionID {
				if err := r.continuity.Clear(); err != nil {
					r.logger.Error("Failed to clear session pointer: %v", err)
				}
			}
		}
		return r.sessionError(ctx, fmt.Errorf("session %s not found", p.SessionID))
	}

	// Rejoining the session we host keeps the host role.
	isHost := false
	if pointer, ok, _ := r.continuity.Pointer(); ok && pointer.IsHost {
		if id, err := pointer.SessionID(); err == nil && id == p.SessionID {
			isHost = true
		}
	}
	if err := r.enter(record, isHost); err != nil {
		r.logger.Error("%v", err)
	}
	r.send(ctx, messages.TargetGameSessionManager, messages.MethodOnSessionJoined, record.SessionID)
	return nil
}

func (r *Runtime) resolveRecovery(ctx context.Context, payload string) error {
	choice, err := continuity.ParseChoice(payload)
	if err != nil {
		return r.sessionError(ctx, err)
	}
	decision, err := r.continuity.Resolve(choice)
	if err != nil {
		r.logger.Error("Recovery resolved to %s with a storage failure: %v", decision, err)
	}
	method, out := decisionMessage(decision)
	r.send(ctx, messages.TargetGameSessionManager, method, out)
	return nil
}

func (r *Runtime) leaveSession(ctx context.Context) error {
	sessionID, _, ok := r.CurrentSession()
	if !ok {
		// Still clear a pointer left by an earlier run.
		if err := r.exit(); err != nil {
			r.logger.Error("Failed to clear session pointer: %v", err)
		}
		return r.sessionError(ctx, ErrNotInSession)
	}

	outcome, _, err := r.sessions.LeaveSession(ctx, sessionID, r.PlayerID())
	if err != nil {
		return r.sessionError(ctx, err)
	}
	if outcome != sessions.Applied {
		r.logger.Warn("Leaving %s: %s", sessionID, outcome)
	}
	if err := r.exit(); err != nil {
		r.logger.Error("Failed to clear session pointer: %v", err)
	}
	r.send(ctx, messages.TargetGameSessionManager, messages.MethodOnSessionLeft, sessionID)
	return nil
}

func (r *Runtime) setReady(ctx context.Context, payload string) error {
	var p messages.SetReadyPayload
	if err := decodePayload(payload, &p); err != nil {
		return r.sessionError(ctx, err)
	}
	sessionID, _, ok := r.CurrentSession()
	if !ok {
		return r.sessionError(ctx, ErrNotInSession)
	}

	outcome, _, err := r.sessions.SetReady(ctx, sessionID, r.PlayerID(), p.IsReady)
	if err != nil {
		return r.sessionError(ctx, err)
	}
	if outcome != sessions.Applied {
		return r.sessionError(ctx, fmt.Errorf("set ready in %s: %s", sessionID, outcome))
	}
	return nil
}

// updatePlayers replaces the roster and answers on the database manager,
// which is where the presentation layer expects save results.
func (r *Runtime) updatePlayers(ctx context.Context, payload string) error {
	var p messages.UpdatePlayersPayload
	if err := decodePayload(payload, &p); err != nil {
		return r.databaseError(ctx, err)
	}
	sessionID := p.SessionID
	if sessionID == "" {
		current, _, ok := r.CurrentSession()
		if !ok {
			return r.databaseError(ctx, ErrNotInSession)
		}
		sessionID = current
	}

	players, err := decodeRoster(p.Players)
	if err != nil {
		return r.databaseError(ctx, err)
	}

	outcome, _, err := r.sessions.ReplacePlayers(ctx, sessionID, players)
	if err != nil {
		return r.databaseError(ctx, err)
	}
	if outcome == sessions.SessionNotFound {
		return r.databaseError(ctx, fmt.Errorf("session update cancelled: %s not found", sessionID))
	}
	r.send(ctx, messages.TargetDatabaseManager, messages.MethodOnDataSaved, sessions.Key(sessionID))
	return nil
}

// decodeRoster accepts a roster as a list or as an index keyed object.
func decodeRoster(raw json.RawMessage) ([]types.PlayerEntry, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("missing players")
	}
	wrapped, err := json.Marshal(map[string]json.RawMessage{"players": raw})
	if err != nil {
		return nil, err
	}
	var record types.SessionRecord
	if err := json.Unmarshal(wrapped, &record); err != nil {
		return nil, fmt.Errorf("malformed players: %v", err)
	}
	return record.Players, nil
}

func (r *Runtime) login(ctx context.Context, payload string) error {
	var p messages.LoginCommandPayload
	if err := decodePayload(payload, &p); err != nil {
		return r.authError(ctx, err)
	}
	if r.auth == nil {
		return r.authError(ctx, ErrNoAuthProvider)
	}
	claims, err := r.auth.VerifyToken(ctx, p.IDToken)
	if err != nil {
		return r.authError(ctx, err)
	}
	return r.SetUser(ctx, messages.LoginPayload{
		UID:         claims.UID,
		Email:       claims.Email,
		DisplayName: claims.DisplayName,
		IsAnonymous: claims.IsAnonymous,
	})
}

func (r *Runtime) authError(ctx context.Context, err error) error {
	r.send(ctx, messages.TargetAuthManager, messages.MethodOnAuthError, err.Error())
	return err
}

// logout leaves the current session, forgets it locally and signs out.
func (r *Runtime) logout(ctx context.Context) error {
	if sessionID, _, ok := r.CurrentSession(); ok {
		if _, _, err := r.sessions.LeaveSession(ctx, sessionID, r.PlayerID()); err != nil {
			r.logger.Warn("Failed to leave %s on logout: %v", sessionID, err)
		}
	}
	if err := r.exit(); err != nil {
		r.logger.Error("Failed to clear session pointer: %v", err)
	}

	r.lock.Lock()
	r.user = nil
	r.playerID = uuid.NewString()
	r.lock.Unlock()

	r.bridge.Forget(onceLogin)
	r.send(ctx, messages.TargetAuthManager, messages.MethodOnSignOutSuccess, "")
	return nil
}

func (r *Runtime) databaseError(ctx context.Context, err error) error {
	r.send(ctx, messages.TargetDatabaseManager, messages.MethodOnDatabaseError, err.Error())
	return err
}

func (r *Runtime) dataPayload(ctx context.Context, payload string, needData bool) (*messages.DataPayload, error) {
	var p messages.DataPayload
	if err := decodePayload(payload, &p); err != nil {
		return nil, r.databaseError(ctx, err)
	}
	if p.Path == "" {
		return nil, r.databaseError(ctx, fmt.Errorf("missing path"))
	}
	if needData && !json.Valid([]byte(p.Data)) {
		return nil, r.databaseError(ctx, fmt.Errorf("data for %s is not valid JSON", p.Path))
	}
	return &p, nil
}

func (r *Runtime) saveData(ctx context.Context, payload string) error {
	p, err := r.dataPayload(ctx, payload, true)
	if err != nil {
		return err
	}
	if err := r.store.Set(ctx, p.Path, json.RawMessage(p.Data)); err != nil {
		return r.databaseError(ctx, err)
	}
	r.send(ctx, messages.TargetDatabaseManager, messages.MethodOnDataSaved, p.Path)
	return nil
}

// checkAndSaveData writes data only if nothing exists at the path yet.
func (r *Runtime) checkAndSaveData(ctx context.Context, payload string) error {
	p, err := r.dataPayload(ctx, payload, true)
	if err != nil {
		return err
	}
	result, err := r.store.AtomicUpdate(ctx, p.Path, func(current json.RawMessage) (json.RawMessage, error) {
		if current != nil {
			return nil, store.ErrAbortTransaction
		}
		return json.RawMessage(p.Data), nil
	})
	if err != nil {
		r.send(ctx, messages.TargetDatabaseManager, messages.MethodOnTransactionCompleted, p.Path+",false")
		return r.databaseError(ctx, err)
	}
	if !result.Committed {
		r.send(ctx, messages.TargetDatabaseManager, messages.MethodOnTransactionCompleted, p.Path+",false")
		r.send(ctx, messages.TargetDatabaseManager, messages.MethodOnDatabaseError, "a value already exists at "+p.Path)
		return nil
	}
	r.send(ctx, messages.TargetDatabaseManager, messages.MethodOnTransactionCompleted, p.Path+",true")
	r.send(ctx, messages.TargetDatabaseManager, messages.MethodOnDataSaved, p.Path)
	return nil
}

func (r *Runtime) loadData(ctx context.Context, payload string) error {
	p, err := r.dataPayload(ctx, payload, false)
	if err != nil {
		return err
	}
	value, err := r.store.Get(ctx, p.Path)
	if err != nil && !store.IsNotFound(err) {
		return r.databaseError(ctx, err)
	}
	out, _ := workers.RawValue(value)
	r.send(ctx, messages.TargetDatabaseManager, messages.MethodOnDataLoaded, out)
	return nil
}

func (r *Runtime) removeData(ctx context.Context, payload string) error {
	p, err := r.dataPayload(ctx, payload, false)
	if err != nil {
		return err
	}
	if err := r.store.Remove(ctx, p.Path); err != nil {
		return r.databaseError(ctx, err)
	}
	r.send(ctx, messages.TargetDatabaseManager, messages.MethodOnDataRemoved, p.Path)
	return nil
}

func (r *Runtime) setupDataListener(payload string) error {
	var p messages.DataPayload
	if err := decodePayload(payload, &p); err != nil {
		return err
	}
	if p.Path == "" {
		return fmt.Errorf("missing path")
	}
	r.relay.Listen(p.Path)
	return nil
}

func (r *Runtime) removeDataListener(payload string) error {
	var p messages.DataPayload
	if err := decodePayload(payload, &p); err != nil {
		return err
	}
	if !r.relay.StopListening(p.Path) {
		r.logger.Debug("No listener on %s", p.Path)
	}
	return nil
}

// generateQRCode renders the payload text, or the invitation link of the
// current session, as a PNG data URL.
func (r *Runtime) generateQRCode(ctx context.Context, payload string) error {
	var p messages.QRCodePayload
	if payload != "" {
		if err := decodePayload(payload, &p); err != nil {
			return r.sessionError(ctx, err)
		}
	}
	text := p.Text
	if text == "" {
		sessionID, _, ok := r.CurrentSession()
		if !ok {
			return r.sessionError(ctx, ErrNotInSession)
		}
		link, err := invite.Build(r.inviteBaseURL, sessionID)
		if err != nil {
			return r.sessionError(ctx, err)
		}
		text = link
	}
	size := p.Size
	if size == 0 {
		size = r.qrCodeSize
	}
	if !invite.ValidQRCodeSize(size) {
		return r.sessionError(ctx, fmt.Errorf("%w: got %d", invite.ErrQRCodeSize, size))
	}

	dataURL, err := invite.QRCodeDataURL(text, size)
	if err != nil {
		return r.sessionError(ctx, err)
	}
	r.send(ctx, messages.TargetGameSessionManager, messages.MethodSetQRCodeImage, dataURL)
	return nil
}

// checkURLSessionCode reports whether the given page URL carries an
// invitation.
func (r *Runtime) checkURLSessionCode(ctx context.Context, rawURL string) error {
	link, err := invite.Parse(rawURL)
	if err != nil {
		r.send(ctx, messages.TargetURLHandler, messages.MethodOnSessionCodeNotFound, "")
		return nil
	}
	if sessionID, ok := link.SessionID(); ok {
		r.send(ctx, messages.TargetURLHandler, messages.MethodOnSessionCodeFound, sessionID)
		return nil
	}
	r.send(ctx, messages.TargetURLHandler, messages.MethodOnSessionCodeNotFound, "")
	return nil
}
