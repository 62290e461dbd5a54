// Package client is the session runtime that sits between the game's
// presentation layer and the remote session store.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/cbodonnell/sessionkeeper/pkg/auth/providers"
	"github.com/cbodonnell/sessionkeeper/pkg/bridge"
	"github.com/cbodonnell/sessionkeeper/pkg/continuity"
	"github.com/cbodonnell/sessionkeeper/pkg/invite"
	"github.com/cbodonnell/sessionkeeper/pkg/log"
	"github.com/cbodonnell/sessionkeeper/pkg/messages"
	"github.com/cbodonnell/sessionkeeper/pkg/sessions"
	"github.com/cbodonnell/sessionkeeper/pkg/sessions/types"
	"github.com/cbodonnell/sessionkeeper/pkg/store"
	"github.com/cbodonnell/sessionkeeper/pkg/workers"
	"github.com/google/uuid"
)

// Idempotency kinds used with bridge.SendOnce.
const (
	onceStartup    = "startup"
	onceInvitation = "invitation"
	onceLogin      = "login"
)

// rosterListener is the relay listener name of the current session.
const rosterListener = "roster"

// DefaultDisplayName is used when neither the command nor the signed in
// user names the player.
const DefaultDisplayName = "Player"

var (
	ErrNotInSession   = errors.New("not in a session")
	ErrNoAuthProvider = errors.New("no auth provider configured")
)

// SinkLookup resolves a presentation connection.
type SinkLookup interface {
	GetSink(id uuid.UUID) (bridge.Sink, error)
}

// currentSession is the session the local player is in.
type currentSession struct {
	ID     string
	IsHost bool
}

// Runtime holds everything a client session needs. It replaces the global
// state a browser page would keep.
type Runtime struct {
	continuity    *continuity.Manager
	sessions      *sessions.Service
	store         store.Store
	bridge        *bridge.Bridge
	relay         *workers.ChangeRelayWorker
	connections   SinkLookup
	auth          providers.AuthProvider
	inviteBaseURL string
	qrCodeSize    int
	logger        *log.Logger

	lock         sync.Mutex
	playerID     string
	user         *messages.LoginPayload
	current      *currentSession
	attachedID   uuid.UUID
	attachedSink bridge.Sink
}

type NewRuntimeOptions struct {
	Continuity  *continuity.Manager
	Sessions    *sessions.Service
	Store       store.Store
	Bridge      *bridge.Bridge
	Relay       *workers.ChangeRelayWorker
	Connections SinkLookup
	// Auth verifies tokens sent with the Login command. Optional.
	Auth providers.AuthProvider
	// InviteBaseURL is the page invitation links point at.
	InviteBaseURL string
	QRCodeSize    int
}

func NewRuntime(opts NewRuntimeOptions) *Runtime {
	r := &Runtime{
		continuity:    opts.Continuity,
		sessions:      opts.Sessions,
		store:         opts.Store,
		bridge:        opts.Bridge,
		relay:         opts.Relay,
		connections:   opts.Connections,
		auth:          opts.Auth,
		inviteBaseURL: opts.InviteBaseURL,
		qrCodeSize:    opts.QRCodeSize,
		logger:        log.With("component", "runtime"),
		// Players who never sign in still need a stable roster id.
		playerID: uuid.NewString(),
	}
	if r.qrCodeSize <= 0 {
		r.qrCodeSize = invite.DefaultQRCodeSize
	}
	return r
}

type StartOptions struct {
	// InvitationURL is the URL the client was opened with, if any.
	InvitationURL string
	// IsHost is the role the client intends to take this run.
	IsHost bool
}

// Start makes the startup decision and queues it for the presentation
// layer. The decision is delivered once per runtime, however often Start
// runs. A local storage failure is reported once with OnSessionError and
// returned; the decision is still delivered.
func (r *Runtime) Start(ctx context.Context, opts StartOptions) (continuity.Decision, error) {
	invitation := r.checkInvitation(ctx, opts.InvitationURL)

	decision, decideErr := r.continuity.Decide(continuity.Inputs{
		InvitationSessionID: invitation,
		IsHost:              opts.IsHost,
	})
	if decideErr != nil {
		r.logger.Error("Startup decision fell back to %s: %v", decision, decideErr)
		r.send(ctx, messages.TargetGameSessionManager, messages.MethodOnSessionError, decideErr.Error())
	}

	method, payload := decisionMessage(decision)
	accepted, err := r.bridge.SendOnce(ctx, onceStartup, onceStartup, messages.TargetGameSessionManager, method, payload)
	if err != nil {
		return decision, fmt.Errorf("failed to queue startup decision: %w", err)
	}
	if !accepted {
		r.logger.Debug("Startup decision already delivered")
	}
	return decision, decideErr
}

// checkInvitation reports the invitation to the URL handler and returns
// the invited session id.
func (r *Runtime) checkInvitation(ctx context.Context, rawURL string) string {
	if rawURL == "" {
		return ""
	}
	link, err := invite.Parse(rawURL)
	if err != nil {
		r.logger.Warn("Ignoring unparseable invitation link: %v", err)
		return ""
	}
	sessionID, ok := link.SessionID()
	if !ok {
		r.bridge.SendOnce(ctx, onceInvitation, "", messages.TargetURLHandler, messages.MethodOnSessionCodeNotFound, "")
		return ""
	}
	r.bridge.SendOnce(ctx, onceInvitation, sessionID, messages.TargetURLHandler, messages.MethodOnSessionCodeFound, sessionID)
	return sessionID
}

func decisionMessage(d continuity.Decision) (method, payload string) {
	switch d.Outcome {
	case continuity.AutoRejoin:
		return messages.MethodAutoRejoin, d.SessionID
	case continuity.JoinFromInvitation:
		return messages.MethodJoinFromInvitation, d.SessionID
	case continuity.PromptRecovery:
		return messages.MethodPromptRecovery, strconv.FormatBool(d.IsHost)
	default:
		return messages.MethodStartClean, ""
	}
}

// SetUser records the signed in user and tells the presentation layer.
// OnLoginSuccess is sent once per user id until the user signs out.
func (r *Runtime) SetUser(ctx context.Context, user messages.LoginPayload) error {
	if user.UID == "" {
		return fmt.Errorf("user has no uid")
	}
	r.lock.Lock()
	r.user = &user
	r.playerID = user.UID
	r.lock.Unlock()

	b, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %v", err)
	}
	accepted, err := r.bridge.SendOnce(ctx, onceLogin, user.UID, messages.TargetAuthManager, messages.MethodOnLoginSuccess, string(b))
	if err != nil {
		return err
	}
	if accepted && user.Email != "" {
		r.send(ctx, messages.TargetUserSessionManager, messages.MethodSetUserEmail, user.Email)
	}
	return nil
}

// ConnectionClosed detaches the presentation layer if it was attached
// through the closed connection.
func (r *Runtime) ConnectionClosed(id uuid.UUID) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.attachedSink == nil || r.attachedID != id {
		return
	}
	r.bridge.Detach(r.attachedSink)
	r.attachedSink = nil
	r.attachedID = uuid.Nil
}

// CurrentSession returns the session the local player is in.
func (r *Runtime) CurrentSession() (sessionID string, isHost bool, ok bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.current == nil {
		return "", false, false
	}
	return r.current.ID, r.current.IsHost, true
}

// PlayerID is the roster id of the local player.
func (r *Runtime) PlayerID() string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.playerID
}

// Close stops relaying and drops undelivered messages. The local pointer
// is kept so that the next start can offer recovery.
func (r *Runtime) Close() {
	r.relay.StopAll()
	r.bridge.Close()
}

func (r *Runtime) send(ctx context.Context, target, method, payload string) {
	if err := r.bridge.Send(ctx, target, method, payload); err != nil {
		r.logger.Error("Failed to send %s.%s: %v", target, method, err)
	}
}

func (r *Runtime) player(displayName string) types.PlayerEntry {
	r.lock.Lock()
	defer r.lock.Unlock()
	if displayName == "" && r.user != nil {
		displayName = r.user.DisplayName
	}
	if displayName == "" {
		displayName = DefaultDisplayName
	}
	return types.PlayerEntry{ID: r.playerID, DisplayName: displayName}
}

// enter makes sessionID the current session, remembers it locally and
// relays its roster.
func (r *Runtime) enter(record *types.SessionRecord, isHost bool) error {
	r.lock.Lock()
	r.current = &currentSession{ID: record.SessionID, IsHost: isHost}
	r.lock.Unlock()

	r.relay.ListenRoute(rosterListener, sessions.Key(record.SessionID), workers.Route{
		Target:      messages.TargetGameSessionManager,
		Method:      messages.MethodOnRosterUpdated,
		ErrorTarget: messages.TargetGameSessionManager,
		ErrorMethod: messages.MethodOnSessionError,
		Transform:   rosterPayload,
	})

	if err := r.continuity.RecordSession(*record, isHost); err != nil {
		return fmt.Errorf("failed to remember session %s: %w", record.SessionID, err)
	}
	return nil
}

// exit forgets the current session locally.
func (r *Runtime) exit() error {
	r.lock.Lock()
	r.current = nil
	r.lock.Unlock()

	r.relay.StopListening(rosterListener)
	return r.continuity.Clear()
}

// rosterPayload relays the players of a changed session record.
func rosterPayload(value json.RawMessage) (string, bool) {
	if value == nil {
		return "", false
	}
	var record types.SessionRecord
	if err := json.Unmarshal(value, &record); err != nil {
		log.Warn("Skipping malformed session record: %v", err)
		return "", false
	}
	players := record.Players
	if players == nil {
		players = []types.PlayerEntry{}
	}
	b, err := json.Marshal(players)
	if err != nil {
		return "", false
	}
	return string(b), true
}
