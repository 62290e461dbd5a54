package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/cbodonnell/sessionkeeper/pkg/api/middleware"
	"github.com/cbodonnell/sessionkeeper/pkg/invite"
	"github.com/cbodonnell/sessionkeeper/pkg/log"
	"github.com/cbodonnell/sessionkeeper/pkg/sessions"
	"github.com/cbodonnell/sessionkeeper/pkg/sessions/types"
	"github.com/gorilla/mux"
)

// RetryAfterSeconds is the retry hint sent when the session store fails.
const RetryAfterSeconds = 2

const maxDisplayNameLength = 32

type CreateSessionRequest struct {
	DisplayName string                     `json:"displayName"`
	Extra       map[string]json.RawMessage `json:"extra,omitempty"`
}

type PlayerRequest struct {
	DisplayName string `json:"displayName"`
	IsReady     bool   `json:"isReady"`
}

type InviteResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// HandleHostSession creates a session under a fresh code with the caller as
// its only player.
func HandleHostSession(service *sessions.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.UserFromContext(r.Context())
		if !ok {
			log.Error("failed to get user from context")
			http.Error(w, "Failed to get user from context", http.StatusInternalServerError)
			return
		}

		var req CreateSessionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		host, ok := playerFor(w, user.UID, req.DisplayName, user.DisplayName)
		if !ok {
			return
		}

		record, err := service.HostSession(r.Context(), host, req.Extra)
		if err != nil {
			writeServiceError(w, "host session", err)
			return
		}
		w.Header().Set("Location", "/sessions/"+record.SessionID)
		writeJSON(w, http.StatusCreated, record)
	}
}

// HandleCreateSession creates a session under the id in the path. A taken
// id answers 409 with the record that already holds it.
func HandleCreateSession(service *sessions.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.UserFromContext(r.Context())
		if !ok {
			log.Error("failed to get user from context")
			http.Error(w, "Failed to get user from context", http.StatusInternalServerError)
			return
		}
		sessionID := mux.Vars(r)["sessionID"]

		var req CreateSessionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		host, ok := playerFor(w, user.UID, req.DisplayName, user.DisplayName)
		if !ok {
			return
		}

		outcome, record, err := service.CreateSession(r.Context(), sessionID, types.SessionRecord{
			Players: []types.PlayerEntry{host},
			Extra:   req.Extra,
		})
		if err != nil {
			writeServiceError(w, "create session", err)
			return
		}
		if outcome == sessions.Collision {
			if record == nil {
				http.Error(w, "Session already exists", http.StatusConflict)
				return
			}
			writeJSON(w, http.StatusConflict, record)
			return
		}
		writeJSON(w, http.StatusCreated, record)
	}
}

func HandleGetSession(service *sessions.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		record, err := service.Load(r.Context(), mux.Vars(r)["sessionID"])
		if err != nil {
			writeServiceError(w, "load session", err)
			return
		}
		writeJSON(w, http.StatusOK, record)
	}
}

// HandleDeleteSession removes a session. Only players on its roster may
// delete it.
func HandleDeleteSession(service *sessions.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.UserFromContext(r.Context())
		if !ok {
			log.Error("failed to get user from context")
			http.Error(w, "Failed to get user from context", http.StatusInternalServerError)
			return
		}
		sessionID := mux.Vars(r)["sessionID"]

		record, err := service.Load(r.Context(), sessionID)
		if err != nil {
			writeServiceError(w, "load session", err)
			return
		}
		if record.FindPlayer(user.UID) < 0 {
			http.Error(w, "Not a player of this session", http.StatusForbidden)
			return
		}
		if err := service.Delete(r.Context(), sessionID); err != nil {
			writeServiceError(w, "delete session", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleUpsertPlayer adds the caller to a roster or updates their entry.
func HandleUpsertPlayer(service *sessions.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID, ok := callerPlayerID(w, r)
		if !ok {
			return
		}
		user, _ := middleware.UserFromContext(r.Context())

		var req PlayerRequest
		if !decodeBody(w, r, &req) {
			return
		}
		player, ok := playerFor(w, playerID, req.DisplayName, user.DisplayName)
		if !ok {
			return
		}
		player.IsReady = req.IsReady

		outcome, record, err := service.UpsertPlayer(r.Context(), mux.Vars(r)["sessionID"], player)
		if err != nil {
			writeServiceError(w, "upsert player", err)
			return
		}
		if outcome == sessions.SessionNotFound {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, record)
	}
}

// HandleRemovePlayer takes the caller off a roster. The session is deleted
// with its last player.
func HandleRemovePlayer(service *sessions.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID, ok := callerPlayerID(w, r)
		if !ok {
			return
		}

		outcome, _, err := service.LeaveSession(r.Context(), mux.Vars(r)["sessionID"], playerID)
		if err != nil {
			writeServiceError(w, "remove player", err)
			return
		}
		switch outcome {
		case sessions.SessionNotFound:
			http.Error(w, "Session not found", http.StatusNotFound)
		case sessions.NotFound:
			http.Error(w, "Player not found", http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

// HandleInvite returns the invitation link of a session.
func HandleInvite(service *sessions.Service, baseURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		link, ok := inviteLink(w, r, service, baseURL)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, InviteResponse{
			SessionID: mux.Vars(r)["sessionID"],
			URL:       link,
		})
	}
}

// HandleInviteQRCode renders the invitation link of a session as a PNG.
// The optional size query parameter sets the edge length in pixels.
func HandleInviteQRCode(service *sessions.Service, baseURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		size := invite.DefaultQRCodeSize
		if raw := r.URL.Query().Get("size"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || !invite.ValidQRCodeSize(parsed) {
				http.Error(w, fmt.Sprintf("Size must be between %d and %d", invite.MinQRCodeSize, invite.MaxQRCodeSize), http.StatusBadRequest)
				return
			}
			size = parsed
		}

		link, ok := inviteLink(w, r, service, baseURL)
		if !ok {
			return
		}
		png, err := invite.QRCode(link, size)
		if err != nil {
			log.Error("failed to render qr code: %v", err)
			http.Error(w, "Failed to render QR code", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(png)
	}
}

func inviteLink(w http.ResponseWriter, r *http.Request, service *sessions.Service, baseURL string) (string, bool) {
	sessionID := mux.Vars(r)["sessionID"]
	if _, err := service.Load(r.Context(), sessionID); err != nil {
		writeServiceError(w, "load session", err)
		return "", false
	}
	link, err := invite.Build(baseURL, sessionID)
	if err != nil {
		log.Error("failed to build invite link: %v", err)
		http.Error(w, "Failed to build invite link", http.StatusInternalServerError)
		return "", false
	}
	return link, true
}

// callerPlayerID returns the player id in the path if it is the caller's.
func callerPlayerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		log.Error("failed to get user from context")
		http.Error(w, "Failed to get user from context", http.StatusInternalServerError)
		return "", false
	}
	playerID := mux.Vars(r)["playerID"]
	if playerID != user.UID {
		http.Error(w, "Players may only change their own entry", http.StatusForbidden)
		return "", false
	}
	return playerID, true
}

func playerFor(w http.ResponseWriter, id, displayName, fallback string) (types.PlayerEntry, bool) {
	if displayName == "" {
		displayName = fallback
	}
	if displayName == "" {
		http.Error(w, "Display name is required", http.StatusBadRequest)
		return types.PlayerEntry{}, false
	}
	if len(displayName) > maxDisplayNameLength {
		http.Error(w, "Display name is too long", http.StatusBadRequest)
		return types.PlayerEntry{}, false
	}
	return types.PlayerEntry{ID: id, DisplayName: displayName}, true
}

// decodeBody decodes an optional JSON body.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Malformed request body", http.StatusBadRequest)
		return false
	}
	return true
}

// writeServiceError maps session service failures onto status codes. Store
// failures are transient and carry a retry hint.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, sessions.ErrSessionNotFound):
		http.Error(w, "Session not found", http.StatusNotFound)
	case sessions.IsStoreError(err), errors.Is(err, sessions.ErrNoFreeSessionID):
		log.Error("failed to %s: %v", op, err)
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
		http.Error(w, "Session store unavailable", http.StatusServiceUnavailable)
	default:
		log.Error("failed to %s: %v", op, err)
		http.Error(w, "Failed to "+op, http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to encode response: %v", err)
	}
}
