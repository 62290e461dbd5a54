package messages

import "encoding/json"

// Targets are the receivers on the presentation side.
const (
	TargetGameSessionManager = "GameSessionManager"
	TargetAuthManager        = "AuthManager"
	TargetDatabaseManager    = "DatabaseManager"
	TargetURLHandler         = "URLHandler"
	TargetUserSessionManager = "UserSessionManager"
)

// Startup outcomes, sent to TargetGameSessionManager.
const (
	MethodAutoRejoin         = "AutoRejoin"
	MethodJoinFromInvitation = "JoinFromInvitation"
	MethodPromptRecovery     = "PromptRecovery"
	MethodStartClean         = "StartClean"
)

// Session events, sent to TargetGameSessionManager.
const (
	MethodOnSessionCreated = "OnSessionCreated"
	MethodOnSessionJoined  = "OnSessionJoined"
	MethodOnSessionLeft    = "OnSessionLeft"
	MethodOnRosterUpdated  = "OnRosterUpdated"
	MethodOnSessionError   = "OnSessionError"
	MethodSetQRCodeImage   = "SetQRCodeImage"
)

// Invitation events, sent to TargetURLHandler.
const (
	MethodOnSessionCodeFound    = "OnSessionCodeFound"
	MethodOnSessionCodeNotFound = "OnSessionCodeNotFound"
)

// Auth events, sent to TargetAuthManager and TargetUserSessionManager.
const (
	MethodOnLoginSuccess   = "OnLoginSuccess"
	MethodOnAuthError      = "OnAuthError"
	MethodOnSignOutSuccess = "OnSignOutSuccess"
	MethodSetUserEmail     = "SetUserEmail"
)

// Database relay events, sent to TargetDatabaseManager.
const (
	MethodOnDataSaved            = "OnDataSaved"
	MethodOnDataLoaded           = "OnDataLoaded"
	MethodOnDataRemoved          = "OnDataRemoved"
	MethodOnTransactionCompleted = "OnTransactionCompleted"
	MethodOnDataChanged          = "OnDataChanged"
	MethodOnDatabaseError        = "OnDatabaseError"
)

// Commands sent by the presentation layer.
const (
	CommandReady               = "Ready"
	CommandHostSession         = "HostSession"
	CommandJoinSession         = "JoinSession"
	CommandResolveRecovery     = "ResolveRecovery"
	CommandLeaveSession        = "LeaveSession"
	CommandSetReady            = "SetReady"
	CommandUpdatePlayers       = "UpdatePlayers"
	CommandLogin               = "Login"
	CommandLogout              = "Logout"
	CommandSaveData            = "SaveData"
	CommandCheckAndSaveData    = "CheckAndSaveData"
	CommandLoadData            = "LoadData"
	CommandRemoveData          = "RemoveData"
	CommandSetupDataListener   = "SetupDataListener"
	CommandRemoveDataListener  = "RemoveDataListener"
	CommandGenerateQRCode      = "GenerateQRCode"
	CommandCheckURLSessionCode = "CheckURLSessionCode"
)

// Message is a single string message between the runtime and the
// presentation layer. Outbound messages name a target receiver; inbound
// commands leave it empty.
type Message struct {
	Target  string `json:"target,omitempty"`
	Method  string `json:"method"`
	Payload string `json:"payload"`
}

// HostSessionPayload is the payload of CommandHostSession.
type HostSessionPayload struct {
	DisplayName string `json:"displayName"`
	// Extra holds initial game state fields of the new session.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// JoinSessionPayload is the payload of CommandJoinSession.
type JoinSessionPayload struct {
	SessionID   string `json:"sessionId"`
	DisplayName string `json:"displayName"`
}

// SetReadyPayload is the payload of CommandSetReady.
type SetReadyPayload struct {
	IsReady bool `json:"isReady"`
}

// UpdatePlayersPayload is the payload of CommandUpdatePlayers. An empty
// SessionID means the current session.
type UpdatePlayersPayload struct {
	SessionID string          `json:"sessionId,omitempty"`
	Players   json.RawMessage `json:"players"`
}

// LoginCommandPayload is the payload of CommandLogin.
type LoginCommandPayload struct {
	IDToken string `json:"idToken"`
}

// DataPayload is the payload of the database relay commands. Data is the
// serialized JSON value for the save commands.
type DataPayload struct {
	Path string `json:"path"`
	Data string `json:"data,omitempty"`
}

// QRCodePayload is the payload of CommandGenerateQRCode. An empty Text
// renders the invitation link of the current session.
type QRCodePayload struct {
	Text string `json:"text,omitempty"`
	Size int    `json:"size,omitempty"`
}

// LoginPayload is sent with MethodOnLoginSuccess.
type LoginPayload struct {
	UID         string `json:"uid"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	IsAnonymous bool   `json:"isAnonymous"`
}
