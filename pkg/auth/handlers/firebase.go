package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/cbodonnell/sessionkeeper/pkg/log"
)

const (
	DefaultIdentityToolkitURL = "https://identitytoolkit.googleapis.com/v1"
	DefaultSecureTokenURL     = "https://securetoken.googleapis.com/v1"
)

var _ AuthHandler = &FirebaseAuthHandler{}

// TokenRevoker ends every session of the user owning an ID token.
type TokenRevoker interface {
	RevokeToken(ctx context.Context, idToken string) error
}

// FirebaseAuthHandler implements AuthHandler using Firebase Auth REST API
type FirebaseAuthHandler struct {
	apiKey             string
	identityToolkitURL string
	secureTokenURL     string
	client             *http.Client
	revoker            TokenRevoker
}

type NewFirebaseAuthHandlerOptions struct {
	APIKey string
	// IdentityToolkitURL and SecureTokenURL override the Google endpoints.
	IdentityToolkitURL string
	SecureTokenURL     string
	HTTPClient         *http.Client
	// Revoker enables the sign-out endpoint.
	Revoker TokenRevoker
}

// NewFirebaseAuthHandler creates a new instance of FirebaseAuthHandler
func NewFirebaseAuthHandler(opts NewFirebaseAuthHandlerOptions) *FirebaseAuthHandler {
	h := &FirebaseAuthHandler{
		apiKey:             opts.APIKey,
		identityToolkitURL: strings.TrimSuffix(opts.IdentityToolkitURL, "/"),
		secureTokenURL:     strings.TrimSuffix(opts.SecureTokenURL, "/"),
		client:             opts.HTTPClient,
		revoker:            opts.Revoker,
	}
	if h.identityToolkitURL == "" {
		h.identityToolkitURL = DefaultIdentityToolkitURL
	}
	if h.secureTokenURL == "" {
		h.secureTokenURL = DefaultSecureTokenURL
	}
	if h.client == nil {
		h.client = http.DefaultClient
	}
	return h
}

// ErrorResponseBody is the response body for an error
// https://firebase.google.com/docs/reference/rest/auth#section-error-format
type ErrorResponseBody struct {
	Error struct {
		Code    int                  `json:"code"`
		Message ErrorResponseMessage `json:"message"`
		Errors  []struct {
			Message string `json:"message"`
			Domain  string `json:"domain"`
			Reason  string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

type ErrorResponseMessage string

const (
	ErrorEmailExists             ErrorResponseMessage = "EMAIL_EXISTS"
	ErrorEmailNotFound           ErrorResponseMessage = "EMAIL_NOT_FOUND"
	ErrorOperationNotAllowed     ErrorResponseMessage = "OPERATION_NOT_ALLOWED"
	ErrorTooManyAttempts         ErrorResponseMessage = "TOO_MANY_ATTEMPTS_TRY_LATER"
	ErrorInvalidEmail            ErrorResponseMessage = "INVALID_EMAIL"
	ErrorInvalidLoginCredentials ErrorResponseMessage = "INVALID_LOGIN_CREDENTIALS"
	ErrorTokenExpired            ErrorResponseMessage = "TOKEN_EXPIRED"
	ErrorInvalidRefreshToken     ErrorResponseMessage = "INVALID_REFRESH_TOKEN"
	ErrorInvalidIDToken          ErrorResponseMessage = "INVALID_ID_TOKEN"
	ErrorUserNotFound            ErrorResponseMessage = "USER_NOT_FOUND"
	// Firebase appends a description to this one.
	ErrorWeakPassword ErrorResponseMessage = "WEAK_PASSWORD"
)

// clientErrors maps upstream error messages to messages shown to clients.
// Prefix matching covers messages that carry a description.
type clientErrors map[ErrorResponseMessage]string

func (c clientErrors) lookup(message ErrorResponseMessage) (string, bool) {
	for prefix, text := range c {
		if strings.HasPrefix(string(message), string(prefix)) {
			return text, true
		}
	}
	return "", false
}

// upstreamError is a non-200 answer from Firebase.
type upstreamError struct {
	status  int
	message ErrorResponseMessage
}

func (e *upstreamError) Error() string {
	return fmt.Sprintf("firebase responded %d: %s", e.status, e.message)
}

// forward posts payload to url and decodes a successful answer into out.
func (h *FirebaseAuthHandler) forward(ctx context.Context, url string, payload interface{}, out interface{}) error {
	body := bytes.NewBuffer(nil)
	if err := json.NewEncoder(body).Encode(payload); err != nil {
		return fmt.Errorf("error encoding request body: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"?key="+h.apiKey, body)
	if err != nil {
		return fmt.Errorf("error creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errorResponse := &ErrorResponseBody{}
		if err := json.NewDecoder(resp.Body).Decode(errorResponse); err != nil {
			return fmt.Errorf("failed to decode error response with status %s: %v", resp.Status, err)
		}
		return &upstreamError{status: resp.StatusCode, message: errorResponse.Error.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %v", err)
	}
	return nil
}

// proxy forwards a request and writes the decoded answer, or a client
// error for known failures, to w.
func (h *FirebaseAuthHandler) proxy(w http.ResponseWriter, r *http.Request, op, url string, payload interface{}, out interface{}, known clientErrors) {
	err := h.forward(r.Context(), url, payload, out)
	if err != nil {
		if upstream, ok := err.(*upstreamError); ok {
			if text, ok := known.lookup(upstream.message); ok {
				log.Debug("%s rejected: %s", op, upstream.message)
				http.Error(w, text, http.StatusBadRequest)
				return
			}
			log.Error("unhandled error response message: %s", upstream.message)
		} else {
			log.Error("%s failed: %v", op, err)
		}
		http.Error(w, "Failed to "+op, http.StatusInternalServerError)
		return
	}

	if out == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		log.Error("error encoding response: %v", err)
	}
}

func requireForm(w http.ResponseWriter, r *http.Request, fields ...string) (map[string]string, bool) {
	values := make(map[string]string, len(fields))
	for _, field := range fields {
		v := r.FormValue(field)
		if v == "" {
			http.Error(w, "Missing "+field, http.StatusBadRequest)
			return nil, false
		}
		values[field] = v
	}
	return values, true
}

// SignUpRequestBody is the request body for password and anonymous sign-up
type SignUpRequestBody struct {
	Email             string `json:"email,omitempty"`
	Password          string `json:"password,omitempty"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

// SignUpResponseBody is the response body for password and anonymous sign-up
type SignUpResponseBody struct {
	IDToken      string `json:"idToken"`
	Email        string `json:"email,omitempty"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	LocalID      string `json:"localId"`
}

// HandleRegister handles requests to the register endpoint
// https://firebase.google.com/docs/reference/rest/auth#section-create-email-password
func (h *FirebaseAuthHandler) HandleRegister() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		form, ok := requireForm(w, r, "email", "password")
		if !ok {
			return
		}
		h.proxy(w, r, "register", h.identityToolkitURL+"/accounts:signUp", &SignUpRequestBody{
			Email:             form["email"],
			Password:          form["password"],
			ReturnSecureToken: true,
		}, &SignUpResponseBody{}, clientErrors{
			ErrorInvalidEmail:        "Invalid email",
			ErrorWeakPassword:        "Password should be at least 6 characters",
			ErrorEmailExists:         "Email already exists",
			ErrorOperationNotAllowed: "Operation not allowed",
			ErrorTooManyAttempts:     "Too many attempts, try again later",
		})
	}
}

// HandleAnonymous signs in a new anonymous user
// https://firebase.google.com/docs/reference/rest/auth#section-sign-in-anonymously
func (h *FirebaseAuthHandler) HandleAnonymous() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		h.proxy(w, r, "sign in anonymously", h.identityToolkitURL+"/accounts:signUp", &SignUpRequestBody{
			ReturnSecureToken: true,
		}, &SignUpResponseBody{}, clientErrors{
			ErrorOperationNotAllowed: "Anonymous sign-in is disabled",
			ErrorTooManyAttempts:     "Too many attempts, try again later",
		})
	}
}

// LoginRequestBody is the request body for the login endpoint
type LoginRequestBody struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

// LoginResponseBody is the response body for the login endpoint
type LoginResponseBody struct {
	IDToken      string `json:"idToken"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName,omitempty"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	LocalID      string `json:"localId"`
	Registered   bool   `json:"registered"`
}

// HandleLogin handles requests to the login endpoint
// https://firebase.google.com/docs/reference/rest/auth#section-sign-in-email-password
func (h *FirebaseAuthHandler) HandleLogin() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		form, ok := requireForm(w, r, "email", "password")
		if !ok {
			return
		}
		h.proxy(w, r, "login", h.identityToolkitURL+"/accounts:signInWithPassword", &LoginRequestBody{
			Email:             form["email"],
			Password:          form["password"],
			ReturnSecureToken: true,
		}, &LoginResponseBody{}, clientErrors{
			ErrorInvalidEmail:            "Invalid email",
			ErrorInvalidLoginCredentials: "Invalid credentials",
			ErrorTooManyAttempts:         "Too many attempts, try again later",
		})
	}
}

// ResetPasswordRequestBody is the request body for the reset password endpoint
type ResetPasswordRequestBody struct {
	RequestType string `json:"requestType"`
	Email       string `json:"email"`
}

// ResetPasswordResponseBody is the response body for the reset password endpoint
type ResetPasswordResponseBody struct {
	Email string `json:"email"`
}

// HandleResetPassword sends a password reset email
// https://firebase.google.com/docs/reference/rest/auth#section-send-password-reset-email
func (h *FirebaseAuthHandler) HandleResetPassword() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		form, ok := requireForm(w, r, "email")
		if !ok {
			return
		}
		h.proxy(w, r, "reset password", h.identityToolkitURL+"/accounts:sendOobCode", &ResetPasswordRequestBody{
			RequestType: "PASSWORD_RESET",
			Email:       form["email"],
		}, &ResetPasswordResponseBody{}, clientErrors{
			ErrorInvalidEmail:  "Invalid email",
			ErrorEmailNotFound: "Email not found",
		})
	}
}

// RefreshRequestBody is the request body for the refresh endpoint
type RefreshRequestBody struct {
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token"`
}

// RefreshResponseBody is the response body for the refresh endpoint
type RefreshResponseBody struct {
	ExpiresIn    string `json:"expires_in"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	UserID       string `json:"user_id"`
	ProjectID    string `json:"project_id"`
}

// HandleRefresh handles requests to the refresh endpoint
// https://firebase.google.com/docs/reference/rest/auth#section-refresh-token
func (h *FirebaseAuthHandler) HandleRefresh() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		form, ok := requireForm(w, r, "refreshToken")
		if !ok {
			return
		}
		h.proxy(w, r, "refresh", h.secureTokenURL+"/token", &RefreshRequestBody{
			GrantType:    "refresh_token",
			RefreshToken: form["refreshToken"],
		}, &RefreshResponseBody{}, clientErrors{
			ErrorTokenExpired:        "Token expired",
			ErrorInvalidRefreshToken: "Invalid refresh token",
			ErrorUserNotFound:        "User not found",
		})
	}
}

// DeleteRequestBody is the request body for the delete endpoint
type DeleteRequestBody struct {
	IDToken string `json:"idToken"`
}

// HandleDelete handles requests to the delete endpoint
// https://firebase.google.com/docs/reference/rest/auth#section-delete-account
func (h *FirebaseAuthHandler) HandleDelete() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		form, ok := requireForm(w, r, "idToken")
		if !ok {
			return
		}
		h.proxy(w, r, "delete", h.identityToolkitURL+"/accounts:delete", &DeleteRequestBody{
			IDToken: form["idToken"],
		}, nil, clientErrors{
			ErrorInvalidIDToken: "Invalid ID token",
			ErrorUserNotFound:   "User not found",
		})
	}
}

// HandleSignOut revokes the refresh tokens of the user owning idToken
func (h *FirebaseAuthHandler) HandleSignOut() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.revoker == nil {
			http.Error(w, "Sign-out is not enabled", http.StatusNotImplemented)
			return
		}
		form, ok := requireForm(w, r, "idToken")
		if !ok {
			return
		}
		if err := h.revoker.RevokeToken(r.Context(), form["idToken"]); err != nil {
			log.Debug("sign out rejected: %v", err)
			http.Error(w, "Invalid ID token", http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
