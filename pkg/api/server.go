package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/cbodonnell/sessionkeeper/pkg/api/handlers"
	"github.com/cbodonnell/sessionkeeper/pkg/api/middleware"
	authproviders "github.com/cbodonnell/sessionkeeper/pkg/auth/providers"
	"github.com/cbodonnell/sessionkeeper/pkg/log"
	"github.com/cbodonnell/sessionkeeper/pkg/sessions"
	"github.com/cbodonnell/sessionkeeper/pkg/version"
	"github.com/gorilla/mux"
)

type APIServer struct {
	server *http.Server
	tls    *TLSConfig
}

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type NewAPIServerOptions struct {
	Port          int
	TLS           *TLSConfig
	AllowedOrigin string
	AuthProvider  authproviders.AuthProvider
	Sessions      *sessions.Service
	// InviteBaseURL is the game page that invitation links point at.
	InviteBaseURL string
}

// NewRouter builds the session API. Everything under /sessions requires a
// bearer token.
func NewRouter(opts NewAPIServerOptions) http.Handler {
	router := mux.NewRouter()
	router.Use(middleware.NewCORSMiddleware(opts.AllowedOrigin))

	// Preflight requests carry no credentials.
	router.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	router.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, version.Get())
	}).Methods(http.MethodGet)

	s := router.PathPrefix("/sessions").Subrouter()
	s.Use(middleware.NewAuthMiddleware(opts.AuthProvider))
	s.HandleFunc("", handlers.HandleHostSession(opts.Sessions)).Methods(http.MethodPost)
	s.HandleFunc("/{sessionID}", handlers.HandleGetSession(opts.Sessions)).Methods(http.MethodGet)
	s.HandleFunc("/{sessionID}", handlers.HandleCreateSession(opts.Sessions)).Methods(http.MethodPut)
	s.HandleFunc("/{sessionID}", handlers.HandleDeleteSession(opts.Sessions)).Methods(http.MethodDelete)
	s.HandleFunc("/{sessionID}/players/{playerID}", handlers.HandleUpsertPlayer(opts.Sessions)).Methods(http.MethodPut)
	s.HandleFunc("/{sessionID}/players/{playerID}", handlers.HandleRemovePlayer(opts.Sessions)).Methods(http.MethodDelete)
	s.HandleFunc("/{sessionID}/invite", handlers.HandleInvite(opts.Sessions, opts.InviteBaseURL)).Methods(http.MethodGet)
	s.HandleFunc("/{sessionID}/invite.png", handlers.HandleInviteQRCode(opts.Sessions, opts.InviteBaseURL)).Methods(http.MethodGet)

	return router
}

// NewAPIServer creates a new http.Server for handling API requests
func NewAPIServer(opts NewAPIServerOptions) *APIServer {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: NewRouter(opts),
	}
	return &APIServer{
		server: server,
		tls:    opts.TLS,
	}
}

// Start starts the APIServer
func (s *APIServer) Start() {
	var listenAndServe func() error
	if s.tls != nil {
		log.Info("API server listening on %s with TLS", s.server.Addr)
		listenAndServe = func() error {
			return s.server.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
		}
	} else {
		log.Info("API server listening on %s", s.server.Addr)
		listenAndServe = s.server.ListenAndServe
	}
	if err := listenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("API server closed")
			return
		}
		log.Error("API server error: %v", err)
	}
}

// Stop stops the APIServer
func (s *APIServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
