package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/cbodonnell/sessionkeeper/pkg/auth/handlers"
	"github.com/cbodonnell/sessionkeeper/pkg/log"
)

type AuthServer struct {
	server *http.Server
	tls    *TLSConfig
}

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type NewAuthServerOptions struct {
	Port    int
	Handler handlers.AuthHandler
	TLS     *TLSConfig
	// AllowedOrigin is sent as Access-Control-Allow-Origin. Browser clients
	// call the auth server directly.
	AllowedOrigin string
}

// NewAuthServer creates a new http.Server for handling authentication requests
func NewAuthServer(opts NewAuthServerOptions) *AuthServer {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: NewRouter(opts.Handler, opts.AllowedOrigin),
	}
	return &AuthServer{
		server: server,
		tls:    opts.TLS,
	}
}

// NewRouter routes the auth endpoints to handler.
func NewRouter(handler handlers.AuthHandler, allowedOrigin string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /register", handler.HandleRegister())
	mux.HandleFunc("POST /login", handler.HandleLogin())
	mux.HandleFunc("POST /anonymous", handler.HandleAnonymous())
	mux.HandleFunc("POST /reset-password", handler.HandleResetPassword())
	mux.HandleFunc("POST /refresh", handler.HandleRefresh())
	mux.HandleFunc("POST /delete", handler.HandleDelete())
	mux.HandleFunc("POST /sign-out", handler.HandleSignOut())
	if allowedOrigin == "" {
		return mux
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		mux.ServeHTTP(w, r)
	})
}

// Start starts the AuthServer
func (s *AuthServer) Start() {
	var listenAndServe func() error
	if s.tls != nil {
		log.Info("Auth server listening on %s with TLS", s.server.Addr)
		listenAndServe = func() error {
			return s.server.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
		}
	} else {
		log.Info("Auth server listening on %s", s.server.Addr)
		listenAndServe = s.server.ListenAndServe
	}
	if err := listenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("Auth server closed")
			return
		}
		log.Error("Auth server error: %v", err)
	}
}

// Stop stops the AuthServer
func (s *AuthServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
