package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cbodonnell/sessionkeeper/pkg/api"
	"github.com/cbodonnell/sessionkeeper/pkg/auth"
	authproviders "github.com/cbodonnell/sessionkeeper/pkg/auth/providers"
	"github.com/cbodonnell/sessionkeeper/pkg/log"
	"github.com/cbodonnell/sessionkeeper/pkg/sessions"
	"github.com/cbodonnell/sessionkeeper/pkg/store"
	"github.com/cbodonnell/sessionkeeper/pkg/version"
)

func main() {
	port := flag.Int("port", 9090, "port to listen on")
	allowOrigin := flag.String("allow-origin", "*", "allowed CORS origin")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	parsedLogLevel, err := log.ParseLogLevel(*logLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse log level: %v", err))
	}

	logger := log.New(os.Stdout, "", log.DefaultLoggerFlag, parsedLogLevel)
	log.SetDefaultLogger(logger)
	log.Info("Log level set to %s", parsedLogLevel)

	log.Info("Starting api server version %s", version.Get())
	ctx := context.Background()

	firebaseProjectID := os.Getenv("SESSIONKEEPER_FIREBASE_PROJECT_ID")
	if firebaseProjectID == "" {
		panic("SESSIONKEEPER_FIREBASE_PROJECT_ID environment variable must be set")
	}
	app, err := auth.NewFirebaseApp(ctx, auth.NewFirebaseAppOptions{
		CredentialsFile: os.Getenv("SESSIONKEEPER_FIREBASE_CREDENTIALS_FILE"),
		ProjectID:       firebaseProjectID,
		DatabaseURL:     os.Getenv("SESSIONKEEPER_FIREBASE_DATABASE_URL"),
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to create Firebase app: %v", err))
	}
	authProvider, err := authproviders.NewFirebaseAuthProvider(ctx, app)
	if err != nil {
		panic(fmt.Sprintf("Failed to create Firebase auth provider: %v", err))
	}

	storeURL := os.Getenv("SESSIONKEEPER_STORE_URL")
	if storeURL == "" {
		storeURL = "sqlite://sessionkeeper.db"
	}
	sessionStore, err := store.Open(ctx, store.OpenOptions{
		URL:         storeURL,
		FirebaseApp: app,
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to open session store: %v", err))
	}
	defer sessionStore.Close(ctx)

	inviteBaseURL := os.Getenv("SESSIONKEEPER_INVITE_BASE_URL")
	if inviteBaseURL == "" {
		inviteBaseURL = "http://localhost:8080/"
	}

	apiServerOpts := api.NewAPIServerOptions{
		Port:          *port,
		AllowedOrigin: *allowOrigin,
		AuthProvider:  authProvider,
		Sessions:      sessions.NewService(sessions.NewServiceOptions{Store: sessionStore}),
		InviteBaseURL: inviteBaseURL,
	}
	tlsCertFile := os.Getenv("SESSIONKEEPER_API_TLS_CERT_FILE")
	tlsKeyFile := os.Getenv("SESSIONKEEPER_API_TLS_KEY_FILE")
	if tlsCertFile != "" && tlsKeyFile != "" {
		apiServerOpts.TLS = &api.TLSConfig{
			CertFile: tlsCertFile,
			KeyFile:  tlsKeyFile,
		}
	}
	server := api.NewAPIServer(apiServerOpts)
	go server.Start()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt

	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Stop(stopCtx); err != nil {
		log.Error("Failed to stop server: %v", err)
	}
}
