package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cbodonnell/sessionkeeper/pkg/auth"
	authhandlers "github.com/cbodonnell/sessionkeeper/pkg/auth/handlers"
	authproviders "github.com/cbodonnell/sessionkeeper/pkg/auth/providers"
	"github.com/cbodonnell/sessionkeeper/pkg/log"
	"github.com/cbodonnell/sessionkeeper/pkg/version"
)

func main() {
	port := flag.Int("port", 8080, "port to listen on")
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

	log.Info("Starting auth server version %s", version.Get())
	ctx := context.Background()

	firebaseApiKey := os.Getenv("SESSIONKEEPER_FIREBASE_API_KEY")
	if firebaseApiKey == "" {
		panic("SESSIONKEEPER_FIREBASE_API_KEY environment variable must be set")
	}
	handlerOpts := authhandlers.NewFirebaseAuthHandlerOptions{
		APIKey: firebaseApiKey,
	}

	// Sign-out revokes refresh tokens, which needs admin credentials.
	if projectID := os.Getenv("SESSIONKEEPER_FIREBASE_PROJECT_ID"); projectID != "" {
		app, err := auth.NewFirebaseApp(ctx, auth.NewFirebaseAppOptions{
			CredentialsFile: os.Getenv("SESSIONKEEPER_FIREBASE_CREDENTIALS_FILE"),
			ProjectID:       projectID,
		})
		if err != nil {
			panic(fmt.Sprintf("Failed to create Firebase app: %v", err))
		}
		provider, err := authproviders.NewFirebaseAuthProvider(ctx, app)
		if err != nil {
			panic(fmt.Sprintf("Failed to create Firebase auth provider: %v", err))
		}
		handlerOpts.Revoker = provider
	} else {
		log.Warn("SESSIONKEEPER_FIREBASE_PROJECT_ID is not set, sign-out is disabled")
	}

	authServerOpts := auth.NewAuthServerOptions{
		Port:          *port,
		Handler:       authhandlers.NewFirebaseAuthHandler(handlerOpts),
		AllowedOrigin: *allowOrigin,
	}
	tlsCertFile := os.Getenv("SESSIONKEEPER_AUTH_TLS_CERT_FILE")
	tlsKeyFile := os.Getenv("SESSIONKEEPER_AUTH_TLS_KEY_FILE")
	if tlsCertFile != "" && tlsKeyFile != "" {
		authServerOpts.TLS = &auth.TLSConfig{
			CertFile: tlsCertFile,
			KeyFile:  tlsKeyFile,
		}
	}
	server := auth.NewAuthServer(authServerOpts)
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
