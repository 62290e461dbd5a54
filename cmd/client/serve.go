package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cbodonnell/sessionkeeper/pkg/auth/providers"
	"github.com/cbodonnell/sessionkeeper/pkg/bridge"
	"github.com/cbodonnell/sessionkeeper/pkg/client"
	"github.com/cbodonnell/sessionkeeper/pkg/log"
	"github.com/cbodonnell/sessionkeeper/pkg/network"
	"github.com/cbodonnell/sessionkeeper/pkg/queue"
	"github.com/cbodonnell/sessionkeeper/pkg/sessions"
	"github.com/cbodonnell/sessionkeeper/pkg/store"
	"github.com/cbodonnell/sessionkeeper/pkg/workers"
	"github.com/spf13/cobra"
)

const commandQueueSize = 1024

type serveOptions struct {
	invitationURL string
	isHost        bool
}

func newServeCmd(a *app) *cobra.Command {
	opts := serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session runtime for a presentation layer",
		Long:  "serve makes the startup decision, then accepts the presentation layer over a WebSocket and executes its commands until interrupted. Messages are held until the presentation layer sends Ready.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, a, opts)
		},
	}
	cmd.Flags().StringVar(&opts.invitationURL, "invite-url", "", "URL the game was opened with")
	cmd.Flags().BoolVar(&opts.isHost, "host", false, "start as the host of a session")
	return cmd
}

func runServe(ctx context.Context, a *app, opts serveOptions) error {
	cfg := a.cfg

	fbApp, err := a.firebaseApp(ctx)
	if err != nil {
		return err
	}
	sessionStore, err := store.Open(ctx, store.OpenOptions{
		URL:          cfg.Store.URL,
		FirebaseApp:  fbApp,
		PollInterval: cfg.Store.PollInterval,
	})
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer sessionStore.Close(context.Background())

	manager, err := a.continuityManager()
	if err != nil {
		return err
	}

	var authProvider providers.AuthProvider
	if fbApp != nil && cfg.Firebase.ProjectID != "" {
		provider, err := providers.NewFirebaseAuthProvider(ctx, fbApp)
		if err != nil {
			return fmt.Errorf("wire auth provider: %w", err)
		}
		authProvider = provider
	}

	b := bridge.New(bridge.NewBridgeOptions{MaxPending: cfg.Client.MaxPending})
	relay := workers.NewChangeRelayWorker(workers.NewChangeRelayWorkerOptions{
		Store:  sessionStore,
		Sender: b,
	})
	networkManager := network.NewNetworkManager(network.NewNetworkManagerOptions{
		MessageQueue:   queue.NewInMemoryQueue(commandQueueSize),
		WSHost:         cfg.Client.WSHost,
		WSPort:         cfg.Client.WSPort,
		OriginPatterns: cfg.Client.AllowedOrigins,
	})

	runtime := client.NewRuntime(client.NewRuntimeOptions{
		Continuity:    manager,
		Sessions:      sessions.NewService(sessions.NewServiceOptions{Store: sessionStore}),
		Store:         sessionStore,
		Bridge:        b,
		Relay:         relay,
		Connections:   networkManager.ConnectionManager,
		Auth:          authProvider,
		InviteBaseURL: cfg.Invite.BaseURL,
		QRCodeSize:    cfg.Invite.QRCodeSize,
	})
	defer runtime.Close()

	commandWorker := workers.NewCommandWorker(workers.NewCommandWorkerOptions{
		MessageQueue: networkManager.MessageQueue,
		Handler:      runtime,
	})
	connectionWorker := workers.NewConnectionEventWorker(workers.NewConnectionEventWorkerOptions{
		ConnectionEventChan: networkManager.ConnectionManager.GetEventChan(),
		OnDisconnect:        runtime.ConnectionClosed,
	})

	go relay.Start(ctx)
	go commandWorker.Start(ctx)
	go connectionWorker.Start(ctx)
	networkManager.Start(ctx)

	decision, err := runtime.Start(ctx, client.StartOptions{
		InvitationURL: opts.invitationURL,
		IsHost:        opts.isHost,
	})
	if err != nil {
		log.Warn("Startup decision made without local state: %v", err)
	}
	log.Info("Startup decision %s is waiting for the presentation layer on %s:%d", decision, cfg.Client.WSHost, cfg.Client.WSPort)

	<-ctx.Done()
	log.Info("Shutting down")
	return nil
}
