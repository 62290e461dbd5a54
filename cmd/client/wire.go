package main

import (
	"context"
	"fmt"
	"net/url"

	firebase "firebase.google.com/go"
	"github.com/cbodonnell/sessionkeeper/pkg/auth"
	"github.com/cbodonnell/sessionkeeper/pkg/config"
	"github.com/cbodonnell/sessionkeeper/pkg/continuity"
	"github.com/cbodonnell/sessionkeeper/pkg/local"
	"github.com/cbodonnell/sessionkeeper/pkg/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app holds the loaded configuration shared by the commands.
type app struct {
	cfg *config.Config
}

func (a *app) load(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := config.Load(viper.New(), opts.configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	a.cfg = cfg
	setLogger(cmd, cfg.LogLevel())
	log.Debug("Log level set to %s", cfg.LogLevel())
	return nil
}

func (a *app) localStorage() (*local.FileStorage, error) {
	storage, err := local.NewFileStorage(local.NewFileStorageOptions{Path: a.cfg.Local.StatePath})
	if err != nil {
		return nil, fmt.Errorf("wire local storage: %w", err)
	}
	return storage, nil
}

func (a *app) continuityManager() (*continuity.Manager, error) {
	storage, err := a.localStorage()
	if err != nil {
		return nil, err
	}
	return continuity.NewManager(continuity.NewManagerOptions{
		Storage:         storage,
		MaxAge:          a.cfg.Continuity.MaxAge,
		RecentThreshold: a.cfg.Continuity.RecentThreshold,
	}), nil
}

// firebaseApp returns nil when neither the store nor token verification
// needs Firebase.
func (a *app) firebaseApp(ctx context.Context) (*firebase.App, error) {
	fb := a.cfg.Firebase
	u, err := url.Parse(a.cfg.Store.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse store url: %v", err)
	}
	if u.Scheme != "firebase" && fb.ProjectID == "" {
		return nil, nil
	}
	app, err := auth.NewFirebaseApp(ctx, auth.NewFirebaseAppOptions{
		CredentialsFile: fb.CredentialsFile,
		ProjectID:       fb.ProjectID,
		DatabaseURL:     fb.DatabaseURL,
		APIKey:          fb.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("wire firebase: %w", err)
	}
	return app, nil
}
