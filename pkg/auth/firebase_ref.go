package auth

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go"
	"google.golang.org/api/option"
)

type NewFirebaseAppOptions struct {
	// CredentialsFile is a service account key. When empty, application
	// default credentials are used.
	CredentialsFile string
	ProjectID       string
	// DatabaseURL is the Realtime Database used by the firebase store.
	DatabaseURL string
	// APIKey authenticates without a service account. Token verification
	// still needs a ProjectID.
	APIKey string
}

// NewFirebaseApp initializes the Firebase app shared by token verification
// and the Realtime Database store.
func NewFirebaseApp(ctx context.Context, opts NewFirebaseAppOptions) (*firebase.App, error) {
	var clientOpts []option.ClientOption
	switch {
	case opts.CredentialsFile != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	case opts.APIKey != "":
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	cfg := &firebase.Config{
		ProjectID:   opts.ProjectID,
		DatabaseURL: opts.DatabaseURL,
	}
	app, err := firebase.NewApp(ctx, cfg, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing app: %v", err)
	}
	return app, nil
}
