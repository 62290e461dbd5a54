package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	firebase "firebase.google.com/go"
)

type OpenOptions struct {
	// URL selects the backend by scheme: memory://, sqlite://<path>,
	// postgres:// or postgresql://<conn>, firebase://.
	URL string
	// FirebaseApp is required for the firebase scheme.
	FirebaseApp  *firebase.App
	PollInterval time.Duration
}

// Open creates the store named by opts.URL.
func Open(ctx context.Context, opts OpenOptions) (Store, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse store url: %v", err)
	}

	switch u.Scheme {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		path := strings.TrimPrefix(opts.URL, "sqlite://")
		if path == "" {
			return nil, fmt.Errorf("sqlite store url must name a database file")
		}
		return NewSQLiteStore(ctx, NewSQLiteStoreOptions{
			Path:         path,
			PollInterval: opts.PollInterval,
		})
	case "postgres", "postgresql":
		return NewPostgresStore(ctx, NewPostgresStoreOptions{
			ConnString:   u.String(),
			PollInterval: opts.PollInterval,
		})
	case "firebase":
		if opts.FirebaseApp == nil {
			return nil, fmt.Errorf("firebase store requires a Firebase app")
		}
		return NewFirebaseStore(ctx, NewFirebaseStoreOptions{
			App:          opts.FirebaseApp,
			PollInterval: opts.PollInterval,
		})
	default:
		return nil, fmt.Errorf("unknown store type %s", u.Scheme)
	}
}
