package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cbodonnell/sessionkeeper/pkg/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresTransactionRetries bounds how often a conflicting create is retried.
const postgresTransactionRetries = 25

var _ Store = &PostgresStore{}

// PostgresStore keeps values in a JSONB table. Existing rows are locked with
// SELECT ... FOR UPDATE; creating an absent key uses INSERT ... ON CONFLICT DO
// NOTHING and retries the update function when another writer won.
type PostgresStore struct {
	pool     *pgxpool.Pool
	notifier *Notifier
	poller   *poller
}

type NewPostgresStoreOptions struct {
	ConnString   string
	PollInterval time.Duration
}

// NewPostgresStore connects to the database and applies migrations.
// The caller is responsible for calling Close() on the store.
func NewPostgresStore(ctx context.Context, opts NewPostgresStoreOptions) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	var username string
	var database string
	if err := pool.QueryRow(ctx, "SELECT current_user, current_database()").Scan(&username, &database); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to query database: %v", err)
	}
	log.Info("Connected to %s as %s", database, username)

	if err := runMigrations(ctx, "migrations/postgres", func(ctx context.Context, q string) error {
		_, err := pool.Exec(ctx, q)
		return err
	}); err != nil {
		pool.Close()
		return nil, err
	}

	s := &PostgresStore{
		pool:     pool,
		notifier: NewNotifier(),
	}
	s.poller = newPoller(s.notifier, s.Get, opts.PollInterval)
	s.poller.start()
	return s, nil
}

func (s *PostgresStore) Close(ctx context.Context) error {
	s.poller.stop()
	s.notifier.Clear()
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	var value []byte
	if err := s.pool.QueryRow(ctx, `SELECT value FROM store_values WHERE key = $1`, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &ErrNotFound{Key: key}
		}
		return nil, fmt.Errorf("failed to read %s: %v", key, err)
	}
	return json.RawMessage(value), nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	if err := validJSON(value); err != nil {
		return err
	}
	q := `
	INSERT INTO store_values (key, value, updated_at) VALUES ($1, $2::jsonb, $3)
	ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	RETURNING value;
	`
	_, _, err := s.poller.write(key, func() (json.RawMessage, bool, error) {
		var stored []byte
		if err := s.pool.QueryRow(ctx, q, key, string(value), time.Now().UnixMilli()).Scan(&stored); err != nil {
			return nil, false, fmt.Errorf("failed to write %s: %v", key, err)
		}
		return stored, true, nil
	})
	return err
}

func (s *PostgresStore) Update(ctx context.Context, key string, fields map[string]json.RawMessage) error {
	result, err := s.AtomicUpdate(ctx, key, func(current json.RawMessage) (json.RawMessage, error) {
		return mergeFields(current, fields)
	})
	if err != nil {
		return err
	}
	if !result.Committed {
		return fmt.Errorf("update of %s was not committed", key)
	}
	return nil
}

// errConflict signals that a concurrent writer created the key first.
var errConflict = errors.New("concurrent create")

func (s *PostgresStore) AtomicUpdate(ctx context.Context, key string, fn UpdateFunc) (TransactionResult, error) {
	for attempt := 0; attempt < postgresTransactionRetries; attempt++ {
		var result TransactionResult
		_, _, err := s.poller.write(key, func() (json.RawMessage, bool, error) {
			var err error
			result, err = s.tryAtomicUpdate(ctx, key, fn)
			return result.Value, result.Committed, err
		})
		if errors.Is(err, errConflict) {
			log.Debug("Retrying transaction on %s after concurrent create (attempt %d)", key, attempt+1)
			continue
		}
		if err != nil {
			return TransactionResult{}, err
		}
		return result, nil
	}
	return TransactionResult{}, fmt.Errorf("transaction on %s failed after %d attempts", key, postgresTransactionRetries)
}

func (s *PostgresStore) tryAtomicUpdate(ctx context.Context, key string, fn UpdateFunc) (TransactionResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return TransactionResult{}, fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	var current json.RawMessage
	var value []byte
	err = tx.QueryRow(ctx, `SELECT value FROM store_values WHERE key = $1 FOR UPDATE`, key).Scan(&value)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return TransactionResult{}, fmt.Errorf("failed to read %s: %v", key, err)
	default:
		current = json.RawMessage(value)
	}

	next, err := fn(cloneRaw(current))
	if err != nil {
		if errors.Is(err, ErrAbortTransaction) {
			return TransactionResult{Committed: false, Value: current}, nil
		}
		return TransactionResult{}, err
	}

	var stored []byte
	switch {
	case isAbsent(next):
		if _, err := tx.Exec(ctx, `DELETE FROM store_values WHERE key = $1`, key); err != nil {
			return TransactionResult{}, fmt.Errorf("failed to remove %s: %v", key, err)
		}
	case current == nil:
		q := `
		INSERT INTO store_values (key, value, updated_at) VALUES ($1, $2::jsonb, $3)
		ON CONFLICT (key) DO NOTHING
		RETURNING value;
		`
		err := tx.QueryRow(ctx, q, key, string(next), time.Now().UnixMilli()).Scan(&stored)
		if errors.Is(err, pgx.ErrNoRows) {
			return TransactionResult{}, errConflict
		}
		if err != nil {
			return TransactionResult{}, fmt.Errorf("failed to create %s: %v", key, err)
		}
	default:
		q := `UPDATE store_values SET value = $2::jsonb, updated_at = $3 WHERE key = $1 RETURNING value;`
		if err := tx.QueryRow(ctx, q, key, string(next), time.Now().UnixMilli()).Scan(&stored); err != nil {
			return TransactionResult{}, fmt.Errorf("failed to update %s: %v", key, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return TransactionResult{}, fmt.Errorf("failed to commit transaction: %v", err)
	}

	return TransactionResult{Committed: true, Value: cloneRaw(stored)}, nil
}

func (s *PostgresStore) Remove(ctx context.Context, key string) error {
	_, _, err := s.poller.write(key, func() (json.RawMessage, bool, error) {
		tag, err := s.pool.Exec(ctx, `DELETE FROM store_values WHERE key = $1`, key)
		if err != nil {
			return nil, false, fmt.Errorf("failed to remove %s: %v", key, err)
		}
		return nil, tag.RowsAffected() > 0, nil
	})
	return err
}

func (s *PostgresStore) Subscribe(key string, onChange ChangeHandler, onError ErrorHandler) SubscriptionID {
	return s.notifier.Subscribe(key, onChange, onError)
}

func (s *PostgresStore) Unsubscribe(id SubscriptionID) {
	s.notifier.Unsubscribe(id)
}
