package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations
var migrations embed.FS

var _ Store = &SQLiteStore{}

// SQLiteStore keeps values in a local SQLite database. Transactions begin
// IMMEDIATE so that concurrent read-modify-write cycles are serialized by
// the database write lock.
type SQLiteStore struct {
	db       *sql.DB
	notifier *Notifier
	poller   *poller
}

type NewSQLiteStoreOptions struct {
	Path string
	// PollInterval controls how often watched keys are re-read to observe
	// writes from other processes.
	PollInterval time.Duration
}

func NewSQLiteStore(ctx context.Context, opts NewSQLiteStoreOptions) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL", opts.Path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	if err := runMigrations(ctx, "migrations/sqlite", func(ctx context.Context, q string) error {
		_, err := db.ExecContext(ctx, q)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{
		db:       db,
		notifier: NewNotifier(),
	}
	s.poller = newPoller(s.notifier, s.Get, opts.PollInterval)
	s.poller.start()
	return s, nil
}

// runMigrations executes the embedded migrations in dir in name order.
func runMigrations(ctx context.Context, dir string, exec func(ctx context.Context, q string) error) error {
	entries, err := fs.ReadDir(migrations, dir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %v", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		migrationPath := path.Join(dir, entry.Name())
		migration, err := fs.ReadFile(migrations, migrationPath)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %v", migrationPath, err)
		}
		if err := exec(ctx, string(migration)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %v", migrationPath, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close(ctx context.Context) error {
	s.poller.stop()
	s.notifier.Clear()
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM store_values WHERE key = ?;`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &ErrNotFound{Key: key}
		}
		return nil, fmt.Errorf("failed to read %s: %v", key, err)
	}
	return json.RawMessage(value), nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	if err := validJSON(value); err != nil {
		return err
	}
	_, _, err := s.poller.write(key, func() (json.RawMessage, bool, error) {
		return value, true, s.write(ctx, s.db, key, value)
	})
	return err
}

func (s *SQLiteStore) Update(ctx context.Context, key string, fields map[string]json.RawMessage) error {
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

func (s *SQLiteStore) AtomicUpdate(ctx context.Context, key string, fn UpdateFunc) (TransactionResult, error) {
	var result TransactionResult
	_, _, err := s.poller.write(key, func() (json.RawMessage, bool, error) {
		var err error
		result, err = s.atomicUpdate(ctx, key, fn)
		return result.Value, result.Committed, err
	})
	if err != nil {
		return TransactionResult{}, err
	}
	return result, nil
}

func (s *SQLiteStore) atomicUpdate(ctx context.Context, key string, fn UpdateFunc) (TransactionResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return TransactionResult{}, fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	var current json.RawMessage
	var value string
	err = tx.QueryRowContext(ctx, `SELECT value FROM store_values WHERE key = ?;`, key).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
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
	if !isAbsent(next) {
		if err := validJSON(next); err != nil {
			return TransactionResult{}, fmt.Errorf("transaction produced invalid value: %w", err)
		}
	}

	if err := s.write(ctx, tx, key, next); err != nil {
		return TransactionResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return TransactionResult{}, fmt.Errorf("failed to commit transaction: %v", err)
	}

	return TransactionResult{Committed: true, Value: cloneRaw(next)}, nil
}

func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	_, _, err := s.poller.write(key, func() (json.RawMessage, bool, error) {
		res, err := s.db.ExecContext(ctx, `DELETE FROM store_values WHERE key = ?;`, key)
		if err != nil {
			return nil, false, fmt.Errorf("failed to remove %s: %v", key, err)
		}
		n, err := res.RowsAffected()
		return nil, err == nil && n > 0, nil
	})
	return err
}

func (s *SQLiteStore) Subscribe(key string, onChange ChangeHandler, onError ErrorHandler) SubscriptionID {
	return s.notifier.Subscribe(key, onChange, onError)
}

func (s *SQLiteStore) Unsubscribe(id SubscriptionID) {
	s.notifier.Unsubscribe(id)
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *SQLiteStore) write(ctx context.Context, db sqlExecer, key string, value json.RawMessage) error {
	if isAbsent(value) {
		if _, err := db.ExecContext(ctx, `DELETE FROM store_values WHERE key = ?;`, key); err != nil {
			return fmt.Errorf("failed to remove %s: %v", key, err)
		}
		return nil
	}
	q := `
	INSERT INTO store_values (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at;
	`
	if _, err := db.ExecContext(ctx, q, key, string(value), time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to write %s: %v", key, err)
	}
	return nil
}
