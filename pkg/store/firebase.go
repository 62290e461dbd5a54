package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/db"
)

var _ Store = &FirebaseStore{}

// FirebaseStore keeps values in a Firebase Realtime Database. Keys are
// database paths such as "sessions/ABC123". AtomicUpdate maps onto the
// database's optimistic transactions, which rerun the update function when
// the value changed underneath it.
type FirebaseStore struct {
	client   *db.Client
	notifier *Notifier
	poller   *poller
}

type NewFirebaseStoreOptions struct {
	App          *firebase.App
	PollInterval time.Duration
}

func NewFirebaseStore(ctx context.Context, opts NewFirebaseStoreOptions) (*FirebaseStore, error) {
	client, err := opts.App.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting Database client: %v", err)
	}
	s := &FirebaseStore{
		client:   client,
		notifier: NewNotifier(),
	}
	s.poller = newPoller(s.notifier, s.Get, opts.PollInterval)
	s.poller.start()
	return s, nil
}

func (s *FirebaseStore) Close(ctx context.Context) error {
	s.poller.stop()
	s.notifier.Clear()
	return nil
}

func (s *FirebaseStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	var value json.RawMessage
	if err := s.client.NewRef(key).Get(ctx, &value); err != nil {
		return nil, fmt.Errorf("failed to read %s: %v", key, err)
	}
	if isAbsent(value) {
		return nil, &ErrNotFound{Key: key}
	}
	return value, nil
}

func (s *FirebaseStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	if err := validJSON(value); err != nil {
		return err
	}
	_, _, err := s.poller.write(key, func() (json.RawMessage, bool, error) {
		if err := s.client.NewRef(key).Set(ctx, value); err != nil {
			return nil, false, fmt.Errorf("failed to write %s: %v", key, err)
		}
		return value, true, nil
	})
	return err
}

func (s *FirebaseStore) Update(ctx context.Context, key string, fields map[string]json.RawMessage) error {
	update := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if isAbsent(v) {
			update[k] = nil
			continue
		}
		update[k] = v
	}
	_, _, err := s.poller.write(key, func() (json.RawMessage, bool, error) {
		if err := s.client.NewRef(key).Update(ctx, update); err != nil {
			return nil, false, fmt.Errorf("failed to update %s: %v", key, err)
		}
		value, err := s.Get(ctx, key)
		if err != nil && !IsNotFound(err) {
			return nil, false, err
		}
		return value, true, nil
	})
	return err
}

func (s *FirebaseStore) AtomicUpdate(ctx context.Context, key string, fn UpdateFunc) (TransactionResult, error) {
	var result TransactionResult
	_, _, err := s.poller.write(key, func() (json.RawMessage, bool, error) {
		var err error
		result, err = s.transaction(ctx, key, fn)
		return result.Value, result.Committed, err
	})
	if err != nil {
		return TransactionResult{}, err
	}
	return result, nil
}

func (s *FirebaseStore) transaction(ctx context.Context, key string, fn UpdateFunc) (TransactionResult, error) {
	var committed json.RawMessage
	var observed json.RawMessage
	err := s.client.NewRef(key).Transaction(ctx, func(node db.TransactionNode) (interface{}, error) {
		var current json.RawMessage
		if err := node.Unmarshal(&current); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %v", key, err)
		}
		if isAbsent(current) {
			current = nil
		}
		observed = current

		next, err := fn(cloneRaw(current))
		if err != nil {
			return nil, err
		}
		if isAbsent(next) {
			committed = nil
			return nil, nil
		}
		if err := validJSON(next); err != nil {
			return nil, fmt.Errorf("transaction produced invalid value: %w", err)
		}
		committed = next
		return next, nil
	})
	if err != nil {
		if errors.Is(err, ErrAbortTransaction) {
			return TransactionResult{Committed: false, Value: observed}, nil
		}
		return TransactionResult{}, fmt.Errorf("transaction on %s failed: %w", key, err)
	}

	return TransactionResult{Committed: true, Value: cloneRaw(committed)}, nil
}

func (s *FirebaseStore) Remove(ctx context.Context, key string) error {
	_, _, err := s.poller.write(key, func() (json.RawMessage, bool, error) {
		if err := s.client.NewRef(key).Delete(ctx); err != nil {
			return nil, false, fmt.Errorf("failed to remove %s: %v", key, err)
		}
		return nil, true, nil
	})
	return err
}

func (s *FirebaseStore) Subscribe(key string, onChange ChangeHandler, onError ErrorHandler) SubscriptionID {
	return s.notifier.Subscribe(key, onChange, onError)
}

func (s *FirebaseStore) Unsubscribe(id SubscriptionID) {
	s.notifier.Unsubscribe(id)
}
