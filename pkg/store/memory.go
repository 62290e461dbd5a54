package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var _ Store = &MemoryStore{}

// MemoryStore keeps values in process memory.
// AtomicUpdate holds the write lock while fn runs, so fn must not call back
// into the store.
type MemoryStore struct {
	lock   sync.RWMutex
	values map[string]json.RawMessage
	// Every commit draws a ticket under lock; notifications go out in
	// ticket order.
	nextTicket uint64
	published  uint64
	turn       *sync.Cond
	notifier   *Notifier
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:   make(map[string]json.RawMessage),
		turn:     sync.NewCond(&sync.Mutex{}),
		notifier: NewNotifier(),
	}
}

func (m *MemoryStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.lock.RLock()
	defer m.lock.RUnlock()
	value, ok := m.values[key]
	if !ok {
		return nil, &ErrNotFound{Key: key}
	}
	return cloneRaw(value), nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validJSON(value); err != nil {
		return err
	}
	m.lock.Lock()
	m.put(key, value)
	m.publish(key, cloneRaw(value))
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, key string, fields map[string]json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.lock.Lock()
	merged, err := mergeFields(m.values[key], fields)
	if err != nil {
		m.lock.Unlock()
		return err
	}
	m.put(key, merged)
	m.publish(key, cloneRaw(merged))
	return nil
}

func (m *MemoryStore) AtomicUpdate(ctx context.Context, key string, fn UpdateFunc) (TransactionResult, error) {
	if err := ctx.Err(); err != nil {
		return TransactionResult{}, err
	}
	m.lock.Lock()
	current := cloneRaw(m.values[key])
	next, err := fn(current)
	if err != nil {
		m.lock.Unlock()
		if errors.Is(err, ErrAbortTransaction) {
			return TransactionResult{Committed: false, Value: current}, nil
		}
		return TransactionResult{}, err
	}
	if !isAbsent(next) {
		if err := validJSON(next); err != nil {
			m.lock.Unlock()
			return TransactionResult{}, fmt.Errorf("transaction produced invalid value: %w", err)
		}
	}
	m.put(key, next)
	m.publish(key, cloneRaw(next))
	return TransactionResult{Committed: true, Value: cloneRaw(next)}, nil
}

func (m *MemoryStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.lock.Lock()
	_, existed := m.values[key]
	delete(m.values, key)
	if !existed {
		m.lock.Unlock()
		return nil
	}
	m.publish(key, nil)
	return nil
}

func (m *MemoryStore) Subscribe(key string, onChange ChangeHandler, onError ErrorHandler) SubscriptionID {
	return m.notifier.Subscribe(key, onChange, onError)
}

func (m *MemoryStore) Unsubscribe(id SubscriptionID) {
	m.notifier.Unsubscribe(id)
}

func (m *MemoryStore) Close(ctx context.Context) error {
	m.notifier.Clear()
	return nil
}

// put stores value under key; it must be called with the write lock held.
func (m *MemoryStore) put(key string, value json.RawMessage) {
	if isAbsent(value) {
		delete(m.values, key)
		return
	}
	m.values[key] = cloneRaw(value)
}

// publish releases the write lock and notifies subscribers of value once
// every earlier commit has been published. It must be called with the write
// lock held.
func (m *MemoryStore) publish(key string, value json.RawMessage) {
	m.nextTicket++
	ticket := m.nextTicket
	m.lock.Unlock()

	m.turn.L.Lock()
	for m.published != ticket-1 {
		m.turn.Wait()
	}
	m.turn.L.Unlock()

	if isAbsent(value) {
		value = nil
	}
	m.notifier.PublishChange(key, value)

	m.turn.L.Lock()
	m.published = ticket
	m.turn.L.Unlock()
	m.turn.Broadcast()
}
