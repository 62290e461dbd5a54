package store

import (
	"encoding/json"
	"sync"
)

type subscription struct {
	key      string
	onChange ChangeHandler
	onError  ErrorHandler
}

// Notifier fans out change notifications to subscribers of a key.
// Handlers are called on the publishing goroutine after the write has
// completed, in publish order, and must not block.
type Notifier struct {
	lock          sync.RWMutex
	nextID        SubscriptionID
	subscriptions map[SubscriptionID]subscription
}

func NewNotifier() *Notifier {
	return &Notifier{
		subscriptions: make(map[SubscriptionID]subscription),
	}
}

// Subscribe registers handlers for a key and returns the subscription id.
func (n *Notifier) Subscribe(key string, onChange ChangeHandler, onError ErrorHandler) SubscriptionID {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.nextID++
	n.subscriptions[n.nextID] = subscription{
		key:      key,
		onChange: onChange,
		onError:  onError,
	}
	return n.nextID
}

func (n *Notifier) Unsubscribe(id SubscriptionID) {
	n.lock.Lock()
	defer n.lock.Unlock()
	delete(n.subscriptions, id)
}

// HasSubscribers reports whether anyone is watching key.
func (n *Notifier) HasSubscribers(key string) bool {
	n.lock.RLock()
	defer n.lock.RUnlock()
	for _, s := range n.subscriptions {
		if s.key == key {
			return true
		}
	}
	return false
}

// Keys returns the distinct watched keys.
func (n *Notifier) Keys() []string {
	n.lock.RLock()
	defer n.lock.RUnlock()
	seen := make(map[string]struct{})
	keys := make([]string, 0, len(n.subscriptions))
	for _, s := range n.subscriptions {
		if _, ok := seen[s.key]; ok {
			continue
		}
		seen[s.key] = struct{}{}
		keys = append(keys, s.key)
	}
	return keys
}

// PublishChange delivers the new value of key to its subscribers.
func (n *Notifier) PublishChange(key string, value json.RawMessage) {
	for _, s := range n.matching(key) {
		if s.onChange != nil {
			s.onChange(key, cloneRaw(value))
		}
	}
}

// PublishError delivers a watch error for key to its subscribers.
func (n *Notifier) PublishError(key string, err error) {
	for _, s := range n.matching(key) {
		if s.onError != nil {
			s.onError(key, err)
		}
	}
}

// Clear drops every subscription.
func (n *Notifier) Clear() {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.subscriptions = make(map[SubscriptionID]subscription)
}

func (n *Notifier) matching(key string) []subscription {
	n.lock.RLock()
	defer n.lock.RUnlock()
	matched := make([]subscription, 0)
	for _, s := range n.subscriptions {
		if s.key == key {
			matched = append(matched, s)
		}
	}
	return matched
}

func cloneRaw(value json.RawMessage) json.RawMessage {
	if value == nil {
		return nil
	}
	out := make(json.RawMessage, len(value))
	copy(out, value)
	return out
}
