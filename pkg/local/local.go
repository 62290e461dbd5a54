// Package local holds the durable client-side slot store used to remember
// which session the local user was last in.
package local

// Storage is a small durable string key/value store. Values survive
// process restarts and a Set is never observable half written.
type Storage interface {
	// Get returns the value stored under key and whether it was present.
	Get(key string) (string, bool, error)
	Set(key, value string) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(key string) error
}
