// Package storage defines the persistent key-value store consumed by the
// per-plugin storage facade. The engine itself is an external collaborator;
// this package holds the interface plus a memory adapter for tests and a
// SQLite adapter for single-process production use.
package storage

import "errors"

// Store is a namespace-scoped key-value store.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get retrieves a value. Returns ErrNotFound when the key is absent.
	Get(namespace, key string) ([]byte, error)

	// Set stores a value, overwriting any existing entry.
	Set(namespace, key string, value []byte) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(namespace, key string) error

	// Clear removes every key in the namespace.
	Clear(namespace string) error

	// Keys returns every key in the namespace, sorted.
	Keys(namespace string) ([]string, error)

	// Has reports whether the key exists.
	Has(namespace, key string) (bool, error)

	// Size returns the number of keys in the namespace.
	Size(namespace string) (int, error)

	// Close releases any resources.
	Close() error
}

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates the key does not exist.
	ErrNotFound = errors.New("key not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("store closed")
)
