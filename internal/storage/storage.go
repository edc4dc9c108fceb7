// Package storage provides the key-value persistence boundary used by the
// token store. Implementations may be volatile (Memory) or durable (SQLite).
package storage

import "errors"

// ErrNotFound indicates the key has no stored value.
var ErrNotFound = errors.New("storage: key not found")

// KV is the narrow contract the auth subsystem persists through.
// A write error means "not persisted" - callers keep in-memory state
// authoritative and surface the error, nothing retries here.
type KV interface {
	// Get returns the value for key, or ErrNotFound.
	Get(key string) (string, error)

	// Set stores value under key, overwriting any previous value.
	Set(key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(key string) error
}
