// Package storage persists exchange state. Every call runs inside one Txn
// whose writes become visible together on Commit or not at all.
package storage

import (
	"fmt"
	"strings"
)

// kv is the ordered byte-key store under a Txn.
type kv interface {
	// get returns nil without error when key is absent.
	get(key []byte) ([]byte, error)
	set(key, value []byte) error
	del(key []byte) error
	// scan visits keys in [lower, upper) until fn returns false. A nil
	// upper bound is unbounded.
	scan(lower, upper []byte, reverse bool, fn func(key, value []byte) bool) error
}

// Store opens transactions. Write transactions must not overlap: callers
// apply one call at a time and only discard read-only transactions
// concurrently.
type Store interface {
	Begin() *Txn
	Close() error
}

// Backend names accepted by Open.
const (
	BackendPebble = "pebble"
	BackendMemory = "memory"
)

// Open creates the store selected by backend.
func Open(backend, path string) (Store, error) {
	switch strings.ToLower(backend) {
	case BackendPebble:
		return NewPebbleStore(path)
	case BackendMemory, "":
		return NewMemStore(), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", backend)
}
