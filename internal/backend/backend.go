// Package backend provides the object storage abstraction used by the
// durable tier. Records are opaque byte objects addressed by flat,
// slash-separated keys; a whole session namespace is removed with a
// single prefix delete.
package backend

import (
	"context"
	"errors"
)

// ErrNotExist is returned by Get when no object is stored under the key.
var ErrNotExist = errors.New("backend: object does not exist")

// ObjectBackend is the storage contract the durable tier writes through.
// Implementations must be safe for concurrent use.
type ObjectBackend interface {
	// Put stores data under key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the object stored under key, or ErrNotExist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the object under key. Deleting a missing object
	// is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every object whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// List returns the keys of all objects whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Name identifies the backend for logging.
	Name() string
}
