package blob

import (
	"context"
	"errors"
)

var (
	// ErrRemoteStore wraps every transport or permission failure reported by a Store.
	ErrRemoteStore = errors.New("remote store error")

	// ErrObjectNotFound marks a Get against a key with no object behind it.
	ErrObjectNotFound = errors.New("object not found")
)

// Store defines the contract for keyed binary objects in a remote blob store.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Copy(ctx context.Context, srcKey, dstKey string) error
}
