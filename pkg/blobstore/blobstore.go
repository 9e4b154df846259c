package blobstore

import (
	"context"
	"errors"
)

// ErrNotFound indicates the requested key holds no blob.
var ErrNotFound = errors.New("blob not found")

// Store is a key-addressed blob capability. Put derives a fresh key from the
// supplied name; callers treat keys as opaque.
type Store interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
