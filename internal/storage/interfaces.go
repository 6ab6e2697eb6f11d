package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a stored object does not exist.
var ErrNotFound = errors.New("not found")

type Storage interface {
	Save(ctx context.Context, path string, data []byte) error
	Load(ctx context.Context, path string) ([]byte, error)
	List(ctx context.Context, pattern string) ([]string, error)
	Exists(ctx context.Context, path string) bool
	Delete(ctx context.Context, path string) error
}
