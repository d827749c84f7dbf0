package storage

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrInvalidRange is returned when a range starts past the end of the object.
	ErrInvalidRange = errors.New("range not satisfiable")
)

// ObjectInfo describes an object body returned by Get or GetRange.
type ObjectInfo struct {
	ContentType string
	Size        int64 // bytes in the returned body
	TotalSize   int64 // full object size
	Offset      int64 // offset of the first returned byte
}

// ObjectStore is a key/value blob store addressed by string keys.
type ObjectStore interface {
	// Get streams a whole object. Callers close the body.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	// GetRange streams length bytes starting at offset; length <= 0 reads to the end.
	GetRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, ObjectInfo, error)
	// Put streams body to key. size may be -1 when unknown.
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every object whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}
