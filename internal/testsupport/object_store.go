// Package testsupport provides in-memory stand-ins for the object store and the video record store.
package testsupport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/aura-vod/backend/pkg/storage"
)

type object struct {
	data        []byte
	contentType string
}

// ObjectStore is a thread-safe in-memory storage.ObjectStore that records the order of writes.
type ObjectStore struct {
	mu      sync.Mutex
	objects map[string]object
	puts    []string

	// OnPut, when set, runs before each write is applied; a non-nil error fails the write.
	OnPut func(key string) error
	// FailGet, when set, is returned by Get/GetRange for every key.
	FailGet error
}

var _ storage.ObjectStore = (*ObjectStore)(nil)

// NewObjectStore returns an empty store.
func NewObjectStore() *ObjectStore {
	return &ObjectStore{objects: make(map[string]object)}
}

// Seed stores data without recording it as a put.
func (s *ObjectStore) Seed(key, contentType string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = object{data: append([]byte(nil), data...), contentType: contentType}
}

// Get implements storage.ObjectStore.
func (s *ObjectStore) Get(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	return s.GetRange(ctx, key, 0, 0)
}

// GetRange implements storage.ObjectStore.
func (s *ObjectStore) GetRange(_ context.Context, key string, offset, length int64) (io.ReadCloser, storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailGet != nil {
		return nil, storage.ObjectInfo{}, s.FailGet
	}
	obj, ok := s.objects[key]
	if !ok {
		return nil, storage.ObjectInfo{}, fmt.Errorf("get %s: %w", key, storage.ErrNotFound)
	}
	total := int64(len(obj.data))
	if offset < 0 || (offset > 0 && offset >= total) {
		return nil, storage.ObjectInfo{}, fmt.Errorf("get %s: %w", key, storage.ErrInvalidRange)
	}
	end := total
	if length > 0 && offset+length < total {
		end = offset + length
	}
	body := append([]byte(nil), obj.data[offset:end]...)
	info := storage.ObjectInfo{
		ContentType: obj.contentType,
		Size:        int64(len(body)),
		TotalSize:   total,
		Offset:      offset,
	}
	return io.NopCloser(bytes.NewReader(body)), info, nil
}

// Put implements storage.ObjectStore.
func (s *ObjectStore) Put(_ context.Context, key, contentType string, body io.Reader, _ int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OnPut != nil {
		if err := s.OnPut(key); err != nil {
			return err
		}
	}
	s.objects[key] = object{data: data, contentType: contentType}
	s.puts = append(s.puts, key)
	return nil
}

// Exists implements storage.ObjectStore.
func (s *ObjectStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

// Delete implements storage.ObjectStore.
func (s *ObjectStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// DeletePrefix implements storage.ObjectStore.
func (s *ObjectStore) DeletePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			delete(s.objects, key)
		}
	}
	return nil
}

// Has reports whether key exists. Callers inside OnPut must not use it (the store lock is held).
func (s *ObjectStore) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

// HasLocked is Has for use inside OnPut.
func (s *ObjectStore) HasLocked(key string) bool {
	_, ok := s.objects[key]
	return ok
}

// Bytes returns a copy of the stored object, or nil.
func (s *ObjectStore) Bytes(key string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil
	}
	return append([]byte(nil), obj.data...)
}

// ContentType returns the stored content type of key.
func (s *ObjectStore) ContentType(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects[key].contentType
}

// Keys returns the sorted keys under prefix.
func (s *ObjectStore) Keys(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Puts returns every key written, in write order.
func (s *ObjectStore) Puts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.puts...)
}
