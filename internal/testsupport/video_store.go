package testsupport

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-vod/backend/internal/models"
	"github.com/aura-vod/backend/internal/videos"
)

// VideoStore is an in-memory videos.Store with the same conditional-write semantics as the PostgreSQL repository.
type VideoStore struct {
	mu     sync.Mutex
	videos map[uuid.UUID]models.Video
	now    func() time.Time

	// FailUpdate, when set, is consulted before every UpdateState; a non-nil error fails the write.
	FailUpdate func(v *models.Video) error
	// History records every status written through UpdateState.
	History []models.VideoStatus
}

var _ videos.Store = (*VideoStore)(nil)

// NewVideoStore returns an empty store.
func NewVideoStore() *VideoStore {
	return &VideoStore{videos: make(map[uuid.UUID]models.Video), now: time.Now}
}

// SetClock overrides the timestamp source.
func (s *VideoStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func clone(v models.Video) models.Video {
	v.Renditions = append([]string(nil), v.Renditions...)
	if len(v.Renditions) == 0 {
		v.Renditions = nil
	}
	return v
}

// Create implements videos.Store.
func (s *VideoStore) Create(_ context.Context, v *models.Video) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	v.CreatedAt, v.UpdatedAt = now, now
	s.videos[v.ID] = clone(*v)
	return nil
}

// GetByID implements videos.Store.
func (s *VideoStore) GetByID(_ context.Context, id uuid.UUID) (*models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[id]
	if !ok {
		return nil, videos.ErrNotFound
	}
	out := clone(v)
	return &out, nil
}

// List implements videos.Store.
func (s *VideoStore) List(_ context.Context, limit, offset int) ([]models.Video, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]models.Video, 0, len(s.videos))
	for _, v := range s.videos {
		all = append(all, clone(v))
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID.String() < all[j].ID.String()
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := min(offset+limit, total)
	return all[offset:end], total, nil
}

// ListStale implements videos.Store.
func (s *VideoStore) ListStale(_ context.Context, status models.VideoStatus, updatedBefore time.Time, limit int) ([]models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Video
	for _, v := range s.videos {
		if v.Status == status && v.UpdatedAt.Before(updatedBefore) {
			out = append(out, clone(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateMetadata implements videos.Store.
func (s *VideoStore) UpdateMetadata(_ context.Context, id uuid.UUID, title, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[id]
	if !ok {
		return videos.ErrNotFound
	}
	v.Title, v.Description = title, description
	v.UpdatedAt = s.now()
	s.videos[id] = v
	return nil
}

// UpdateState implements videos.Store.
func (s *VideoStore) UpdateState(_ context.Context, v *models.Video, expectedVersion int64, from ...models.VideoStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUpdate != nil {
		if err := s.FailUpdate(v); err != nil {
			return err
		}
	}
	cur, err := s.check(v.ID, expectedVersion, from...)
	if err != nil {
		return err
	}
	v.CreatedAt = cur.CreatedAt
	v.Title, v.Description = cur.Title, cur.Description
	v.UpdatedAt = s.now()
	s.videos[v.ID] = clone(*v)
	s.History = append(s.History, v.Status)
	return nil
}

// Touch implements videos.Store.
func (s *VideoStore) Touch(_ context.Context, id uuid.UUID, version int64, status models.VideoStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.check(id, version, status)
	if err != nil {
		return err
	}
	cur.UpdatedAt = s.now()
	s.videos[id] = cur
	return nil
}

// check applies the conditional-write predicate. Callers hold s.mu.
func (s *VideoStore) check(id uuid.UUID, version int64, from ...models.VideoStatus) (models.Video, error) {
	cur, ok := s.videos[id]
	if !ok {
		return models.Video{}, videos.ErrNotFound
	}
	if cur.Version != version {
		return models.Video{}, videos.ErrStaleVersion
	}
	if len(from) > 0 && !slices.Contains(from, cur.Status) {
		return models.Video{}, videos.ErrStatusChanged
	}
	return cur, nil
}

// Delete implements videos.Store.
func (s *VideoStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.videos[id]; !ok {
		return videos.ErrNotFound
	}
	delete(s.videos, id)
	return nil
}

// Statuses returns a copy of History.
func (s *VideoStore) Statuses() []models.VideoStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.VideoStatus(nil), s.History...)
}
