package videos

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-vod/backend/internal/models"
	"github.com/aura-vod/backend/pkg/queue"
	"github.com/aura-vod/backend/pkg/storage"
)

const (
	sniffBytes     = 3072
	defaultPerPage = 12
	maxPerPage     = 100
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation error")
	// ErrConflict is returned when a concurrent replace won the race.
	ErrConflict = errors.New("video changed concurrently")
)

// ValidationError rejects a request before any record or object is written.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Message }

// Is makes errors.Is(err, ErrValidation) true.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Enqueuer submits transcode jobs.
type Enqueuer interface {
	EnqueueTranscode(ctx context.Context, payload queue.TranscodePayload) error
}

// Notifier is told about status changes made by the service.
type Notifier interface {
	Notify(ctx context.Context, v *models.Video)
}

// Upload is an incoming source file.
type Upload struct {
	Body io.Reader
	Size int64
}

// Page is one page of the video list.
type Page struct {
	Data        []models.Video `json:"data"`
	CurrentPage int            `json:"current_page"`
	LastPage    int            `json:"last_page"`
	PerPage     int            `json:"per_page"`
	Total       int            `json:"total"`
}

// Service implements video intake: create, replace source, edit metadata, list and delete.
type Service struct {
	store    Store
	objects  storage.ObjectStore
	jobs     Enqueuer
	notifier Notifier
	maxBytes int64
	logger   *zap.Logger
}

// NewService creates the intake service. maxBytes <= 0 disables the size limit.
func NewService(store Store, objects storage.ObjectStore, jobs Enqueuer, maxBytes int64, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, objects: objects, jobs: jobs, maxBytes: maxBytes, logger: logger}
}

// SetNotifier sets the optional status notifier.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// ValidateMetadata checks title and description lengths in characters.
func ValidateMetadata(title, description string) error {
	if utf8.RuneCountInString(title) > models.MaxTitleLength {
		return &ValidationError{Field: "title", Message: fmt.Sprintf("must be at most %d characters", models.MaxTitleLength)}
	}
	if utf8.RuneCountInString(description) > models.MaxDescriptionLength {
		return &ValidationError{Field: "description", Message: fmt.Sprintf("must be at most %d characters", models.MaxDescriptionLength)}
	}
	return nil
}

// sniffed is an upload whose type has been detected from its first bytes.
type sniffed struct {
	body        io.Reader
	size        int64
	contentType string
	ext         string
}

func (s *Service) sniff(up *Upload) (*sniffed, error) {
	if up == nil || up.Body == nil {
		return nil, &ValidationError{Field: "file", Message: "is required"}
	}
	if up.Size == 0 {
		return nil, &ValidationError{Field: "file", Message: "is empty"}
	}
	if s.maxBytes > 0 && up.Size > s.maxBytes {
		return nil, &ValidationError{Field: "file", Message: fmt.Sprintf("must be at most %d bytes", s.maxBytes)}
	}
	head := make([]byte, sniffBytes)
	n, err := io.ReadFull(up.Body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]
	for mt := mimetype.Detect(head); mt != nil; mt = mt.Parent() {
		base := strings.ToLower(strings.SplitN(mt.String(), ";", 2)[0])
		if ext, ok := storage.AllowedVideoTypes[base]; ok {
			return &sniffed{
				body:        io.MultiReader(bytes.NewReader(head), up.Body),
				size:        up.Size,
				contentType: base,
				ext:         ext,
			}, nil
		}
	}
	return nil, &ValidationError{Field: "file", Message: "must be an mp4, mov or mkv video"}
}

// Create stores the original, writes a queued record and enqueues its transcode.
func (s *Service) Create(ctx context.Context, title, description string, up *Upload) (*models.Video, error) {
	title, description = strings.TrimSpace(title), strings.TrimSpace(description)
	if err := ValidateMetadata(title, description); err != nil {
		return nil, err
	}
	src, err := s.sniff(up)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	key := storage.OriginalKey(id, src.ext)
	if err := s.objects.Put(ctx, key, src.contentType, src.body, src.size); err != nil {
		return nil, fmt.Errorf("store original: %w", err)
	}
	v := models.NewVideo(id, title, description, models.SourceFile{Path: key, SizeBytes: src.size, ContentType: src.contentType})
	if err := s.store.Create(ctx, v); err != nil {
		if delErr := s.objects.Delete(ctx, key); delErr != nil {
			s.logger.Warn("remove orphaned original failed", zap.String("key", key), zap.Error(delErr))
		}
		return nil, fmt.Errorf("create video: %w", err)
	}
	s.enqueue(ctx, v)
	s.logger.Info("video created", zap.String("video_id", id.String()), zap.Int64("size_bytes", src.size))
	return v, nil
}

// Replace swaps the source of a video and restarts its lifecycle: the record goes back to queued with
// renditions, HLS path and failure reason cleared, and a job for the new version is enqueued. A run still
// working on the previous source finishes as a no-op.
func (s *Service) Replace(ctx context.Context, id uuid.UUID, up *Upload) (*models.Video, error) {
	v, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	src, err := s.sniff(up)
	if err != nil {
		return nil, err
	}

	oldKey := v.OriginalPath
	newKey := storage.OriginalKey(id, src.ext)
	if oldKey != newKey {
		if err := s.objects.Delete(ctx, oldKey); err != nil {
			return nil, fmt.Errorf("delete previous original: %w", err)
		}
	}
	if err := s.objects.Put(ctx, newKey, src.contentType, src.body, src.size); err != nil {
		return nil, fmt.Errorf("store original: %w", err)
	}

	prev := v.Version
	v.Requeue(models.SourceFile{Path: newKey, SizeBytes: src.size, ContentType: src.contentType})
	if err := s.store.UpdateState(ctx, v, prev); err != nil {
		if errors.Is(err, ErrStaleVersion) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("requeue video: %w", err)
	}
	s.enqueue(ctx, v)
	s.logger.Info("video source replaced", zap.String("video_id", id.String()), zap.Int64("version", v.Version))
	return v, nil
}

// enqueue submits the transcode job. A lost enqueue is picked up later by the reconciler, so errors are
// only logged.
func (s *Service) enqueue(ctx context.Context, v *models.Video) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, v)
	}
	if err := s.jobs.EnqueueTranscode(ctx, queue.TranscodePayload{VideoID: v.ID, Version: v.Version}); err != nil {
		s.logger.Error("enqueue transcode failed", zap.String("video_id", v.ID.String()), zap.Error(err))
	}
}

// UpdateMetadata sets title and description.
func (s *Service) UpdateMetadata(ctx context.Context, id uuid.UUID, title, description string) (*models.Video, error) {
	title, description = strings.TrimSpace(title), strings.TrimSpace(description)
	if err := ValidateMetadata(title, description); err != nil {
		return nil, err
	}
	if err := s.store.UpdateMetadata(ctx, id, title, description); err != nil {
		return nil, err
	}
	return s.store.GetByID(ctx, id)
}

// Get returns one video.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	return s.store.GetByID(ctx, id)
}

// List returns page (1-based) of videos, newest first. perPage defaults to 12 and is capped at 100.
func (s *Service) List(ctx context.Context, page, perPage int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	list, total, err := s.store.List(ctx, perPage, (page-1)*perPage)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.Video{}
	}
	lastPage := (total + perPage - 1) / perPage
	if lastPage < 1 {
		lastPage = 1
	}
	return &Page{Data: list, CurrentPage: page, LastPage: lastPage, PerPage: perPage, Total: total}, nil
}

// Delete removes the original, every HLS artifact and the record.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	v, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.objects.Delete(ctx, v.OriginalPath); err != nil {
		return fmt.Errorf("delete original: %w", err)
	}
	if err := s.objects.DeletePrefix(ctx, storage.HLSPrefix(id)); err != nil {
		return fmt.Errorf("delete hls artifacts: %w", err)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("video deleted", zap.String("video_id", id.String()))
	return nil
}
