package videos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-vod/backend/internal/models"
)

var (
	// ErrNotFound is returned when no video has the requested id.
	ErrNotFound = errors.New("video not found")
	// ErrStaleVersion is returned when a conditional write finds a different run token.
	ErrStaleVersion = errors.New("video version changed")
	// ErrStatusChanged is returned when the version matches but the stored status is not one the write expects,
	// e.g. another delivery of the same job already finished it.
	ErrStatusChanged = errors.New("video status changed")
)

// Store is the video record store used by the intake service, the pipeline and the reconciler.
type Store interface {
	Create(ctx context.Context, v *models.Video) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Video, error)
	List(ctx context.Context, limit, offset int) ([]models.Video, int, error)
	ListStale(ctx context.Context, status models.VideoStatus, updatedBefore time.Time, limit int) ([]models.Video, error)
	UpdateMetadata(ctx context.Context, id uuid.UUID, title, description string) error
	UpdateState(ctx context.Context, v *models.Video, expectedVersion int64, from ...models.VideoStatus) error
	Touch(ctx context.Context, id uuid.UUID, version int64, status models.VideoStatus) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Repository handles video persistence in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

var _ Store = (*Repository)(nil)

// NewRepository creates a videos repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectColumns = `id, COALESCE(title,''), COALESCE(description,''), original_path, COALESCE(hls_path,''),
	COALESCE(renditions, '{}'), status, COALESCE(failure_reason,''), size_bytes, COALESCE(content_type,''),
	version, created_at, updated_at`

func scanVideo(row pgx.Row) (*models.Video, error) {
	var v models.Video
	var status string
	err := row.Scan(&v.ID, &v.Title, &v.Description, &v.OriginalPath, &v.HLSPath, &v.Renditions, &status,
		&v.FailureReason, &v.SizeBytes, &v.ContentType, &v.Version, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	v.Status = models.VideoStatus(status)
	if len(v.Renditions) == 0 {
		v.Renditions = nil
	}
	return &v, nil
}

// Create inserts a new video.
func (r *Repository) Create(ctx context.Context, v *models.Video) error {
	const q = `INSERT INTO videos (id, title, description, original_path, status, size_bytes, content_type, version)
		VALUES ($1, NULLIF($2,''), NULLIF($3,''), $4, $5, $6, NULLIF($7,''), $8)
		RETURNING created_at, updated_at`
	return r.pool.QueryRow(ctx, q, v.ID, v.Title, v.Description, v.OriginalPath, string(v.Status), v.SizeBytes, v.ContentType, v.Version).
		Scan(&v.CreatedAt, &v.UpdatedAt)
}

// GetByID returns a video by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	q := `SELECT ` + selectColumns + ` FROM videos WHERE id = $1`
	v, err := scanVideo(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return v, nil
}

// List returns a page of videos, newest first, and the total count.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]models.Video, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM videos`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count videos: %w", err)
	}
	q := `SELECT ` + selectColumns + ` FROM videos ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`
	list, err := r.query(ctx, q, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// ListStale returns videos in status whose last update is older than updatedBefore, oldest first.
func (r *Repository) ListStale(ctx context.Context, status models.VideoStatus, updatedBefore time.Time, limit int) ([]models.Video, error) {
	q := `SELECT ` + selectColumns + ` FROM videos WHERE status = $1 AND updated_at < $2 ORDER BY updated_at LIMIT $3`
	return r.query(ctx, q, string(status), updatedBefore, limit)
}

func (r *Repository) query(ctx context.Context, q string, args ...any) ([]models.Video, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *v)
	}
	return list, rows.Err()
}

// UpdateMetadata sets title and description.
func (r *Repository) UpdateMetadata(ctx context.Context, id uuid.UUID, title, description string) error {
	const q = `UPDATE videos SET title = NULLIF($1,''), description = NULLIF($2,''), updated_at = NOW() WHERE id = $3`
	tag, err := r.pool.Exec(ctx, q, title, description, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateState writes the lifecycle fields of v in one statement, only if the stored version still equals
// expectedVersion and, when from is given, the stored status is one of from. A lost race returns
// ErrStaleVersion or ErrStatusChanged.
func (r *Repository) UpdateState(ctx context.Context, v *models.Video, expectedVersion int64, from ...models.VideoStatus) error {
	const q = `UPDATE videos SET
			status = $1, hls_path = NULLIF($2,''), renditions = $3, failure_reason = NULLIF($4,''),
			original_path = $5, size_bytes = $6, content_type = NULLIF($7,''), version = $8, updated_at = NOW()
		WHERE id = $9 AND version = $10 AND (cardinality($11::text[]) = 0 OR status = ANY($11::text[]))
		RETURNING updated_at`
	var renditions []string
	if len(v.Renditions) > 0 {
		renditions = v.Renditions
	}
	err := r.pool.QueryRow(ctx, q, string(v.Status), v.HLSPath, renditions, v.FailureReason,
		v.OriginalPath, v.SizeBytes, v.ContentType, v.Version, v.ID, expectedVersion, statusList(from)).Scan(&v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.classifyMiss(ctx, v.ID, expectedVersion)
		}
		return err
	}
	return nil
}

// Touch refreshes updated_at only while the video is still at version and in status.
func (r *Repository) Touch(ctx context.Context, id uuid.UUID, version int64, status models.VideoStatus) error {
	const q = `UPDATE videos SET updated_at = NOW() WHERE id = $1 AND version = $2 AND status = $3`
	tag, err := r.pool.Exec(ctx, q, id, version, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.classifyMiss(ctx, id, version)
	}
	return nil
}

// statusList is never nil: a NULL array would make cardinality() NULL and match nothing.
func statusList(from []models.VideoStatus) []string {
	out := make([]string, 0, len(from))
	for _, st := range from {
		out = append(out, string(st))
	}
	return out
}

// classifyMiss explains why a conditional write matched no row.
func (r *Repository) classifyMiss(ctx context.Context, id uuid.UUID, expectedVersion int64) error {
	var version int64
	err := r.pool.QueryRow(ctx, `SELECT version FROM videos WHERE id = $1`, id).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if version != expectedVersion {
		return ErrStaleVersion
	}
	return ErrStatusChanged
}

// Delete removes a video row.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM videos WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
