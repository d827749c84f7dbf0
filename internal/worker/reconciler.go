package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/aura-vod/backend/internal/models"
	"github.com/aura-vod/backend/internal/videos"
	"github.com/aura-vod/backend/pkg/queue"
)

const reconcileBatch = 100

// Enqueuer submits transcode jobs.
type Enqueuer interface {
	EnqueueTranscode(ctx context.Context, payload queue.TranscodePayload) error
}

// ReconcilerConfig holds reconciler settings.
type ReconcilerConfig struct {
	Schedule   string        // cron spec or descriptor, e.g. "@every 5m"
	StaleAfter time.Duration // how long a video may sit in queued before it is enqueued again
}

// Reconciler periodically re-enqueues videos that stayed queued too long, covering records whose
// enqueue was lost after the record was written.
type Reconciler struct {
	records videos.Store
	jobs    Enqueuer
	cfg     ReconcilerConfig
	logger  *zap.Logger
	now     func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewReconciler validates the schedule and creates a reconciler.
func NewReconciler(records videos.Store, jobs Enqueuer, cfg ReconcilerConfig, logger *zap.Logger) (*Reconciler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("reconcile schedule %q: %w", cfg.Schedule, err)
	}
	if cfg.StaleAfter <= 0 {
		return nil, errors.New("reconcile stale-after must be positive")
	}
	return &Reconciler{records: records, jobs: jobs, cfg: cfg, logger: logger, now: time.Now}, nil
}

// Start schedules RunOnce. Overlapping runs are skipped.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return errors.New("reconciler already started")
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(r.cfg.Schedule, func() {
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.Error("reconcile failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule reconcile: %w", err)
	}
	c.Start()
	r.cron = c
	r.logger.Info("reconciler started", zap.String("schedule", r.cfg.Schedule), zap.Duration("stale_after", r.cfg.StaleAfter))
	return nil
}

// Stop stops scheduling and waits for a running pass to finish.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
		r.logger.Info("reconciler stopped")
	}
}

// RunOnce re-enqueues every video queued for longer than StaleAfter and returns how many it enqueued.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.cfg.StaleAfter)
	stale, err := r.records.ListStale(ctx, models.VideoStatusQueued, cutoff, reconcileBatch)
	if err != nil {
		return 0, fmt.Errorf("list stale videos: %w", err)
	}
	n := 0
	for i := range stale {
		v := &stale[i]
		if err := r.jobs.EnqueueTranscode(ctx, queue.TranscodePayload{VideoID: v.ID, Version: v.Version}); err != nil {
			return n, fmt.Errorf("enqueue %s: %w", v.ID, err)
		}
		n++
		// Refresh updated_at so the next pass leaves it alone while the job waits in the queue. A worker may
		// already have picked the job up, in which case the record is no longer queued and stays untouched.
		switch err := r.records.Touch(ctx, v.ID, v.Version, models.VideoStatusQueued); {
		case err == nil:
		case errors.Is(err, videos.ErrStaleVersion), errors.Is(err, videos.ErrStatusChanged), errors.Is(err, videos.ErrNotFound):
			r.logger.Debug("requeued video moved on before touch", zap.String("video_id", v.ID.String()), zap.Error(err))
		default:
			r.logger.Warn("touch requeued video failed", zap.String("video_id", v.ID.String()), zap.Error(err))
		}
		r.logger.Info("re-enqueued stale video", zap.String("video_id", v.ID.String()), zap.Int64("version", v.Version))
	}
	return n, nil
}
