// Package pipeline turns an uploaded source into a published HLS rendition set.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aura-vod/backend/internal/encoder"
	"github.com/aura-vod/backend/internal/models"
	"github.com/aura-vod/backend/internal/videos"
	"github.com/aura-vod/backend/pkg/storage"
)

const (
	defaultUploadTimeout = 30 * time.Minute
	defaultWorkspaceTTL  = 24 * time.Hour
	failureWriteTimeout  = 30 * time.Second
)

// Encoder produces one variant's playlist and segments in outputDir.
type Encoder interface {
	Encode(ctx context.Context, v encoder.Variant, inputPath, outputDir string) error
}

// Notifier is told about every status the pipeline persists.
type Notifier interface {
	Notify(ctx context.Context, v *models.Video)
}

// Config holds pipeline settings.
type Config struct {
	Ladder        []encoder.Variant
	WorkDir       string
	Parallelism   int // concurrent variant encodes per run
	UploadTimeout time.Duration
	WorkspaceTTL  time.Duration // same-version scratch dirs older than this are removed as crash leftovers
	Notifier      Notifier
}

// Result is the outcome of one Run.
type Result struct {
	VideoID uuid.UUID
	Version int64
	Status  models.VideoStatus // last status known to be persisted
	Err     error
	Skipped bool // video missing, or another run of this version already finished it
	Stale   bool // a newer source replaced the one this run was started for
}

// Retryable reports whether the run ended without a persisted outcome, so the job should be delivered again.
func (r Result) Retryable() bool {
	if r.Err == nil || r.Skipped || r.Stale {
		return false
	}
	return r.Status != models.VideoStatusReady && r.Status != models.VideoStatusFailed
}

// Pipeline runs the stages for one video at a time; a single Pipeline may serve concurrent runs.
type Pipeline struct {
	records videos.Store
	objects storage.ObjectStore
	enc     Encoder
	cfg     Config
	logger  *zap.Logger
}

// New creates a pipeline. A nil ladder uses encoder.DefaultLadder.
func New(records videos.Store, objects storage.ObjectStore, enc Encoder, cfg Config, logger *zap.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Ladder == nil {
		cfg.Ladder = encoder.DefaultLadder
	}
	if err := encoder.ValidateLadder(cfg.Ladder); err != nil {
		return nil, err
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = defaultUploadTimeout
	}
	if cfg.WorkspaceTTL <= 0 {
		cfg.WorkspaceTTL = defaultWorkspaceTTL
	}
	return &Pipeline{records: records, objects: objects, enc: enc, cfg: cfg, logger: logger}, nil
}

// Run executes the pipeline for video id. version is the run token the job was enqueued with; 0 means
// whatever version is current. Every record write is conditional on that version and on the status the run
// expects, so a duplicate delivery of the same job never undoes what another run already finished.
func (p *Pipeline) Run(ctx context.Context, id uuid.UUID, version int64) Result {
	log := p.logger.With(zap.String("video_id", id.String()))
	res := Result{VideoID: id, Version: version}

	v, err := p.records.GetByID(ctx, id)
	if errors.Is(err, videos.ErrNotFound) {
		log.Info("video no longer exists, skipping")
		res.Skipped = true
		return res
	}
	if err != nil {
		res.Err = stageErr(StageLoad, ErrRecordUpdate, err)
		return res
	}
	res.Status = v.Status
	if version == 0 {
		version = v.Version
		res.Version = version
	}
	if v.Version != version {
		log.Info("source replaced since enqueue, skipping", zap.Int64("version", version), zap.Int64("current_version", v.Version))
		res.Stale = true
		return res
	}
	if v.IsTerminal() {
		log.Info("video already terminal, skipping", zap.String("status", string(v.Status)))
		res.Skipped = true
		return res
	}

	start := time.Now()
	if err := v.StartProcessing(); err != nil {
		res.Err = stageErr(StageMark, ErrRecordUpdate, err)
		return res
	}
	if err := p.records.UpdateState(ctx, v, version, models.VideoStatusQueued, models.VideoStatusProcessing); err != nil {
		switch {
		case errors.Is(err, videos.ErrStaleVersion):
			res.Stale = true
			return res
		case errors.Is(err, videos.ErrStatusChanged), errors.Is(err, videos.ErrNotFound):
			log.Info("video finished by another run, skipping")
			res.Skipped = true
			return res
		}
		res.Err = stageErr(StageMark, ErrRecordUpdate, err)
		log.Warn("cannot mark video processing", zap.Error(res.Err))
		return res
	}
	res.Status = v.Status
	p.notify(ctx, v)
	log.Info("transcode started", zap.Int64("version", version), zap.Strings("ladder", encoder.Names(p.cfg.Ladder)))

	ws, err := acquireWorkspace(p.cfg.WorkDir, id, version, p.cfg.WorkspaceTTL)
	if err != nil {
		return p.fail(ctx, log, v, version, stageErr(StageWorkspace, ErrStorage, err), res)
	}
	defer func() {
		if err := ws.release(); err != nil {
			log.Warn("workspace cleanup failed", zap.Error(err))
		}
	}()

	input := ws.sourcePath(path.Ext(v.OriginalPath))
	if err := p.download(ctx, v.OriginalPath, input); err != nil {
		return p.fail(ctx, log, v, version, stageErr(StageDownload, ErrStorage, err), res)
	}
	log.Debug("source downloaded", zap.String("key", v.OriginalPath))

	if err := p.transcode(ctx, input, ws.outputDir()); err != nil {
		return p.fail(ctx, log, v, version, stageErr(StageTranscode, ErrEncode, err), res)
	}

	items, err := planUpload(id, p.cfg.Ladder, ws.outputDir())
	if err != nil {
		return p.fail(ctx, log, v, version, err, res)
	}

	// Objects live under a key prefix shared by every version and every delivery; only a run that still
	// owns the record may replace them.
	cur, err := p.records.GetByID(ctx, id)
	switch {
	case errors.Is(err, videos.ErrNotFound):
		res.Stale = true
		return res
	case err != nil:
		return p.fail(ctx, log, v, version, stageErr(StageUpload, ErrRecordUpdate, err), res)
	case cur.Version != version:
		log.Info("source replaced during transcode, discarding output")
		res.Stale = true
		return res
	case cur.Status != models.VideoStatusProcessing:
		log.Info("video finished by another run, discarding output", zap.String("status", string(cur.Status)))
		res.Status = cur.Status
		res.Skipped = true
		return res
	}
	// Segments of an earlier source may outnumber this one's.
	if err := p.objects.DeletePrefix(ctx, storage.HLSPrefix(id)); err != nil {
		return p.fail(ctx, log, v, version, stageErr(StageUpload, ErrStorage, fmt.Errorf("clear previous output: %w", err)), res)
	}
	if err := p.upload(ctx, items); err != nil {
		return p.fail(ctx, log, v, version, err, res)
	}

	if err := v.Complete(storage.MasterKey(id), encoder.Names(p.cfg.Ladder)); err != nil {
		return p.fail(ctx, log, v, version, stageErr(StageFinalize, ErrRecordUpdate, err), res)
	}
	if err := p.records.UpdateState(ctx, v, version, models.VideoStatusProcessing); err != nil {
		switch {
		case errors.Is(err, videos.ErrStaleVersion), errors.Is(err, videos.ErrNotFound):
			log.Info("source replaced during upload, final write skipped")
			res.Stale = true
			return res
		case errors.Is(err, videos.ErrStatusChanged):
			log.Info("video finished by another run during upload, final write skipped")
			// A concurrent failure already cleared the prefix; drop what this run put back.
			p.clearOutput(ctx, log, id, version)
			res.Skipped = true
			return res
		}
		v.Status = models.VideoStatusProcessing
		return p.fail(ctx, log, v, version, stageErr(StageFinalize, ErrRecordUpdate, err), res)
	}
	res.Status = v.Status
	p.notify(ctx, v)
	log.Info("transcode completed", zap.String("hls_path", v.HLSPath), zap.Duration("duration", time.Since(start)))
	return res
}

// download streams the source object into dst.
func (p *Pipeline) download(ctx context.Context, key, dst string) error {
	body, _, err := p.objects.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	defer body.Close()

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create source file: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return fmt.Errorf("copy %s: %w", key, err)
	}
	return f.Close()
}

// transcode encodes every variant, at most Parallelism at a time. The first failure cancels the rest and
// is the error returned.
func (p *Pipeline) transcode(ctx context.Context, input, outDir string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Parallelism)
	for _, v := range p.cfg.Ladder {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return p.enc.Encode(gctx, v, input, outDir)
		})
	}
	return g.Wait()
}

// fail records cause as the failure reason and then removes any HLS objects of this version. A run
// interrupted by ctx (worker shutdown) is left in processing for redelivery instead. When another run
// already finished the video, neither the record nor its output is touched.
func (p *Pipeline) fail(ctx context.Context, log *zap.Logger, v *models.Video, version int64, cause error, res Result) Result {
	res.Err = cause
	if ctx.Err() != nil {
		log.Warn("transcode interrupted, leaving video for redelivery", zap.Error(cause))
		return res
	}
	log.Error("transcode failed", zap.Error(cause))

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	if err := v.Fail(cause.Error()); err != nil {
		log.Error("cannot mark video failed", zap.Error(err))
		return res
	}
	if err := p.records.UpdateState(fctx, v, version, models.VideoStatusProcessing); err != nil {
		switch {
		case errors.Is(err, videos.ErrStaleVersion), errors.Is(err, videos.ErrNotFound):
			res.Stale = true
		case errors.Is(err, videos.ErrStatusChanged):
			log.Info("video finished by another run, failure not recorded")
			res.Skipped = true
		default:
			log.Error("failed status not persisted", zap.Error(err))
		}
		return res
	}
	res.Status = v.Status
	p.clearOutput(fctx, log, v.ID, version)
	p.notify(fctx, v)
	return res
}

// clearOutput deletes hls/{id}/ while the record is still failed at version. Errors are logged only.
func (p *Pipeline) clearOutput(ctx context.Context, log *zap.Logger, id uuid.UUID, version int64) {
	cur, err := p.records.GetByID(ctx, id)
	if err != nil {
		if !errors.Is(err, videos.ErrNotFound) {
			log.Warn("skip hls cleanup, record check failed", zap.Error(err))
		}
		return
	}
	if cur.Version != version || cur.Status != models.VideoStatusFailed {
		return
	}
	if err := p.objects.DeletePrefix(ctx, storage.HLSPrefix(id)); err != nil {
		log.Warn("hls cleanup failed", zap.Error(err))
	}
}

func (p *Pipeline) notify(ctx context.Context, v *models.Video) {
	if p.cfg.Notifier != nil {
		p.cfg.Notifier.Notify(ctx, v)
	}
}
