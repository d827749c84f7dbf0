package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-vod/backend/internal/pipeline"
	"github.com/aura-vod/backend/pkg/queue"
)

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, id uuid.UUID, version int64) pipeline.Result
}

// Jobs is the part of the queue the processor consumes.
type Jobs interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Ack(ctx context.Context, job *queue.Job) error
	Retry(ctx context.Context, job *queue.Job) error
}

// errRedeliver marks a run that ended without a persisted outcome.
var errRedeliver = errors.New("run ended without a persisted outcome")

// TranscodeProcessor consumes transcode jobs and runs the pipeline for each.
type TranscodeProcessor struct {
	runner  Runner
	jobs    Jobs
	logger  *zap.Logger
	backoff time.Duration
}

// NewTranscodeProcessor creates a transcode job processor.
func NewTranscodeProcessor(runner Runner, jobs Jobs, logger *zap.Logger) *TranscodeProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TranscodeProcessor{runner: runner, jobs: jobs, logger: logger, backoff: queue.RetryBackoff}
}

// Process executes one transcode job. It returns an error only when the job should be delivered again.
func (p *TranscodeProcessor) Process(ctx context.Context, job *queue.Job) error {
	payload, err := job.TranscodePayload()
	if err != nil {
		// Malformed jobs can never succeed.
		p.logger.Error("dropping malformed job", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}

	res := p.runner.Run(ctx, payload.VideoID, payload.Version)
	fields := []zap.Field{
		zap.String("job_id", job.ID),
		zap.String("video_id", payload.VideoID.String()),
		zap.Int64("version", payload.Version),
	}
	switch {
	case res.Stale:
		p.logger.Info("job superseded by a newer source", fields...)
	case res.Skipped:
		p.logger.Info("job skipped", fields...)
	case res.Retryable():
		p.logger.Warn("job needs redelivery", append(fields, zap.Error(res.Err))...)
		return errors.Join(errRedeliver, res.Err)
	case res.Err != nil:
		p.logger.Info("job finished with failed video", append(fields, zap.String("status", string(res.Status)))...)
	default:
		p.logger.Info("job completed", append(fields, zap.String("status", string(res.Status)))...)
	}
	return nil
}

// Run starts the worker loop: dequeue, process, ack or retry.
func (p *TranscodeProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("transcode worker stopping")
			return
		default:
		}

		job, err := p.jobs.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			// Shutdown mid-job leaves the job in the processing list for RecoverInflight.
			if ctx.Err() != nil {
				continue
			}
			if reErr := p.jobs.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
			continue
		}
		if err := p.jobs.Ack(ctx, job); err != nil {
			p.logger.Error("ack failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}

func (p *TranscodeProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
