package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueuePending is the Redis list key for transcode jobs waiting for a worker.
	QueuePending = "transcode:pending"
	// QueueProcessing holds jobs a worker has taken but not yet acknowledged.
	QueueProcessing = "transcode:processing"
	// QueueDLQ is the dead-letter queue for jobs that exhausted their retries.
	QueueDLQ = "transcode:dlq"
	// MaxRetries is the number of attempts before a job moves to the DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay a worker waits after a failed attempt.
	RetryBackoff = 10 * time.Second
	// DefaultBlockTimeout bounds one blocking dequeue.
	DefaultBlockTimeout = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const JobTypeTranscode JobType = "transcode"

// TranscodePayload is the payload of transcode jobs. Version is the video's run token at enqueue time.
type TranscodePayload struct {
	VideoID uuid.UUID `json:"video_id"`
	Version int64     `json:"version"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`

	raw string // exact list entry, needed to remove it from the processing list
}

// TranscodePayload decodes the job payload.
func (j *Job) TranscodePayload() (TranscodePayload, error) {
	var p TranscodePayload
	if j.Type != JobTypeTranscode {
		return p, fmt.Errorf("unknown job type: %s", j.Type)
	}
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return p, fmt.Errorf("unmarshal payload: %w", err)
	}
	if p.VideoID == uuid.Nil {
		return p, errors.New("payload has no video id")
	}
	return p, nil
}

// Queue is a reliable Redis job queue: a dequeued job stays in the processing list until acknowledged,
// so jobs held by a crashed worker can be recovered. Delivery is at-least-once.
type Queue struct {
	client       *redis.Client
	logger       *zap.Logger
	BlockTimeout time.Duration
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger, BlockTimeout: DefaultBlockTimeout}
}

// EnqueueTranscode enqueues a transcode job.
func (q *Queue) EnqueueTranscode(ctx context.Context, payload TranscodePayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	job := Job{
		ID:        uuid.New().String(),
		Type:      JobTypeTranscode,
		Payload:   body,
		Attempt:   0,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueuePending, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued transcode job",
		zap.String("job_id", job.ID),
		zap.String("video_id", payload.VideoID.String()),
		zap.Int64("version", payload.Version),
	)
	return nil
}

// Dequeue blocks up to BlockTimeout for a job and moves it to the processing list. It returns a nil job
// when the wait timed out. Undecodable entries are moved to the DLQ.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	raw, err := q.client.BLMove(ctx, QueuePending, QueueProcessing, "LEFT", "RIGHT", q.BlockTimeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", raw), zap.Error(err))
		if dlqErr := q.moveRaw(ctx, raw, QueueDLQ, raw); dlqErr != nil {
			q.logger.Error("dlq push failed", zap.Error(dlqErr))
		}
		return nil, nil
	}
	job.raw = raw
	return &job, nil
}

// Ack removes a finished job from the processing list.
func (q *Queue) Ack(ctx context.Context, job *Job) error {
	if err := q.client.LRem(ctx, QueueProcessing, 1, job.raw).Err(); err != nil {
		return fmt.Errorf("lrem: %w", err)
	}
	return nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= MaxRetries {
		if err := q.moveRaw(ctx, job.raw, QueueDLQ, string(raw)); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.moveRaw(ctx, job.raw, QueuePending, string(raw)); err != nil {
		return err
	}
	job.raw = string(raw)
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}

// moveRaw atomically drops old from the processing list and appends entry to dest.
func (q *Queue) moveRaw(ctx context.Context, old, dest, entry string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, QueueProcessing, 1, old)
		pipe.RPush(ctx, dest, entry)
		return nil
	})
	if err != nil {
		return fmt.Errorf("move job to %s: %w", dest, err)
	}
	return nil
}

// RecoverInflight moves every unacknowledged job back to the front of the pending list. Call it before a
// worker starts consuming; with several workers, a live worker's job may be delivered twice.
func (q *Queue) RecoverInflight(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.client.LMove(ctx, QueueProcessing, QueuePending, "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return n, fmt.Errorf("lmove: %w", err)
		}
		n++
	}
	if n > 0 {
		q.logger.Info("recovered in-flight jobs", zap.Int("count", n))
	}
	return n, nil
}

// Depth reports the length of the pending, processing and dead-letter lists.
type Depth struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Dead       int64 `json:"dead"`
}

// Depth returns the current list lengths.
func (q *Queue) Depth(ctx context.Context) (Depth, error) {
	pipe := q.client.Pipeline()
	pending := pipe.LLen(ctx, QueuePending)
	processing := pipe.LLen(ctx, QueueProcessing)
	dead := pipe.LLen(ctx, QueueDLQ)
	if _, err := pipe.Exec(ctx); err != nil {
		return Depth{}, err
	}
	return Depth{Pending: pending.Val(), Processing: processing.Val(), Dead: dead.Val()}, nil
}
