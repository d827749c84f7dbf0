// Package events carries video status changes over Redis pub/sub to websocket clients.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aura-vod/backend/internal/models"
)

const (
	channelPrefix  = "video:"
	publishTimeout = 5 * time.Second

	// EventStatus is the event name of status changes.
	EventStatus = "status"
)

// StatusEvent describes a persisted status of a video.
type StatusEvent struct {
	VideoID       uuid.UUID          `json:"video_id"`
	Status        models.VideoStatus `json:"status"`
	Version       int64              `json:"version"`
	Renditions    []string           `json:"renditions,omitempty"`
	FailureReason string             `json:"failure_reason,omitempty"`
	At            int64              `json:"at"`
}

// NewStatusEvent builds the event for v's current state.
func NewStatusEvent(v *models.Video) StatusEvent {
	return StatusEvent{
		VideoID:       v.ID,
		Status:        v.Status,
		Version:       v.Version,
		Renditions:    v.Renditions,
		FailureReason: v.FailureReason,
		At:            time.Now().Unix(),
	}
}

// Channel returns the Redis channel of a video: video:{id}.
func Channel(id uuid.UUID) string {
	return channelPrefix + id.String()
}

// Publisher publishes status events and subscribes to them.
type Publisher struct {
	client *redis.Client
	logger *zap.Logger
}

// NewPublisher creates a Redis pub/sub bridge for video status events.
func NewPublisher(client *redis.Client, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{client: client, logger: logger}
}

// Notify publishes v's status. Failures are logged, never returned.
func (p *Publisher) Notify(ctx context.Context, v *models.Video) {
	if err := p.Publish(ctx, NewStatusEvent(v)); err != nil {
		p.logger.Warn("publish status event failed", zap.String("video_id", v.ID.String()), zap.Error(err))
	}
}

// Publish sends ev on the video's channel.
func (p *Publisher) Publish(ctx context.Context, ev StatusEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return p.client.Publish(ctx, Channel(ev.VideoID), body).Err()
}

// Subscribe calls handler for every event on the video's channel until cancel is called or ctx is done.
// The subscription is active when Subscribe returns.
func (p *Publisher) Subscribe(ctx context.Context, id uuid.UUID, handler func(StatusEvent)) (cancel func(), err error) {
	ctx, cancelCtx := context.WithCancel(ctx)
	pubsub := p.client.Subscribe(ctx, Channel(id))
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev StatusEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					p.logger.Debug("ignoring malformed event", zap.String("channel", msg.Channel))
					continue
				}
				handler(ev)
			}
		}
	}()
	return cancelCtx, nil
}
