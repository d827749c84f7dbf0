package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// VideoStatus represents the transcoding lifecycle of a video.
type VideoStatus string

const (
	VideoStatusQueued     VideoStatus = "queued"
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusReady      VideoStatus = "ready"
	VideoStatusFailed     VideoStatus = "failed"
)

// Field limits enforced at intake.
const (
	MaxTitleLength       = 150
	MaxDescriptionLength = 1000
)

// ErrInvalidTransition is returned when a status change is not allowed from the current status.
var ErrInvalidTransition = errors.New("invalid status transition")

// Video is an uploaded source file and the state of its HLS rendition set.
//
// HLSPath and Renditions are set only while Status is ready; FailureReason only while Status is failed.
// Version is the run token: it changes whenever a new source is accepted, and pipeline writes are
// conditional on it.
type Video struct {
	ID            uuid.UUID   `json:"id"`
	Title         string      `json:"title,omitempty"`
	Description   string      `json:"description,omitempty"`
	OriginalPath  string      `json:"original_path"`
	HLSPath       string      `json:"hls_path,omitempty"`
	Renditions    []string    `json:"renditions,omitempty"`
	Status        VideoStatus `json:"status"`
	FailureReason string      `json:"failure_reason,omitempty"`
	SizeBytes     int64       `json:"size_bytes"`
	ContentType   string      `json:"content_type,omitempty"`
	Version       int64       `json:"version"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// SourceFile describes a newly accepted original upload.
type SourceFile struct {
	Path        string
	SizeBytes   int64
	ContentType string
}

// NewVideo returns a queued video for a freshly stored source.
func NewVideo(id uuid.UUID, title, description string, src SourceFile) *Video {
	return &Video{
		ID:           id,
		Title:        title,
		Description:  description,
		OriginalPath: src.Path,
		Status:       VideoStatusQueued,
		SizeBytes:    src.SizeBytes,
		ContentType:  src.ContentType,
		Version:      1,
	}
}

// StartProcessing moves a queued video to processing. Repeating it on a processing video is allowed so a
// redelivered job can resume after a crashed attempt.
func (v *Video) StartProcessing() error {
	switch v.Status {
	case VideoStatusQueued, VideoStatusProcessing:
		v.Status = VideoStatusProcessing
		return nil
	default:
		return transitionError(v.Status, VideoStatusProcessing)
	}
}

// Complete publishes the rendition set.
func (v *Video) Complete(hlsPath string, renditions []string) error {
	if v.Status != VideoStatusProcessing {
		return transitionError(v.Status, VideoStatusReady)
	}
	if hlsPath == "" || len(renditions) == 0 {
		return fmt.Errorf("complete video %s: hls path and renditions are required", v.ID)
	}
	v.Status = VideoStatusReady
	v.HLSPath = hlsPath
	v.Renditions = append([]string(nil), renditions...)
	v.FailureReason = ""
	return nil
}

// Fail records a terminal pipeline failure.
func (v *Video) Fail(reason string) error {
	if v.Status != VideoStatusProcessing && v.Status != VideoStatusQueued {
		return transitionError(v.Status, VideoStatusFailed)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "transcoding failed"
	}
	v.Status = VideoStatusFailed
	v.FailureReason = reason
	v.HLSPath = ""
	v.Renditions = nil
	return nil
}

// Requeue accepts a replacement source and restarts the lifecycle from any status.
func (v *Video) Requeue(src SourceFile) {
	v.OriginalPath = src.Path
	v.SizeBytes = src.SizeBytes
	v.ContentType = src.ContentType
	v.Status = VideoStatusQueued
	v.HLSPath = ""
	v.Renditions = nil
	v.FailureReason = ""
	v.Version++
}

// IsTerminal reports whether the pipeline has finished with this version of the video.
func (v *Video) IsTerminal() bool {
	return v.Status == VideoStatusReady || v.Status == VideoStatusFailed
}

func transitionError(from, to VideoStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// ValidStatus reports whether s is a known status.
func ValidStatus(s string) bool {
	switch VideoStatus(s) {
	case VideoStatusQueued, VideoStatusProcessing, VideoStatusReady, VideoStatusFailed:
		return true
	}
	return false
}
