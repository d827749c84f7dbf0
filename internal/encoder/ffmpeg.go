// Package encoder runs ffmpeg to produce one HLS rendition per call.
package encoder

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultTimeout bounds a single rendition encode.
	DefaultTimeout = time.Hour
	// SegmentSeconds is the HLS target segment duration.
	SegmentSeconds = 6

	defaultPreset   = "fast"
	stderrTailBytes = 2048
	waitDelay       = 10 * time.Second
)

// Error describes a failed or timed out encode.
type Error struct {
	Variant  string
	ExitCode int
	TimedOut bool
	Timeout  time.Duration
	Stderr   string // tail of ffmpeg's stderr
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "encode %s: ", e.Variant)
	switch {
	case e.TimedOut:
		fmt.Fprintf(&b, "timed out after %s", e.Timeout)
	case e.ExitCode > 0:
		fmt.Fprintf(&b, "exit status %d", e.ExitCode)
	default:
		b.WriteString(e.Err.Error())
	}
	if e.Stderr != "" {
		b.WriteString(": ")
		b.WriteString(e.Stderr)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Config holds ffmpeg settings.
type Config struct {
	Binary  string        // path or name of the ffmpeg binary
	Preset  string        // x264 preset
	Timeout time.Duration // wall-clock bound per variant
}

// FFmpeg encodes renditions by spawning ffmpeg. It never retries.
type FFmpeg struct {
	binary  string
	preset  string
	timeout time.Duration
	logger  *zap.Logger
}

// NewFFmpeg creates an encoder; zero config fields fall back to ffmpeg on PATH, the fast preset and one hour.
func NewFFmpeg(cfg Config, logger *zap.Logger) *FFmpeg {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Binary == "" {
		cfg.Binary = "ffmpeg"
	}
	if cfg.Preset == "" {
		cfg.Preset = defaultPreset
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &FFmpeg{binary: cfg.Binary, preset: cfg.Preset, timeout: cfg.Timeout, logger: logger}
}

// CheckBinary verifies the ffmpeg binary can be resolved.
func (f *FFmpeg) CheckBinary() error {
	if _, err := exec.LookPath(f.binary); err != nil {
		return fmt.Errorf("ffmpeg binary %q: %w", f.binary, err)
	}
	return nil
}

// Args builds the ffmpeg argument list for one variant. Output is {outputDir}/{name}.m3u8 plus
// {outputDir}/{name}_NNN.ts segments.
func Args(v Variant, preset, inputPath, outputDir string) []string {
	// Fit inside WxH without upscaling, keep aspect ratio, then round both sides down to even pixels.
	filter := fmt.Sprintf(
		"scale=w='min(%d,iw)':h='min(%d,ih)':force_original_aspect_ratio=decrease,scale=trunc(iw/2)*2:trunc(ih/2)*2",
		v.Width, v.Height,
	)
	return []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-y", "-i", inputPath,
		"-vf", filter,
		"-c:a", "aac", "-b:a", v.AudioBitrate,
		"-c:v", "libx264", "-preset", preset, "-profile:v", "main", "-b:v", v.VideoBitrate,
		"-sc_threshold", "0",
		"-f", "hls",
		"-hls_time", fmt.Sprintf("%d", SegmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(outputDir, v.SegmentPattern()),
		filepath.Join(outputDir, v.PlaylistName()),
	}
}

// Encode transcodes inputPath into outputDir for one variant. A non-zero exit, a timeout or a
// cancelled ctx is returned as *Error.
func (f *FFmpeg) Encode(ctx context.Context, v Variant, inputPath, outputDir string) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	args := Args(v, f.preset, inputPath, outputDir)
	cmd := exec.CommandContext(ctx, f.binary, args...)
	cmd.WaitDelay = waitDelay
	stderr := &tailBuffer{max: stderrTailBytes}
	cmd.Stderr = stderr

	f.logger.Info("encode started", zap.String("variant", v.Name), zap.String("input", inputPath))
	start := time.Now()
	err := cmd.Run()
	if err == nil {
		f.logger.Info("encode finished", zap.String("variant", v.Name), zap.Duration("duration", time.Since(start)))
		return nil
	}

	encErr := &Error{Variant: v.Name, Stderr: stderr.String(), Err: err}
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		encErr.TimedOut = true
		encErr.Timeout = f.timeout
		encErr.Err = context.DeadlineExceeded
	case ctx.Err() != nil:
		encErr.Err = ctx.Err()
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			encErr.ExitCode = exitErr.ExitCode()
		}
	}
	f.logger.Warn("encode failed",
		zap.String("variant", v.Name),
		zap.Duration("duration", time.Since(start)),
		zap.Error(encErr),
	)
	return encErr
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return strings.TrimSpace(string(t.buf))
}
