package encoder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScript installs an executable shell script standing in for ffmpeg.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestArgs(t *testing.T) {
	v := DefaultLadder[1]
	f := NewFFmpeg(Config{}, nil)
	assert.Equal(t, "fast", f.preset)
	args := Args(v, f.preset, "/work/in/source", "/work/hls")
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-i /work/in/source")
	assert.Contains(t, joined, "scale=w='min(1280,iw)':h='min(720,ih)':force_original_aspect_ratio=decrease,scale=trunc(iw/2)*2:trunc(ih/2)*2")
	assert.Contains(t, joined, "-c:a aac -b:a 160k")
	assert.Contains(t, joined, "-c:v libx264 -preset fast -profile:v main -b:v 3000k")
	assert.Contains(t, joined, "-sc_threshold 0")
	assert.Contains(t, joined, "-hls_time 6")
	assert.Contains(t, joined, "-hls_playlist_type vod")
	assert.Contains(t, joined, "-hls_segment_filename /work/hls/720p_%03d.ts")
	assert.Equal(t, "/work/hls/720p.m3u8", args[len(args)-1])
}

func TestEncodeSuccess(t *testing.T) {
	out := t.TempDir()
	// The last argument is the playlist path.
	script := writeScript(t, `for last; do :; done
echo "#EXTM3U" > "$last"
`)
	f := NewFFmpeg(Config{Binary: script, Timeout: 5 * time.Second}, nil)

	err := f.Encode(context.Background(), DefaultLadder[2], "/dev/null", out)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(out, "480p.m3u8"))
}

func TestEncodeNonZeroExit(t *testing.T) {
	script := writeScript(t, `echo "Invalid data found when processing input" >&2
exit 3
`)
	f := NewFFmpeg(Config{Binary: script, Timeout: 5 * time.Second}, nil)

	err := f.Encode(context.Background(), DefaultLadder[1], "/dev/null", t.TempDir())
	require.Error(t, err)

	var encErr *Error
	require.True(t, errors.As(err, &encErr))
	assert.Equal(t, "720p", encErr.Variant)
	assert.Equal(t, 3, encErr.ExitCode)
	assert.False(t, encErr.TimedOut)
	assert.Contains(t, err.Error(), "encode 720p: exit status 3")
	assert.Contains(t, err.Error(), "Invalid data found")
}

func TestEncodeTimeout(t *testing.T) {
	script := writeScript(t, "exec sleep 5\n")
	f := NewFFmpeg(Config{Binary: script, Timeout: 200 * time.Millisecond}, nil)

	start := time.Now()
	err := f.Encode(context.Background(), DefaultLadder[0], "/dev/null", t.TempDir())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)

	var encErr *Error
	require.True(t, errors.As(err, &encErr))
	assert.True(t, encErr.TimedOut)
	assert.Contains(t, err.Error(), "timed out")
}

func TestEncodeMissingBinary(t *testing.T) {
	f := NewFFmpeg(Config{Binary: filepath.Join(t.TempDir(), "missing-ffmpeg")}, nil)
	assert.Error(t, f.CheckBinary())
	assert.Error(t, f.Encode(context.Background(), DefaultLadder[0], "/dev/null", t.TempDir()))
}

func TestTailBuffer(t *testing.T) {
	tb := &tailBuffer{max: 8}
	_, _ = tb.Write([]byte("0123456789"))
	_, _ = tb.Write([]byte("ab"))
	assert.Equal(t, "456789ab", tb.String())
}

func TestValidateLadder(t *testing.T) {
	require.NoError(t, ValidateLadder(DefaultLadder))
	assert.Equal(t, []string{"1080p", "720p", "480p"}, Names(DefaultLadder))

	assert.Error(t, ValidateLadder(nil))
	dup := []Variant{DefaultLadder[0], DefaultLadder[0]}
	assert.Error(t, ValidateLadder(dup))
	assert.Error(t, ValidateLadder([]Variant{{Name: "x"}}))
}
