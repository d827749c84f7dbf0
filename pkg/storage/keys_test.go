package storage

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestKeyLayout(t *testing.T) {
	id := uuid.MustParse("7f1d2c9e-0a4b-4c55-9a1e-2b3c4d5e6f70")

	assert.Equal(t, "originals/7f1d2c9e-0a4b-4c55-9a1e-2b3c4d5e6f70/source.mp4", OriginalKey(id, ".MP4"))
	assert.Equal(t, "originals/7f1d2c9e-0a4b-4c55-9a1e-2b3c4d5e6f70/source.mp4", OriginalKey(id, ""))
	assert.Equal(t, "hls/7f1d2c9e-0a4b-4c55-9a1e-2b3c4d5e6f70/", HLSPrefix(id))
	assert.Equal(t, "hls/7f1d2c9e-0a4b-4c55-9a1e-2b3c4d5e6f70/720p_003.ts", HLSKey(id, "/tmp/work/hls/720p_003.ts"))
	assert.Equal(t, "hls/7f1d2c9e-0a4b-4c55-9a1e-2b3c4d5e6f70/master.m3u8", MasterKey(id))
}

func TestContentTypeForKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"hls/x/master.m3u8", "application/vnd.apple.mpegurl"},
		{"hls/x/720p.M3U8", "application/vnd.apple.mpegurl"},
		{"hls/x/720p_000.ts", "video/MP2T"},
		{"hls/x/720p_000.TS", "video/MP2T"},
		{"hls/x/poster.jpg", "application/octet-stream"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ContentTypeForKey(tt.key), tt.key)
	}
}

func TestIsHLSFilename(t *testing.T) {
	assert.True(t, IsHLSFilename("master.m3u8"))
	assert.True(t, IsHLSFilename("480p_012.ts"))
	assert.False(t, IsHLSFilename("../originals/source.mp4"))
	assert.False(t, IsHLSFilename("sub/720p.m3u8"))
	assert.False(t, IsHLSFilename(".m3u8"))
	assert.False(t, IsHLSFilename("source.mp4"))
}

func TestParseContentRange(t *testing.T) {
	off, total := parseContentRange("bytes 100-199/1000", 100)
	assert.Equal(t, int64(100), off)
	assert.Equal(t, int64(1000), total)

	off, total = parseContentRange("bytes 0-9/*", 10)
	assert.Equal(t, int64(0), off)
	assert.Equal(t, int64(10), total)
}
