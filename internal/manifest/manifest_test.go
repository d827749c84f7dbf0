package manifest

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-vod/backend/internal/encoder"
)

func TestBuildMasterManifest(t *testing.T) {
	got := string(BuildMasterManifest(encoder.DefaultLadder))
	want := "#EXTM3U\n" +
		"#EXT-X-VERSION:3\n" +
		"#EXT-X-INDEPENDENT-SEGMENTS\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=6000000,RESOLUTION=1920x1080\n" +
		"1080p.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=3500000,RESOLUTION=1280x720\n" +
		"720p.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=1500000,RESOLUTION=854x480\n" +
		"480p.m3u8\n"
	assert.Equal(t, want, got)
}

func TestBuildMasterManifestDeterministic(t *testing.T) {
	a := BuildMasterManifest(encoder.DefaultLadder)
	b := BuildMasterManifest(encoder.DefaultLadder)
	assert.Equal(t, a, b)
}

func TestBuildMasterManifestKeepsOrder(t *testing.T) {
	ladder := []encoder.Variant{encoder.DefaultLadder[2], encoder.DefaultLadder[0]}
	lines := strings.Split(strings.TrimSpace(string(BuildMasterManifest(ladder))), "\n")
	require.Len(t, lines, 7)
	assert.Equal(t, "480p.m3u8", lines[4])
	assert.Equal(t, "1080p.m3u8", lines[6])
}

const vodPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:6
#EXT-X-MEDIA-SEQUENCE:0
#EXT-X-PLAYLIST-TYPE:VOD
#EXTINF:6.000000,
720p_000.ts
#EXTINF:6.000000,
720p_001.ts
#EXTINF:2.500000,
720p_002.ts
#EXT-X-ENDLIST
`

func TestReadMediaPlaylist(t *testing.T) {
	pl, err := ReadMediaPlaylist([]byte(vodPlaylist))
	require.NoError(t, err)
	assert.Equal(t, []string{"720p_000.ts", "720p_001.ts", "720p_002.ts"}, pl.Segments)
	assert.Equal(t, 14500*time.Millisecond, pl.Duration)
}

func TestReadMediaPlaylistRejectsUnfinished(t *testing.T) {
	unfinished := strings.Replace(vodPlaylist, "#EXT-X-ENDLIST\n", "", 1)
	_, err := ReadMediaPlaylist([]byte(unfinished))
	assert.ErrorIs(t, err, ErrNotVOD)
}

func TestReadMediaPlaylistRejectsGarbage(t *testing.T) {
	_, err := ReadMediaPlaylist([]byte("not a playlist"))
	assert.Error(t, err)
}
