// Package manifest builds the HLS master playlist and reads the variant playlists ffmpeg writes.
package manifest

import (
	"strconv"
	"strings"

	"github.com/aura-vod/backend/internal/encoder"
)

const (
	headerLine      = "#EXTM3U"
	versionLine     = "#EXT-X-VERSION:3"
	independentLine = "#EXT-X-INDEPENDENT-SEGMENTS"
)

// BuildMasterManifest renders the multi-variant playlist for variants, in the given order. The output
// depends only on the input, so equal ladders produce byte-identical playlists.
func BuildMasterManifest(variants []encoder.Variant) []byte {
	var b strings.Builder
	b.WriteString(headerLine + "\n")
	b.WriteString(versionLine + "\n")
	b.WriteString(independentLine + "\n")
	for _, v := range variants {
		b.WriteString("#EXT-X-STREAM-INF:BANDWIDTH=")
		b.WriteString(strconv.Itoa(v.Bandwidth))
		b.WriteString(",RESOLUTION=")
		b.WriteString(v.ResolutionLabel)
		b.WriteByte('\n')
		b.WriteString(v.PlaylistName())
		b.WriteByte('\n')
	}
	return []byte(b.String())
}
