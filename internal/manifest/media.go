package manifest

import (
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
)

// ErrNotVOD is returned for playlists that are not finished media playlists.
var ErrNotVOD = errors.New("playlist is not a complete VOD media playlist")

// MediaPlaylist is the part of a variant playlist the pipeline needs.
type MediaPlaylist struct {
	Segments []string // segment URIs in playback order
	Duration time.Duration
}

// ReadMediaPlaylist parses a variant playlist and lists its segments. The playlist must be a media
// playlist carrying EXT-X-ENDLIST, at least one segment, and only plain relative segment file names.
func ReadMediaPlaylist(data []byte) (*MediaPlaylist, error) {
	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("parse playlist: %w", err)
	}
	media, ok := pl.(*playlist.Media)
	if !ok {
		return nil, fmt.Errorf("%w: got a multivariant playlist", ErrNotVOD)
	}
	if !media.Endlist {
		return nil, fmt.Errorf("%w: missing EXT-X-ENDLIST", ErrNotVOD)
	}
	if len(media.Segments) == 0 {
		return nil, fmt.Errorf("%w: no segments", ErrNotVOD)
	}
	out := &MediaPlaylist{Segments: make([]string, 0, len(media.Segments))}
	for _, seg := range media.Segments {
		if seg.URI == "" || seg.URI != path.Base(seg.URI) {
			return nil, fmt.Errorf("unexpected segment uri %q", seg.URI)
		}
		out.Segments = append(out.Segments, seg.URI)
		out.Duration += seg.Duration
	}
	return out, nil
}
