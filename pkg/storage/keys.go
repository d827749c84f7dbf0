package storage

import (
	"path"
	"strings"

	"github.com/google/uuid"
)

const (
	// FolderOriginals is the prefix for uploaded source files.
	FolderOriginals = "originals"
	// FolderHLS is the prefix for pipeline output.
	FolderHLS = "hls"
	// MasterPlaylistName is the file name of the multi-variant playlist.
	MasterPlaylistName = "master.m3u8"

	ContentTypePlaylist = "application/vnd.apple.mpegurl"
	ContentTypeSegment  = "video/MP2T"
	contentTypeDefault  = "application/octet-stream"
)

// AllowedVideoTypes maps accepted source MIME types to the extension used in the original key.
var AllowedVideoTypes = map[string]string{
	"video/mp4":        "mp4",
	"video/quicktime":  "mov",
	"video/x-matroska": "mkv",
}

// OriginalKey returns the object key of a source upload: originals/{id}/source.{ext}.
func OriginalKey(id uuid.UUID, ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" {
		ext = "mp4"
	}
	return path.Join(FolderOriginals, id.String(), "source."+ext)
}

// HLSPrefix returns the key prefix holding every HLS artifact of a video, with a trailing slash.
func HLSPrefix(id uuid.UUID) string {
	return path.Join(FolderHLS, id.String()) + "/"
}

// HLSKey returns hls/{id}/{filename}. Only the base name of filename is used.
func HLSKey(id uuid.UUID, filename string) string {
	return path.Join(FolderHLS, id.String(), path.Base(filename))
}

// MasterKey returns hls/{id}/master.m3u8.
func MasterKey(id uuid.UUID) string {
	return HLSKey(id, MasterPlaylistName)
}

// ContentTypeForKey returns the MIME type served for an HLS artifact key.
func ContentTypeForKey(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".m3u8":
		return ContentTypePlaylist
	case ".ts":
		return ContentTypeSegment
	default:
		return contentTypeDefault
	}
}

// IsHLSFilename reports whether name is a plain playlist or segment file name (no directories).
func IsHLSFilename(name string) bool {
	if name == "" || name != path.Base(name) || strings.HasPrefix(name, ".") {
		return false
	}
	ext := strings.ToLower(path.Ext(name))
	return ext == ".m3u8" || ext == ".ts"
}
