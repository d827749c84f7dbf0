package encoder

import "fmt"

// Variant is one rung of the rendition ladder.
type Variant struct {
	Name            string // also the playlist/segment file stem, e.g. "720p"
	Width           int
	Height          int
	VideoBitrate    string // ffmpeg -b:v, e.g. "3000k"
	AudioBitrate    string // ffmpeg -b:a, e.g. "160k"
	Bandwidth       int    // BANDWIDTH advertised in the master playlist
	ResolutionLabel string // RESOLUTION advertised in the master playlist
}

// PlaylistName returns {name}.m3u8.
func (v Variant) PlaylistName() string { return v.Name + ".m3u8" }

// SegmentPattern returns the ffmpeg segment template {name}_%03d.ts.
func (v Variant) SegmentPattern() string { return v.Name + "_%03d.ts" }

// DefaultLadder is the fixed 1080p/720p/480p ladder, highest quality first.
var DefaultLadder = []Variant{
	{Name: "1080p", Width: 1920, Height: 1080, VideoBitrate: "5000k", AudioBitrate: "192k", Bandwidth: 6000000, ResolutionLabel: "1920x1080"},
	{Name: "720p", Width: 1280, Height: 720, VideoBitrate: "3000k", AudioBitrate: "160k", Bandwidth: 3500000, ResolutionLabel: "1280x720"},
	{Name: "480p", Width: 854, Height: 480, VideoBitrate: "1200k", AudioBitrate: "128k", Bandwidth: 1500000, ResolutionLabel: "854x480"},
}

// Names returns the variant names in ladder order.
func Names(ladder []Variant) []string {
	names := make([]string, len(ladder))
	for i, v := range ladder {
		names[i] = v.Name
	}
	return names
}

// ValidateLadder rejects empty ladders, duplicate names and incomplete variants.
func ValidateLadder(ladder []Variant) error {
	if len(ladder) == 0 {
		return fmt.Errorf("rendition ladder is empty")
	}
	seen := make(map[string]struct{}, len(ladder))
	for _, v := range ladder {
		if v.Name == "" || v.Width <= 0 || v.Height <= 0 || v.Bandwidth <= 0 {
			return fmt.Errorf("rendition %q is incomplete", v.Name)
		}
		if _, dup := seen[v.Name]; dup {
			return fmt.Errorf("rendition %q listed twice", v.Name)
		}
		seen[v.Name] = struct{}{}
	}
	return nil
}
