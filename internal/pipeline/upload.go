package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-vod/backend/internal/encoder"
	"github.com/aura-vod/backend/internal/manifest"
	"github.com/aura-vod/backend/pkg/storage"
)

// uploadItem maps a workspace file to its object key.
type uploadItem struct {
	path string
	key  string
}

// planUpload reads every variant playlist in ladder order and lists the files to upload: each variant's
// segments, then its playlist, and finally the master playlist. A missing or unfinished variant playlist is
// an encode failure.
func planUpload(id uuid.UUID, ladder []encoder.Variant, outDir string) ([]uploadItem, error) {
	var items []uploadItem
	for _, v := range ladder {
		playlistPath := filepath.Join(outDir, v.PlaylistName())
		data, err := os.ReadFile(playlistPath)
		if err != nil {
			return nil, stageErr(StageManifest, ErrEncode, fmt.Errorf("variant %s produced no playlist: %w", v.Name, err))
		}
		media, err := manifest.ReadMediaPlaylist(data)
		if err != nil {
			return nil, stageErr(StageManifest, ErrEncode, fmt.Errorf("variant %s: %w", v.Name, err))
		}
		for _, seg := range media.Segments {
			segPath := filepath.Join(outDir, seg)
			if _, err := os.Stat(segPath); err != nil {
				return nil, stageErr(StageManifest, ErrEncode, fmt.Errorf("variant %s: segment %s missing", v.Name, seg))
			}
			items = append(items, uploadItem{path: segPath, key: storage.HLSKey(id, seg)})
		}
		items = append(items, uploadItem{path: playlistPath, key: storage.HLSKey(id, v.PlaylistName())})
	}

	masterPath := filepath.Join(outDir, storage.MasterPlaylistName)
	if err := os.WriteFile(masterPath, manifest.BuildMasterManifest(ladder), 0o644); err != nil {
		return nil, stageErr(StageManifest, ErrStorage, fmt.Errorf("write master playlist: %w", err))
	}
	items = append(items, uploadItem{path: masterPath, key: storage.MasterKey(id)})
	return items, nil
}

// upload puts items strictly in order under a single deadline.
func (p *Pipeline) upload(ctx context.Context, items []uploadItem) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.UploadTimeout)
	defer cancel()

	start := time.Now()
	for _, it := range items {
		if err := p.putFile(ctx, it); err != nil {
			return stageErr(StageUpload, ErrStorage, err)
		}
	}
	p.logger.Debug("artifacts uploaded", zap.Int("objects", len(items)), zap.Duration("duration", time.Since(start)))
	return nil
}

func (p *Pipeline) putFile(ctx context.Context, it uploadItem) error {
	f, err := os.Open(it.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(it.path), err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", filepath.Base(it.path), err)
	}
	if err := p.objects.Put(ctx, it.key, storage.ContentTypeForKey(it.key), f, info.Size()); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("put %s: upload deadline of %s exceeded: %w", it.key, p.cfg.UploadTimeout, err)
		}
		return fmt.Errorf("put %s: %w", it.key, err)
	}
	return nil
}
