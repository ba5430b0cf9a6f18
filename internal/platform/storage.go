package platform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/podworks/podworks/internal/domain"
	"github.com/podworks/podworks/internal/pipeline"
)

const depStorage = "storage"

// DiskStore persists generated images on the local filesystem.
// It implements pipeline.ImageStore.
type DiskStore struct {
	dir     string
	baseURL string // optional public prefix for served images
}

func NewDiskStore(dir, baseURL string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	return &DiskStore{dir: dir, baseURL: baseURL}, nil
}

func (s *DiskStore) Save(ctx context.Context, img pipeline.Image) (domain.ImageRef, error) {
	if err := ctx.Err(); err != nil {
		return domain.ImageRef{}, classifyTransport(depStorage, err)
	}

	name := img.ID + extFor(img.Mime)
	path := filepath.Join(s.dir, name)

	// Write-then-rename so readers never see a half-written file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, img.Data, 0o644); err != nil {
		return domain.ImageRef{}, domain.NewTransientError(depStorage, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return domain.ImageRef{}, domain.NewTransientError(depStorage, err)
	}

	ref := domain.ImageRef{ID: img.ID, StorageKey: name}
	if s.baseURL != "" {
		ref.URL = s.baseURL + "/" + name
	}
	return ref, nil
}

func extFor(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
