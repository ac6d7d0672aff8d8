package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jo-hoe/banano/internal/backend/blobstore"
	"github.com/jo-hoe/banano/internal/backend/cache"
	"github.com/jo-hoe/banano/internal/backend/database"
	"github.com/jo-hoe/banano/internal/backend/imageprocessing"
	"github.com/jo-hoe/banano/internal/backend/provider"
)

// Gallery keeps image rows and their bytes together and invalidates cached
// lineage counts on every write.
type Gallery struct {
	db     database.DatabaseService
	blobs  blobstore.BlobStore
	counts cache.CountCache
}

func NewGallery(db database.DatabaseService, blobs blobstore.BlobStore, counts cache.CountCache) *Gallery {
	if counts == nil {
		counts = cache.NewPassthrough(db)
	}
	return &Gallery{db: db, blobs: blobs, counts: counts}
}

// LoadContent returns the stored bytes of image id.
func (g *Gallery) LoadContent(ctx context.Context, id string) (*provider.Image, error) {
	image, err := g.db.GetImage(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := g.blobs.Get(ctx, image.Filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load content of image %s: %w", id, err)
	}
	mimeType := image.MimeType
	if mimeType == "" {
		mimeType = imageprocessing.DetectMimeType(data)
	}
	return &provider.Image{Data: data, MimeType: mimeType}, nil
}

func (g *Gallery) SaveGenerated(ctx context.Context, parentID *string, prompt string, image *provider.Image) (*database.Image, error) {
	return g.save(ctx, image.Data, image.MimeType, database.NewImage{
		ParentID: parentID,
		Prompt:   &prompt,
	})
}

func (g *Gallery) SaveUpload(ctx context.Context, data []byte, mimeType string) (*database.Image, error) {
	return g.save(ctx, data, mimeType, database.NewImage{IsUploaded: true})
}

func (g *Gallery) save(ctx context.Context, data []byte, mimeType string, image database.NewImage) (*database.Image, error) {
	key := blobstore.NewKey(mimeType)
	if err := g.blobs.Put(ctx, key, data, mimeType); err != nil {
		return nil, fmt.Errorf("%w: failed to store image bytes: %v", database.ErrStorage, err)
	}

	image.Filename = key
	image.MimeType = mimeType
	created, err := g.db.CreateImage(ctx, image)
	if err != nil {
		slog.Error("gallery: image row not created, stored bytes are orphaned", "key", key, "error", err)
		return nil, err
	}
	g.invalidate(ctx)
	return created, nil
}

func (g *Gallery) MarkRejected(ctx context.Context, id string) error {
	if err := g.db.MarkRejected(ctx, id); err != nil {
		return err
	}
	g.invalidate(ctx)
	return nil
}

func (g *Gallery) DescendantCount(ctx context.Context, id string) (int, error) {
	return g.counts.DescendantCount(ctx, id)
}

func (g *Gallery) invalidate(ctx context.Context) {
	if err := g.counts.Invalidate(ctx); err != nil {
		slog.Warn("gallery: failed to invalidate descendant counts", "error", err)
	}
}
