package database

import "context"

type DatabaseService interface {
	CreateDatabase() error
	DoesDatabaseExist() bool
	Close() error

	// CreateImage persists a new image. It fails with ErrStorage when ParentID
	// does not reference an existing image.
	CreateImage(ctx context.Context, image NewImage) (*Image, error)
	GetImage(ctx context.Context, id string) (*Image, error)
	// ListImages returns non-rejected images, newest first.
	ListImages(ctx context.Context, filter Filter) ([]*Image, error)
	GetImageWithLineage(ctx context.Context, id string) (*Lineage, error)
	// ToggleFavorite flips the favorite flag and returns the new value.
	ToggleFavorite(ctx context.Context, id string) (bool, error)
	// MarkRejected sets the one-way rejected flag.
	MarkRejected(ctx context.Context, id string) error
	// DescendantCount counts the transitive non-rejected children of id.
	DescendantCount(ctx context.Context, id string) (int, error)
	// LoadForest reads the parent pointers of all images for in-memory counting.
	LoadForest(ctx context.Context) (*Forest, error)
}
