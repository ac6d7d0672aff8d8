package database

import "time"

// Image is a single node of the lineage forest. Filename is the key of the
// stored bytes in the blob store.
type Image struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	MimeType   string    `json:"mime_type"`
	ParentID   *string   `json:"parent_id"`
	Prompt     *string   `json:"prompt"`
	CreatedAt  time.Time `json:"created_at"`
	IsUploaded bool      `json:"is_uploaded"`
	IsFavorite bool      `json:"is_favorite"`
	IsRejected bool      `json:"is_rejected"`
}

// NewImage carries the caller supplied fields of an image about to be created.
// ID, CreatedAt and the flags are assigned by the store.
type NewImage struct {
	Filename   string
	MimeType   string
	ParentID   *string
	Prompt     *string
	IsUploaded bool
}

// Lineage is an image together with its direct relatives.
type Lineage struct {
	Image    *Image
	Parent   *Image
	Children []*Image
}

// Filter selects which images ListImages returns.
type Filter string

const (
	FilterAll       Filter = "all"
	FilterFavorites Filter = "favorites"
)

// ParseFilter maps query values to a Filter, defaulting to FilterAll.
func ParseFilter(value string) Filter {
	switch value {
	case "favorites", "favorites_only":
		return FilterFavorites
	default:
		return FilterAll
	}
}
