package blobstore

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ErrBlobNotFound is returned when no object is stored under a key.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore persists raw image bytes addressed by an opaque key.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

var extensionsByMime = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
	"image/tiff": ".tiff",
}

var mimesByExtension = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"webp": "image/webp",
	"bmp":  "image/bmp",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
}

// NewKey returns a fresh random key carrying the extension of mimeType.
func NewKey(mimeType string) string {
	return uuid.NewString() + ExtensionForMime(mimeType)
}

// ExtensionForMime defaults to ".jpg" for unknown types.
func ExtensionForMime(mimeType string) string {
	if ext, ok := extensionsByMime[strings.ToLower(mimeType)]; ok {
		return ext
	}
	return ".jpg"
}

// MimeForKey derives the content type from the key extension, defaulting to image/jpeg.
func MimeForKey(key string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(key)), ".")
	if mimeType, ok := mimesByExtension[ext]; ok {
		return mimeType
	}
	return "image/jpeg"
}

func validKey(key string) bool {
	return key != "" && key != "." && key != ".." &&
		!strings.ContainsAny(key, `/\`) && !strings.HasPrefix(key, ".")
}
