package imageprocessing

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/disintegration/imaging"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const DefaultThumbnailWidth = 320

// Thumbnailer scales an image down to a fixed width and encodes it as PNG.
// Images already narrower than the width keep their size.
type Thumbnailer struct {
	width int
}

func NewThumbnailer(width int) *Thumbnailer {
	if width <= 0 {
		width = DefaultThumbnailWidth
	}
	return &Thumbnailer{width: width}
}

func (t *Thumbnailer) Type() string {
	return "Thumbnailer"
}

func (t *Thumbnailer) ProcessImage(imageData []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(imageData), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > t.width {
		img = imaging.Resize(img, t.width, 0, imaging.Lanczos)
	}
	slog.Debug("Thumbnailer: resized image",
		"orig_width", bounds.Dx(), "orig_height", bounds.Dy(),
		"width", img.Bounds().Dx(), "height", img.Bounds().Dy())

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// Thumbnail renders a PNG thumbnail of any supported input, SVG included.
func Thumbnail(imageData []byte, width int) ([]byte, error) {
	return NewPipeline(NewSVGRasterizer(0, 0), NewThumbnailer(width)).ProcessImage(imageData)
}
