package imageprocessing

import (
	"bytes"
	"errors"
	"fmt"
	"image"
)

var ErrUnsupportedImage = errors.New("unsupported image")

// Upload is a normalized user upload ready to be stored.
type Upload struct {
	Data     []byte
	MimeType string
}

// NormalizeUpload rasterizes SVG uploads to PNG and verifies that every other
// upload decodes as a supported raster format.
func NormalizeUpload(data []byte) (*Upload, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrUnsupportedImage)
	}
	if isSVGData(data) {
		out, err := NewSVGRasterizer(0, 0).ProcessImage(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
		}
		return &Upload{Data: out, MimeType: "image/png"}, nil
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	return &Upload{Data: data, MimeType: "image/" + format}, nil
}
