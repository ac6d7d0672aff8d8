package imageprocessing

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log/slog"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

const (
	DefaultSVGWidth  = 1024
	DefaultSVGHeight = 1024
)

// SVGRasterizer renders SVG input to PNG and passes other formats through.
// The fallback size is used when the document has no explicit width and height.
type SVGRasterizer struct {
	fallbackWidth  int
	fallbackHeight int
}

func NewSVGRasterizer(fallbackWidth, fallbackHeight int) *SVGRasterizer {
	if fallbackWidth <= 0 {
		fallbackWidth = DefaultSVGWidth
	}
	if fallbackHeight <= 0 {
		fallbackHeight = DefaultSVGHeight
	}
	return &SVGRasterizer{fallbackWidth: fallbackWidth, fallbackHeight: fallbackHeight}
}

func (r *SVGRasterizer) Type() string {
	return "SVGRasterizer"
}

func (r *SVGRasterizer) ProcessImage(imageData []byte) ([]byte, error) {
	if !isSVGData(imageData) {
		return imageData, nil
	}
	width, height, ok := parseSVGExplicitSize(imageData)
	if !ok {
		width, height = r.fallbackWidth, r.fallbackHeight
		slog.Debug("SVGRasterizer: SVG lacks explicit size; using fallback", "width", width, "height", height)
	}
	out, err := renderSVGToPNG(imageData, width, height)
	if err != nil {
		return nil, fmt.Errorf("failed to render SVG to PNG: %w", err)
	}
	return out, nil
}

// parseSVGExplicitSize reads the width and height attributes of the root element.
func parseSVGExplicitSize(data []byte) (int, int, bool) {
	n := len(data)
	if n > 8192 {
		n = 8192
	}
	s := strings.ToLower(string(data[:n]))
	i := strings.Index(s, "<svg")
	if i < 0 {
		return 0, 0, false
	}
	j := strings.Index(s[i:], ">")
	if j < 0 {
		j = len(s)
	} else {
		j = i + j
	}
	tag := s[i:j]

	w, wOk := parseNumericAttr(tag, "width")
	h, hOk := parseNumericAttr(tag, "height")
	if wOk && hOk {
		return w, h, true
	}
	return 0, 0, false
}

// parseNumericAttr extracts the leading integer of a quoted attribute value, e.g. width="123px".
func parseNumericAttr(tag, attr string) (int, bool) {
	pos := strings.Index(tag, " "+attr+"=")
	if pos < 0 {
		return 0, false
	}
	rest := tag[pos+len(attr)+2:]
	if rest == "" || (rest[0] != '"' && rest[0] != '\'') {
		return 0, false
	}
	quote := rest[0]
	value := rest[1:]
	if end := strings.IndexByte(value, quote); end >= 0 {
		value = value[:end]
	}

	num := 0
	found := false
	for i := 0; i < len(value); i++ {
		ch := value[i]
		if ch < '0' || ch > '9' {
			break
		}
		found = true
		num = num*10 + int(ch-'0')
	}
	if !found || num <= 0 {
		return 0, false
	}
	return num, true
}

func renderSVGToPNG(svgData []byte, targetW, targetH int) ([]byte, error) {
	if targetW <= 0 || targetH <= 0 {
		return nil, fmt.Errorf("invalid target dimensions for SVG rendering: %dx%d", targetW, targetH)
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(svgData))
	if err != nil {
		return nil, fmt.Errorf("failed to parse SVG: %w", err)
	}
	icon.SetTarget(0, 0, float64(targetW), float64(targetH))

	dst := createCanvas(targetW, targetH, color.RGBA{255, 255, 255, 255})
	scanner := rasterx.NewScannerGV(targetW, targetH, dst, dst.Bounds())
	dasher := rasterx.NewDasher(targetW, targetH, scanner)
	icon.Draw(dasher, 1.0)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("failed to encode rendered SVG as PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func createCanvas(w, h int, bg color.Color) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{bg}, image.Point{}, draw.Src)
	return dst
}
