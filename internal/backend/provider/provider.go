package provider

import (
	"context"
)

// Image is raw image bytes together with their MIME type.
type Image struct {
	Data     []byte
	MimeType string
}

// Options tune a single generation call. A nil Temperature leaves the
// provider default in place; an empty or "auto" AspectRatio does the same.
type Options struct {
	Temperature *float64
	AspectRatio string
}

// Request is one generation attempt. When Reference is set the provider
// conditions on it (edit or variation) instead of generating from scratch.
type Request struct {
	Prompt    string
	Reference *Image
	Options   Options
}

// Provider is the uniform contract over every generation backend.
type Provider interface {
	Name() string
	Generate(ctx context.Context, request Request) (*Image, error)
}

const AspectRatioAuto = "auto"

// AspectRatios lists the ratios accepted on generation requests.
var AspectRatios = []string{"1:1", "3:4", "9:16", "4:3", "16:9", AspectRatioAuto}
