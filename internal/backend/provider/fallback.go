package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Fallback tries its variants in order and returns the first image produced.
type Fallback struct {
	name     string
	variants []Provider
}

func NewFallback(name string, variants ...Provider) (*Fallback, error) {
	if len(variants) == 0 {
		return nil, fmt.Errorf("provider %s needs at least one variant", name)
	}
	return &Fallback{name: name, variants: variants}, nil
}

func (f *Fallback) Name() string {
	return f.name
}

func (f *Fallback) Generate(ctx context.Context, request Request) (*Image, error) {
	var last *GenerationFailure
	errs := make([]error, 0, len(f.variants))
	for _, variant := range f.variants {
		image, err := SafeGenerate(ctx, variant, request)
		if err == nil {
			return image, nil
		}
		last = AsFailure(variant.Name(), err)
		errs = append(errs, last)
		slog.Warn("provider: variant failed", "provider", f.name, "variant", variant.Name(), "reason", last.Reason, "error", last.Err)
	}
	return nil, newFailure(f.name, last.Reason, errors.Join(errs...))
}
