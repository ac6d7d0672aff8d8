package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

type FailureReason string

const (
	ReasonQuotaExceeded   FailureReason = "quota_exceeded"
	ReasonNoImageReturned FailureReason = "no_image_returned"
	ReasonProviderError   FailureReason = "provider_error"
)

// GenerationFailure is the only error kind that leaves the provider boundary.
type GenerationFailure struct {
	Provider string
	Reason   FailureReason
	Err      error
}

func (f *GenerationFailure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: generation failed: %s", f.Provider, f.Reason)
	}
	return fmt.Sprintf("%s: generation failed: %s: %v", f.Provider, f.Reason, f.Err)
}

func (f *GenerationFailure) Unwrap() error {
	return f.Err
}

func newFailure(provider string, reason FailureReason, err error) *GenerationFailure {
	return &GenerationFailure{Provider: provider, Reason: reason, Err: err}
}

// AsFailure returns err as a GenerationFailure, classifying unknown errors as
// provider errors.
func AsFailure(provider string, err error) *GenerationFailure {
	if err == nil {
		return nil
	}
	var failure *GenerationFailure
	if errors.As(err, &failure) {
		return failure
	}
	return newFailure(provider, ReasonProviderError, err)
}

// SafeGenerate calls p and guarantees that every outcome other than an image
// is reported as a *GenerationFailure, including panics inside the provider.
func SafeGenerate(ctx context.Context, p Provider, request Request) (image *Image, err error) {
	name := p.Name()
	defer func() {
		if recovered := recover(); recovered != nil {
			slog.Error("provider: recovered panic during generation", "provider", name, "panic", recovered)
			image = nil
			err = newFailure(name, ReasonProviderError, fmt.Errorf("panic: %v", recovered))
		}
	}()

	image, err = p.Generate(ctx, request)
	if err != nil {
		return nil, AsFailure(name, err)
	}
	if image == nil || len(image.Data) == 0 {
		return nil, newFailure(name, ReasonNoImageReturned, nil)
	}
	return image, nil
}
