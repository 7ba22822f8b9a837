package pool

import (
	"errors"
	"fmt"
)

// Sentinel causes for ImageUploadError, matched with errors.Is.
var (
	ErrBadImage      = errors.New("pool: image handle does not refer to a live image")
	ErrNoData        = errors.New("pool: image has no data bound yet")
	ErrBadGpu        = errors.New("pool: gpu resource handle does not refer to a live resource")
	ErrBadDescriptor = errors.New("pool: descriptor is not internally consistent")
	ErrInactiveGpu   = errors.New("pool: no device is selected, or it is currently borrowed by another operation")
)

// ImageUploadError reports why Pool.Upload could not move an image's data
// onto the GPU, wrapping one of the sentinels above with the operation's
// context.
type ImageUploadError struct {
	Cause   error
	Context string
}

func (e *ImageUploadError) Error() string {
	return fmt.Sprintf("pool: upload failed: %s: %v", e.Context, e.Cause)
}

func (e *ImageUploadError) Unwrap() error { return e.Cause }

func uploadErr(cause error, context string) error {
	return &ImageUploadError{Cause: cause, Context: context}
}
