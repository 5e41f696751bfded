package common

import (
	"errors"
	"fmt"
)

// Error kinds shared by the imagery pipeline. Detail is attached with
// fmt.Errorf("%w: ...") so callers can branch with errors.Is.
var (
	// ErrInvalidBBox is returned for non-finite or degenerate bounding boxes
	ErrInvalidBBox = errors.New("invalid bounding box")

	// ErrTileFetch is a network or HTTP failure while loading a tile
	ErrTileFetch = errors.New("tile fetch failed")

	// ErrTileTimeout is a tile request that exceeded its time box. It also
	// matches ErrTileFetch.
	ErrTileTimeout = fmt.Errorf("%w: timed out", ErrTileFetch)

	// ErrCoverage means too many tiles were missing to trust the mosaic
	ErrCoverage = errors.New("insufficient imagery coverage")

	// ErrRenderTarget means the mosaic canvas or preview encoder is unavailable
	ErrRenderTarget = errors.New("render target unavailable")

	// ErrAllPixelsMasked means every pixel was excluded by the masking rules
	ErrAllPixelsMasked = errors.New("all pixels masked")

	// ErrNoCoverage means no historical snapshot produced a usable tile
	ErrNoCoverage = errors.New("no snapshot coverage")

	// ErrStale is returned when a newer request superseded this one
	ErrStale = errors.New("superseded by newer request")

	// ErrInvalidRequest is a request missing the inputs an operation needs
	ErrInvalidRequest = errors.New("invalid request")
)

// IsRetryable reports whether a mosaic attempt that failed with err may be
// retried at a coarser zoom
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTileFetch) ||
		errors.Is(err, ErrCoverage)
}
