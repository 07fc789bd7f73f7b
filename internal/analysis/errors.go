package analysis

import "errors"

var (
	// ErrConfig marks deployment mistakes detected at startup.
	ErrConfig = errors.New("invalid analysis configuration")
	// ErrSegmentation marks a failed or timed-out segmentation call.
	ErrSegmentation = errors.New("segmentation failed")
	// ErrDepth marks a failed or timed-out depth estimation call.
	ErrDepth = errors.New("depth estimation failed")
	// ErrDegenerateDepth marks a depth grid with no usable samples.
	ErrDegenerateDepth = errors.New("degenerate depth grid")
	// ErrInput marks malformed per-frame input.
	ErrInput = errors.New("invalid analysis input")
)

// IsTransient reports whether err only affects the current frame.
func IsTransient(err error) bool {
	return errors.Is(err, ErrSegmentation) ||
		errors.Is(err, ErrDepth) ||
		errors.Is(err, ErrDegenerateDepth) ||
		errors.Is(err, ErrInput)
}

// Reason returns a short label for metrics and logs.
func Reason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrSegmentation):
		return "segmentation"
	case errors.Is(err, ErrDepth):
		return "depth"
	case errors.Is(err, ErrDegenerateDepth):
		return "degenerate_depth"
	case errors.Is(err, ErrInput):
		return "input"
	case errors.Is(err, ErrConfig):
		return "config"
	default:
		return "other"
	}
}
