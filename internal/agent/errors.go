package agent

import "errors"

var (
	// ErrInferenceFailed wraps failures of the inference capability,
	// including invalid distributions.
	ErrInferenceFailed = errors.New("inference failed")

	// ErrRenderFailed wraps failures of the text renderer.
	ErrRenderFailed = errors.New("render failed")

	errPanic = errors.New("pipeline panic")
)
