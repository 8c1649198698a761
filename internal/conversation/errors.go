package conversation

import "errors"

var (
	ErrUnknownActionKind = errors.New("unknown action kind")
	ErrInvalidFeedback   = errors.New("invalid feedback event")
)
