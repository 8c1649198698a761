package reward

import "errors"

var (
	ErrInvalidWeights     = errors.New("invalid reward weights")
	ErrInvalidPreferences = errors.New("invalid weight preferences")
)
