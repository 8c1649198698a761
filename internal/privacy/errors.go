package privacy

import "errors"

var (
	ErrConsentDenied  = errors.New("consent denied")
	ErrInvalidConsent = errors.New("invalid consent request")
	ErrMissingSalt    = errors.New("anonymization requires a salt")
	ErrNilExperience  = errors.New("nil experience")
)
