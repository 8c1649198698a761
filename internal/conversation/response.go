package conversation

import "time"

// Metadata keys set on responses.
const (
	MetaFallback        = "fallback"
	MetaActionKind      = "action_kind"
	MetaStrategy        = "strategy"
	MetaContentWarnings = "content_warnings"
	MetaTruncated       = "truncated"
	MetaPadded          = "padded"
)

// Fallback causes recorded under MetaFallback.
const (
	FallbackError   = "error"
	FallbackTimeout = "timeout"
	FallbackSafety  = "safety"
)

// Response is returned to the caller for every submitted turn.
type Response struct {
	Text                   string            `json:"text"`
	Confidence             float64           `json:"confidence"`
	SafetyScore            float64           `json:"safety_score"`
	PersonalizationApplied bool              `json:"personalization_applied"`
	ProcessingTime         time.Duration     `json:"processing_time"`
	Metadata               map[string]string `json:"metadata,omitempty"`
}

// IsFallback reports whether the response was substituted.
func (r *Response) IsFallback() bool {
	_, ok := r.Metadata[MetaFallback]
	return ok
}

// FallbackCause returns the recorded fallback cause or "".
func (r *Response) FallbackCause() string {
	return r.Metadata[MetaFallback]
}
