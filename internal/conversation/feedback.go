package conversation

import (
	"fmt"
	"time"
)

// FeedbackKind distinguishes the feedback signals the reward model consumes.
type FeedbackKind string

const (
	FeedbackRating     FeedbackKind = "explicit_rating"
	FeedbackText       FeedbackKind = "explicit_text"
	FeedbackEngagement FeedbackKind = "implicit_engagement"
	FeedbackQuality    FeedbackKind = "quality_assessment"
)

// Engagement holds implicit interaction signals.
type Engagement struct {
	TimeOnResponseSeconds float64 `json:"time_on_response_seconds"`
	FollowUpQuestion      bool    `json:"follow_up_question"`
	Copied                bool    `json:"copied"`
	ScrollDepth           float64 `json:"scroll_depth"`
}

// FeedbackEvent is one signal about a turn, tagged with the conversation,
// turn, and user it refers to.
type FeedbackEvent struct {
	Kind           FeedbackKind       `json:"kind"`
	ConversationID string             `json:"conversation_id"`
	TurnIndex      int                `json:"turn_index"`
	UserID         string             `json:"user_id"`
	Rating         int                `json:"rating,omitempty"`
	Text           string             `json:"text,omitempty"`
	Engagement     *Engagement        `json:"engagement,omitempty"`
	Quality        map[string]float64 `json:"quality,omitempty"`
	Timestamp      time.Time          `json:"timestamp"`
}

// Validate checks that the payload matches the kind.
func (e FeedbackEvent) Validate() error {
	if e.ConversationID == "" {
		return fmt.Errorf("%w: conversation_id is required", ErrInvalidFeedback)
	}
	if e.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidFeedback)
	}
	if e.TurnIndex < 0 {
		return fmt.Errorf("%w: turn_index must be >= 0", ErrInvalidFeedback)
	}

	switch e.Kind {
	case FeedbackRating:
		if e.Rating < 1 || e.Rating > 5 {
			return fmt.Errorf("%w: rating must be 1-5, got %d", ErrInvalidFeedback, e.Rating)
		}
	case FeedbackText:
		if e.Text == "" {
			return fmt.Errorf("%w: text feedback is empty", ErrInvalidFeedback)
		}
	case FeedbackEngagement:
		if e.Engagement == nil {
			return fmt.Errorf("%w: engagement metrics missing", ErrInvalidFeedback)
		}
	case FeedbackQuality:
		if len(e.Quality) == 0 {
			return fmt.Errorf("%w: quality scores missing", ErrInvalidFeedback)
		}
		for k, v := range e.Quality {
			if v < 0 || v > 1 {
				return fmt.Errorf("%w: quality %q out of range: %v", ErrInvalidFeedback, k, v)
			}
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidFeedback, e.Kind)
	}
	return nil
}
