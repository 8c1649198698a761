package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/cmejo/AI-Scholar-sub007/internal/bus"
	"github.com/cmejo/AI-Scholar-sub007/internal/conversation"
)

// DefaultSubject is the subject feedback events are published on.
const DefaultSubject = "assistant.feedback"

// Submitter accepts feedback events. *Ingestor satisfies it.
type Submitter interface {
	Submit(ev conversation.FeedbackEvent) error
}

// NATSSource feeds events received on a bus subject into a Submitter.
// Payloads are a single JSON event or a JSON array of events.
type NATSSource struct {
	sub     bus.Subscriber
	subject string
	target  Submitter
	logger  *zap.Logger

	mu           sync.Mutex
	subscription bus.Subscription
	accepted     int64
	rejected     int64
}

// NewNATSSource creates a source. An empty subject means DefaultSubject.
func NewNATSSource(sub bus.Subscriber, subject string, target Submitter, logger *zap.Logger) *NATSSource {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSSource{sub: sub, subject: subject, target: target, logger: logger}
}

// Start subscribes. Calling Start twice is a no-op.
func (s *NATSSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscription != nil {
		return nil
	}
	subscription, err := s.sub.Subscribe(s.subject, s.handle)
	if err != nil {
		return err
	}
	s.subscription = subscription
	s.logger.Info("feedback source started", zap.String("subject", s.subject))
	return nil
}

// Stop unsubscribes.
func (s *NATSSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscription == nil {
		return nil
	}
	err := s.subscription.Unsubscribe()
	s.subscription = nil
	return err
}

// Counts returns accepted and rejected event totals.
func (s *NATSSource) Counts() (accepted, rejected int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted, s.rejected
}

func (s *NATSSource) handle(_ context.Context, subject string, data []byte) {
	events, err := decodeEvents(data)
	if err != nil {
		s.logger.Warn("undecodable feedback payload", zap.String("subject", subject), zap.Error(err))
		s.count(0, 1)
		return
	}

	var ok, bad int64
	for _, ev := range events {
		if err := s.target.Submit(ev); err != nil {
			s.logger.Warn("feedback event rejected",
				zap.String("conversation_id", ev.ConversationID),
				zap.Int("turn_index", ev.TurnIndex),
				zap.Error(err),
			)
			bad++
			continue
		}
		ok++
	}
	s.count(ok, bad)
}

func (s *NATSSource) count(ok, bad int64) {
	s.mu.Lock()
	s.accepted += ok
	s.rejected += bad
	s.mu.Unlock()
}

func decodeEvents(data []byte) ([]conversation.FeedbackEvent, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty payload")
	}
	if trimmed[0] == '[' {
		var events []conversation.FeedbackEvent
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, err
		}
		return events, nil
	}
	var ev conversation.FeedbackEvent
	if err := json.Unmarshal(trimmed, &ev); err != nil {
		return nil, err
	}
	return []conversation.FeedbackEvent{ev}, nil
}
