// Package bus carries JSON events between components, over NATS in
// production or in process for tests and single-binary deployments.
//
// Subjects are dot-separated tokens. Subscriptions accept the NATS
// wildcards "*" (one token) and ">" (one or more trailing tokens) on both
// implementations.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrClosed         = errors.New("bus closed")
	ErrInvalidSubject = errors.New("invalid subject")
)

// Handler receives one message. data is the raw JSON payload.
type Handler func(ctx context.Context, subject string, data []byte)

// Publisher sends payloads, JSON-encoding anything that is not already
// []byte or json.RawMessage.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// Subscriber registers handlers.
type Subscriber interface {
	Subscribe(subject string, h Handler) (Subscription, error)
}

// Subscription is an active registration.
type Subscription interface {
	Unsubscribe() error
}

// Bus is a Publisher and Subscriber with a lifecycle.
type Bus interface {
	Publisher
	Subscriber
	Close() error
}

func encode(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return data, nil
}

func validSubject(s string, wildcards bool) error {
	if s == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSubject)
	}
	tokens := strings.Split(s, ".")
	for i, t := range tokens {
		switch {
		case t == "":
			return fmt.Errorf("%w: %q has an empty token", ErrInvalidSubject, s)
		case strings.ContainsAny(t, " \t\r\n"):
			return fmt.Errorf("%w: %q contains whitespace", ErrInvalidSubject, s)
		case !wildcards && (t == "*" || t == ">"):
			return fmt.Errorf("%w: %q cannot publish to a wildcard", ErrInvalidSubject, s)
		case t == ">" && i != len(tokens)-1:
			return fmt.Errorf("%w: %q has '>' before the last token", ErrInvalidSubject, s)
		}
	}
	return nil
}

// Match reports whether subject matches pattern.
func Match(pattern, subject string) bool {
	p := strings.Split(pattern, ".")
	s := strings.Split(subject, ".")
	for i, tok := range p {
		if tok == ">" {
			return len(s) > i
		}
		if i >= len(s) {
			return false
		}
		if tok != "*" && tok != s[i] {
			return false
		}
	}
	return len(p) == len(s)
}

var (
	_ Bus = (*Memory)(nil)
	_ Bus = (*NATS)(nil)
)
