package logging

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/cmejo/AI-Scholar-sub007/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const (
	redacted        = "[REDACTED]"
	redactedPattern = "[REDACTED:pattern]"
)

type secretMarshaler struct {
	key string
	val config.Secret
}

func (s *secretMarshaler) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString(s.key, fmt.Sprintf("[REDACTED:%d]", len(s.val.Value())))
	return nil
}

// Secret creates a field for a config.Secret that only reveals its length.
func Secret(key string, val config.Secret) zap.Field {
	return zap.Object(key, &secretMarshaler{key: key, val: val})
}

// RedactedString creates a field with the value replaced by its length.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}

// RedactingEncoder wraps a zapcore.Encoder and redacts sensitive keys and
// values matching configured patterns. It covers both fields attached with
// With and fields passed per entry.
type RedactingEncoder struct {
	zapcore.Encoder
	redactFields map[string]bool
	redactRegex  []*regexp.Regexp
}

// NewRedactingEncoder wraps base with the rules in cfg.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*RedactingEncoder, error) {
	if !cfg.Enabled {
		return &RedactingEncoder{Encoder: base}, nil
	}

	fields := make(map[string]bool, len(cfg.Fields))
	for _, f := range cfg.Fields {
		fields[strings.ToLower(f)] = true
	}

	patterns := make([]*regexp.Regexp, 0, len(cfg.Patterns))
	for _, p := range cfg.Patterns {
		if len(p) > 200 {
			return nil, fmt.Errorf("redaction pattern too long (max 200 chars): %q", p)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}

	return &RedactingEncoder{
		Encoder:      base,
		redactFields: fields,
		redactRegex:  patterns,
	}, nil
}

func (e *RedactingEncoder) shouldRedactKey(key string) bool {
	return e.redactFields[strings.ToLower(key)]
}

func (e *RedactingEncoder) matchesPattern(val string) bool {
	for _, re := range e.redactRegex {
		if re.MatchString(val) {
			return true
		}
	}
	return false
}

func (e *RedactingEncoder) scrubMessage(msg string) string {
	for _, re := range e.redactRegex {
		msg = re.ReplaceAllString(msg, redacted)
	}
	return msg
}

// EncodeEntry redacts the message and per-entry fields before delegating.
func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	ent.Message = e.scrubMessage(ent.Message)

	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		switch {
		case e.shouldRedactKey(f.Key):
			out[i] = zap.String(f.Key, redacted)
		case f.Type == zapcore.StringType && e.matchesPattern(f.String):
			out[i] = zap.String(f.Key, redactedPattern)
		case f.Type == zapcore.ErrorType:
			if err, ok := f.Interface.(error); ok && e.matchesPattern(err.Error()) {
				out[i] = zap.String(f.Key, redactedPattern)
			} else {
				out[i] = f
			}
		default:
			out[i] = f
		}
	}
	return e.Encoder.EncodeEntry(ent, out)
}

func (e *RedactingEncoder) AddString(key, val string) {
	if e.shouldRedactKey(key) {
		e.Encoder.AddString(key, redacted)
		return
	}
	if e.matchesPattern(val) {
		e.Encoder.AddString(key, redactedPattern)
		return
	}
	e.Encoder.AddString(key, val)
}

func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	if e.shouldRedactKey(key) {
		e.Encoder.AddByteString(key, []byte(redacted))
		return
	}
	e.Encoder.AddByteString(key, val)
}

func (e *RedactingEncoder) AddBinary(key string, val []byte) {
	if e.shouldRedactKey(key) {
		e.Encoder.AddBinary(key, []byte(redacted))
		return
	}
	e.Encoder.AddBinary(key, val)
}

// AddReflected redacts the whole value when the key is sensitive.
func (e *RedactingEncoder) AddReflected(key string, val interface{}) error {
	if e.shouldRedactKey(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *RedactingEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.shouldRedactKey(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddArray(key, arr)
}

func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.shouldRedactKey(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{
		Encoder:      e.Encoder.Clone(),
		redactFields: e.redactFields,
		redactRegex:  e.redactRegex,
	}
}
