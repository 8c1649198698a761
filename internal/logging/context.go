package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	userCtxKey         struct{}
	conversationCtxKey struct{}
	sessionCtxKey      struct{}
	loggerCtxKey       struct{}
)

const maxIDLen = 128

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 6)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if v := UserIDFromContext(ctx); v != "" {
		fields = append(fields, zap.String("user.id", v))
	}
	if v := ConversationIDFromContext(ctx); v != "" {
		fields = append(fields, zap.String("conversation.id", v))
	}
	if v := SessionIDFromContext(ctx); v != "" {
		fields = append(fields, zap.String("session.id", v))
	}
	return fields
}

// WithUserID adds the (possibly anonymized) user id to ctx.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userCtxKey{}, clip(id))
}

// UserIDFromContext returns the user id stored in ctx, if any.
func UserIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(userCtxKey{}).(string)
	return v
}

// WithConversationID adds the conversation id to ctx.
func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, conversationCtxKey{}, clip(id))
}

// ConversationIDFromContext returns the conversation id stored in ctx, if any.
func ConversationIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(conversationCtxKey{}).(string)
	return v
}

// WithSessionID adds the session id to ctx.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, clip(id))
}

// SessionIDFromContext returns the session id stored in ctx, if any.
func SessionIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(sessionCtxKey{}).(string)
	return v
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok && l != nil {
		return l
	}
	return NewNop()
}

// clip bounds ids so a hostile caller cannot blow up every log line.
func clip(id string) string {
	if len(id) > maxIDLen {
		return id[:maxIDLen]
	}
	return id
}
