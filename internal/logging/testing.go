package logging

import (
	"reflect"
	"regexp"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger is a Logger that records every entry for assertions.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger creates a logger capturing all levels including Trace.
func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	return &TestLogger{
		Logger:   &Logger{zap: zap.New(core), config: NewDefaultConfig()},
		observed: observed,
	}
}

func (t *TestLogger) All() []observer.LoggedEntry {
	return t.observed.All()
}

func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.observed.FilterMessage(msg)
}

// Reset drops everything recorded so far.
func (t *TestLogger) Reset() {
	t.observed.TakeAll()
}

// AssertLogged fails unless an entry at level contains msgContains.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msgContains string) {
	tb.Helper()
	for _, entry := range t.observed.All() {
		if entry.Level == level && strings.Contains(entry.Message, msgContains) {
			return
		}
	}
	tb.Errorf("expected log at %v containing %q, logs: %+v", level, msgContains, t.observed.All())
}

// AssertNotLogged fails if an entry at level contains msgContains.
func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, msgContains string) {
	tb.Helper()
	for _, entry := range t.observed.All() {
		if entry.Level == level && strings.Contains(entry.Message, msgContains) {
			tb.Errorf("unexpected log at %v containing %q", level, msgContains)
		}
	}
}

// AssertField fails unless an entry with message msg carries key=expected.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, expected interface{}) {
	tb.Helper()
	for _, entry := range t.observed.FilterMessage(msg).All() {
		fields := entry.ContextMap()
		if v, ok := fields[key]; ok && reflect.DeepEqual(v, expected) {
			return
		}
	}
	tb.Errorf("field %q=%v not found in message %q", key, expected, msg)
}

var sensitiveValuePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+\S+`),
	regexp.MustCompile(`(?i)api[_-]?key[=:]\s*\S+`),
	regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
}

// AssertNoSecrets fails if a sensitive key carries an unredacted string or
// a message or string field looks like a credential or raw PII.
func (t *TestLogger) AssertNoSecrets(tb testing.TB) {
	tb.Helper()
	sensitiveKeys := []string{"password", "secret", "token", "api_key", "salt", "authorization", "credential"}

	for _, entry := range t.observed.All() {
		for _, re := range sensitiveValuePatterns {
			if re.MatchString(entry.Message) {
				tb.Errorf("sensitive pattern in message: %q", entry.Message)
			}
		}
		for _, field := range entry.Context {
			if field.Type != zapcore.StringType {
				continue
			}
			key := strings.ToLower(field.Key)
			for _, s := range sensitiveKeys {
				if strings.Contains(key, s) && field.String != "" && !strings.HasPrefix(field.String, "[REDACTED") {
					tb.Errorf("sensitive field %q not redacted: %q", field.Key, field.String)
				}
			}
			for _, re := range sensitiveValuePatterns {
				if re.MatchString(field.String) {
					tb.Errorf("sensitive pattern in field %q: %q", field.Key, field.String)
				}
			}
		}
	}
}

// AssertTraceCorrelation fails unless msg was logged with a trace_id.
func (t *TestLogger) AssertTraceCorrelation(tb testing.TB, msg string) {
	tb.Helper()
	for _, entry := range t.observed.FilterMessage(msg).All() {
		if _, ok := entry.ContextMap()["trace_id"]; ok {
			return
		}
	}
	tb.Errorf("message %q missing trace_id", msg)
}
