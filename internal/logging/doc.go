// Package logging provides structured logging for the assistant core.
//
// Logger wraps Zap with:
//   - a custom Trace level (-2, below Debug)
//   - stdout and optional OpenTelemetry output
//   - automatic correlation fields from context (trace id, user, conversation, session)
//   - redaction of sensitive field names and value patterns
//   - level-aware sampling (errors are never sampled)
//
// Usage:
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithSessionID(ctx, sessionID)
//	logger.Info(ctx, "turn processed", zap.Duration("duration", d))
//
// Components that take a *zap.Logger receive logger.Underlying().
//
// Tests use NewTestLogger and its assertion helpers.
package logging
