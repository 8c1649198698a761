// Package telemetry provides OpenTelemetry tracing and metrics for assistantd.
//
// Spans and metrics are exported over OTLP (gRPC or HTTP) when enabled. When
// disabled, or when an exporter cannot be created, components keep working
// against the global no-op providers.
//
// Usage:
//
//	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version), logger)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	tracer := tel.Tracer("assistantd.agent")
//	ctx, span := tracer.Start(ctx, "agent.respond")
//	defer span.End()
//
// Tests use NewTestTelemetry, which records spans and metrics in memory.
package telemetry
