// Package observability wires OpenTelemetry tracing and metrics into
// stagekit pipelines.
//
// Tracing:
//
//	tp, err := observability.InitTracer(ctx, observability.DefaultTracerConfig("imagepipe"))
//	defer tp.Shutdown(ctx)
//
// Stage metrics:
//
//	m, err := observability.NewStageMetrics(observability.Meter("stagekit"))
//	rec := m.Stage("imagepipe", "resize")
//	rec.Received(ctx)
//
// Health:
//
//	health := observability.NewServiceHealth("imagepipe", version.Short())
//	health.AddComponent(checker.CheckHealth(ctx))
package observability
