// Package instrumentation provides OpenTelemetry metrics and tracing for the
// authorization server.
//
// The package wraps named meters and tracers behind an Instrumentation value
// that is safe to construct with telemetry disabled: instruments always
// exist, backed by no-op providers, so recording a metric or annotating a
// span never requires a nil check at the call site.
//
// Span helper functions (RecordError, SetSpanSuccess, SetSpanAttributes and
// friends) are themselves nil-safe, so handlers can call them without
// checking whether a span was started.
//
// Example:
//
//	inst, err := instrumentation.New(instrumentation.Config{
//	    ServiceName:    "gatehouse",
//	    ServiceVersion: "1.0.0",
//	    Enabled:        true,
//	})
//	if err != nil {
//	    return err
//	}
//	defer inst.Shutdown(ctx)
//
//	inst.Metrics().CodesIssued.Add(ctx, 1)
package instrumentation
