package instrumentation

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestSpanHelpers_NilSafe(t *testing.T) {
	// All helpers must tolerate a nil span without panicking.
	RecordError(nil, errors.New("boom"))
	SetSpanSuccess(nil)
	SetSpanError(nil, "failed")
	SetSpanAttributes(nil, attribute.String("key", "value"))
	AddFlowAttributes(nil, "app-1", "user-1", "basic email")
	AddHTTPAttributes(nil, "POST", "/oauth2/token", 200)
	AddSecurityAttributes(nil, "10.0.0.1")
}

func TestSpanHelpers_WithSpan(t *testing.T) {
	inst, err := New(Config{ServiceName: "test", Enabled: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, span := inst.Tracer("server").Start(context.Background(), "test-op")
	defer span.End()

	RecordError(span, errors.New("boom"))
	SetSpanSuccess(span)
	SetSpanError(span, "failed")
	SetSpanAttributes(span, attribute.String("key", "value"))
	AddFlowAttributes(span, "app-1", "user-1", "basic")
	AddFlowAttributes(span, "", "", "")
	AddHTTPAttributes(span, "GET", "/userinfo", 200)
	AddSecurityAttributes(span, "")
}
