package observability

import (
	"context"
	"testing"
)

func TestLoggerWithTrace_NilContextReturnsGlobalLogger(t *testing.T) {
	l := LoggerWithTrace(nil)
	if l == nil {
		t.Fatalf("expected non-nil logger")
	}
}

func TestRequestLogger_AttachesRequestIDAndRole(t *testing.T) {
	l := RequestLogger(context.Background(), "req-123", "rpc")
	if l == nil {
		t.Fatalf("expected non-nil logger")
	}
}
