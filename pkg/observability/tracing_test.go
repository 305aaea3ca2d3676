package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestSetupExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	tp, err := Setup("winky-test", "0.0.1", &buf)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	ctx, span := StartSpan(context.Background(), "test-span")
	SetAttributes(ctx, AttrChatID.String("c1"))
	AddEvent(ctx, "midpoint")
	RecordError(ctx, context.DeadlineExceeded)
	span.End()

	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "test-span") {
		t.Errorf("exported spans missing span name:\n%s", out)
	}
	if !strings.Contains(out, "winky.chat.id") {
		t.Errorf("exported spans missing attribute:\n%s", out)
	}
}

func TestNilProviderShutdown(t *testing.T) {
	var tp *TracerProvider
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Errorf("nil shutdown should be a no-op, got %v", err)
	}
}
