package telemetry

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type captureWriter struct {
	entries []string
}

func (c *captureWriter) Write(p []byte) (int, error) {
	c.entries = append(c.entries, string(p))
	return len(p), nil
}

func TestLoggingExporterEmitsSpan(t *testing.T) {
	writer := &captureWriter{}
	logger := zerolog.New(writer)
	exporter := newLoggingExporterWithLogger(logger)
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
	)

	ctx := context.Background()
	_, span := provider.Tracer("test").Start(ctx, "register")
	span.SetAttributes(attribute.String("hostname", "host-a"))
	span.End()

	if err := provider.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if len(writer.entries) == 0 {
		t.Fatal("expected log entry")
	}
	if !strings.Contains(writer.entries[0], "register") {
		t.Fatalf("entry missing span name: %s", writer.entries[0])
	}
	if !strings.Contains(writer.entries[0], "host-a") {
		t.Fatalf("entry missing attribute: %s", writer.entries[0])
	}
}
