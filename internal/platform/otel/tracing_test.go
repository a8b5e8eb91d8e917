package otel

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

func TestInitTracer_ExportsOnShutdown(t *testing.T) {
	var out bytes.Buffer
	shutdown, err := InitTracer(Config{ServiceName: "prism-test", ServiceVersion: "v0.0.1", Writer: &out}, zap.NewNop())
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "gateway.dispatch")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, out.String(), "gateway.dispatch")
	assert.Contains(t, out.String(), "prism-test")
}

func TestInitTracer_NoWriter(t *testing.T) {
	shutdown, err := InitTracer(Config{ServiceName: "prism-test"}, zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
