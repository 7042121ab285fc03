package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, Config{}.Validate())
	require.NoError(t, Config{Exporter: ExporterStdout, SampleRatio: 1}.Validate())
	require.ErrorContains(t, Config{Exporter: "jaeger"}.Validate(), "unknown exporter")
	require.ErrorContains(t, Config{SampleRatio: 1.5}.Validate(), "sample_ratio")
}

func TestInitTracerProviderStdout(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer

	tp, err := InitTracerProvider(ctx, "backlink-monitor", Config{Exporter: ExporterStdout, SampleRatio: 1}, &buf)
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(ctx, "verify")
	span.End()
	require.NoError(t, tp.Shutdown(ctx))

	require.Contains(t, buf.String(), `"Name":"verify"`)
	require.Contains(t, buf.String(), "backlink-monitor")
}

func TestInitTracerProviderRejectsBadConfig(t *testing.T) {
	t.Parallel()

	_, err := InitTracerProvider(context.Background(), "svc", Config{Exporter: "zipkin"}, nil)
	require.Error(t, err)
}
