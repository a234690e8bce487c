package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitTracerProvider_Disabled(t *testing.T) {
	t.Parallel()

	shutdown, err := InitTracerProvider(context.Background(), Config{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitTracerProvider_Enabled(t *testing.T) {
	shutdown, err := InitTracerProvider(context.Background(), Config{
		Enabled:     true,
		ServiceName: "crawlkit-test",
		SampleRatio: 0.5,
	})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
