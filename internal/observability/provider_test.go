package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workflowlabs/patternbank/internal/config"
)

func TestSetup_Disabled(t *testing.T) {
	p, err := Setup(context.Background(), config.ObservabilityConfig{Enabled: false}, "test")
	require.NoError(t, err)
	assert.Nil(t, p)

	// Nil provider is safe to use.
	assert.Nil(t, p.LoggerProvider())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSetup_Enabled(t *testing.T) {
	// Exporters connect lazily, so setup succeeds without a collector.
	p, err := Setup(context.Background(), config.ObservabilityConfig{
		Enabled:      true,
		ServiceName:  "patternbank-test",
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
	}, "test")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.NotNil(t, p.LoggerProvider())

	// No collector is listening; shutdown may report a flush failure, it
	// just must not hang.
	_ = p.Shutdown(context.Background())
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "collector:4318", stripScheme("https://collector:4318"))
	assert.Equal(t, "collector:4318", stripScheme("http://collector:4318"))
	assert.Equal(t, "collector:4318", stripScheme("collector:4318"))
}
