package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/univac-1/risk-analyzer/internal/config"
)

func TestSampleRatio(t *testing.T) {
	assert.Equal(t, 1.0, sampleRatio(config.Config{AppEnv: "dev"}))
	assert.Equal(t, 0.1, sampleRatio(config.Config{AppEnv: "prod"}))
	assert.Equal(t, 0.5, sampleRatio(config.Config{AppEnv: "prod", OTELSampleRatio: 0.5}))
	assert.Equal(t, 1.0, sampleRatio(config.Config{AppEnv: "dev", OTELSampleRatio: 2}))
}

func TestSetupTracingDisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := SetupTracing(config.Config{})
	assert.NoError(t, err)
	assert.Nil(t, shutdown)
}
