package observability

import (
	"testing"

	"github.com/smallbiznis/needflow/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDerivesFromAppConfig(t *testing.T) {
	cfg := LoadConfig(config.Config{
		AppVersion:  " 1.2.0 ",
		Environment: "production",
		Observability: config.ObservabilityConfig{
			LogLevel:            "warn",
			LogFormat:           "console",
			LogSampleInitial:    10,
			LogSampleThereafter: 50,
			OtelEnabled:         true,
			OTLPEndpoint:        "collector:4317",
			OTLPProtocol:        "grpc",
			OtelSamplingRatio:   2,
		},
	})

	assert.Equal(t, "needflow", cfg.ServiceName)
	assert.Equal(t, "1.2.0", cfg.Version)
	assert.Equal(t, 10, cfg.LogSampling.Initial)
	assert.Equal(t, 50, cfg.LogSampling.Thereafter)
	assert.Equal(t, "collector:4317", cfg.OtelExporterEndpoint)
	assert.Equal(t, 0.1, cfg.OtelSamplingRatio)
	assert.False(t, cfg.Debug())
}

func TestDebugFollowsLevelAndEnvironment(t *testing.T) {
	assert.True(t, Config{LogLevel: "DEBUG", Environment: "production"}.Debug())
	assert.True(t, Config{LogLevel: "info", Environment: "local"}.Debug())
	assert.False(t, Config{LogLevel: "info", Environment: "staging"}.Debug())
}
