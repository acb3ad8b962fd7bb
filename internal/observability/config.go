package observability

import (
	"strings"

	"github.com/smallbiznis/needflow/internal/config"
	"github.com/smallbiznis/needflow/internal/observability/logger"
)

// Config is the observability view of the application config.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel    string
	LogFormat   string
	LogSampling logger.SamplingConfig

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	obs := cfg.Observability

	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "needflow"
	}
	ratio := obs.OtelSamplingRatio
	if ratio < 0 || ratio > 1 {
		ratio = 0.1
	}

	return Config{
		ServiceName: serviceName,
		Environment: strings.TrimSpace(cfg.Environment),
		Version:     strings.TrimSpace(cfg.AppVersion),
		LogLevel:    obs.LogLevel,
		LogFormat:   obs.LogFormat,
		LogSampling: logger.SamplingConfig{
			Initial:    obs.LogSampleInitial,
			Thereafter: obs.LogSampleThereafter,
		},
		OtelEnabled:          obs.OtelEnabled,
		OtelExporterEndpoint: obs.OTLPEndpoint,
		OtelExporterProtocol: obs.OTLPProtocol,
		OtelSamplingRatio:    ratio,
	}
}

// Debug reports whether verbose request logging is on: a debug log level or a
// development-like environment.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}
