package config

// ObservabilityConfig holds observability configuration.
type ObservabilityConfig struct {
	OTelEnabled bool `env:"HOOKRELAY_OTEL_ENABLED"`
}
