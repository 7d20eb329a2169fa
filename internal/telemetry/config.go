package telemetry

// Config controls trace export. A disabled Config installs a no-op tracer,
// so spans opened by the session and transfer layers cost nothing.
type Config struct {
	Enabled bool

	// ServiceName and ServiceVersion label the exported resource.
	ServiceName    string
	ServiceVersion string

	// Endpoint is the OTLP gRPC collector, host:port.
	Endpoint string
	Insecure bool

	// SampleRate is the fraction of transfers traced, 0.0 to 1.0.
	SampleRate float64
}

// DefaultConfig returns tracing disabled, pointed at a local collector.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "gorods",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}
