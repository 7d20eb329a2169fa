package config

import (
	"strings"
	"time"

	"github.com/marmos91/gorods/internal/bytesize"
	"github.com/marmos91/gorods/pkg/account"
	"github.com/marmos91/gorods/pkg/session"
)

// ApplyDefaults fills unset fields. Explicit values are preserved; the log
// level is normalized to upper case.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)
	cfg.Transfer.ApplyDefaults()
	applyAccountDefaults(&cfg.Account)
	applyTransportDefaults(&cfg.Transport)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = "http://localhost:4040"
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = []string{"cpu", "alloc_space", "inuse_space", "goroutines"}
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyAccountDefaults(acct *account.Account) {
	if acct.Port == 0 {
		acct.Port = account.DefaultPort
	}
	if acct.AuthScheme == "" {
		acct.AuthScheme = account.AuthStandard
	}
	if acct.HomeDirectory == "" && acct.Zone != "" && acct.User != "" {
		acct.HomeDirectory = account.New(acct.Host, acct.Port, acct.Zone, acct.User, "").HomeDirectory
	}
}

func applyTransportDefaults(cfg *TransportConfig) {
	if cfg.Type == "" {
		cfg.Type = TransportMemory
	}
	if cfg.S3.Region == "" {
		cfg.S3.Region = "us-east-1"
	}
	if cfg.S3.MaxRetries == 0 {
		cfg.S3.MaxRetries = 3
	}
	if cfg.S3.MultipartThreshold == 0 {
		cfg.S3.MultipartThreshold = 64 * bytesize.MiB
	}
	if cfg.S3.UploadPartSize == 0 {
		cfg.S3.UploadPartSize = 16 * bytesize.MiB
	}
}

// GetDefaultConfig returns a Config with every default applied. It backs
// `gorods config init` and the viper defaults.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Telemetry: TelemetryConfig{Insecure: true},
		Transfer:  session.DefaultProperties(),
	}
	ApplyDefaults(cfg)
	return cfg
}
