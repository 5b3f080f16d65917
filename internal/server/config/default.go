// Package config defines the capsuled server configuration.
package config

import "time"

// Default configuration values.
const (
	DefaultAddr = ":1965"
	DefaultPort = 1965

	DefaultIndexFile = "index.gmi"

	DefaultMaxConns         = 256
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultReadTimeout      = 30 * time.Second
	DefaultWriteTimeout     = 60 * time.Second
	DefaultShutdownGrace    = 15 * time.Second

	DefaultRateBurst = 8

	DefaultMetricsAddr = "127.0.0.1:9155"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration. Host, certificate
// paths and content root have no sensible defaults and must be set.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			Addr:             DefaultAddr,
			Port:             DefaultPort,
			MaxConns:         DefaultMaxConns,
			HandshakeTimeout: DefaultHandshakeTimeout,
			ReadTimeout:      DefaultReadTimeout,
			WriteTimeout:     DefaultWriteTimeout,
			ShutdownGrace:    DefaultShutdownGrace,
		},
		Content: ContentSection{
			IndexFile: DefaultIndexFile,
		},
		Access: AccessSection{
			RateBurst: DefaultRateBurst,
		},
		Metrics: MetricsSection{
			Enabled: false,
			Addr:    DefaultMetricsAddr,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
