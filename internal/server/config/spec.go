// Package config defines the capsuled server configuration.
package config

import "time"

// ServerConfig is the root configuration for capsuled.
type ServerConfig struct {
	Server  ServerSection  `koanf:"server"`
	Content ContentSection `koanf:"content"`
	Access  AccessSection  `koanf:"access"`
	Metrics MetricsSection `koanf:"metrics"`
	Log     LogSection     `koanf:"log"`
}

// ServerSection configures the listening endpoint and TLS identity.
type ServerSection struct {
	// Addr is the TCP listen address.
	Addr string `koanf:"addr"`

	// Host is the authority this server answers for; requests naming a
	// different host are treated as not found.
	Host string `koanf:"host"`

	// Port is the advertised port used for authority matching and
	// generated redirects. Usually the port of Addr.
	Port int `koanf:"port"`

	// CertFile and KeyFile are the PEM server certificate and key.
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`

	// WatchCert reloads the key pair when the files change on disk.
	WatchCert bool `koanf:"watch_cert"`

	// MaxConns bounds simultaneously handled connections; excess
	// connections wait in the accept backlog.
	MaxConns int `koanf:"max_conns"`

	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`
	ReadTimeout      time.Duration `koanf:"read_timeout"`
	WriteTimeout     time.Duration `koanf:"write_timeout"`

	// ShutdownGrace is how long in-flight responses may run after a
	// shutdown signal before their connections are force-closed.
	ShutdownGrace time.Duration `koanf:"shutdown_grace"`
}

// ContentSection configures what is served.
type ContentSection struct {
	// Root is the directory all served resources are confined to.
	Root string `koanf:"root"`

	// IndexFile is the per-directory default resource name.
	IndexFile string `koanf:"index_file"`

	Redirects []RedirectEntry `koanf:"redirects"`
	Prompts   []PromptEntry   `koanf:"prompts"`
}

// RedirectEntry maps an exact request path to a redirect target.
type RedirectEntry struct {
	Path      string `koanf:"path"`
	Target    string `koanf:"target"`
	Permanent bool   `koanf:"permanent"`
}

// PromptEntry marks a request path as input-driven.
type PromptEntry struct {
	Path      string `koanf:"path"`
	Prompt    string `koanf:"prompt"`
	Sensitive bool   `koanf:"sensitive"`
}

// AccessSection configures client-certificate protection and rate
// limiting.
type AccessSection struct {
	Protected []ProtectedEntry `koanf:"protected"`

	// RateLimit is requests per second per client IP; 0 disables.
	RateLimit int `koanf:"rate_limit"`
	RateBurst int `koanf:"rate_burst"`
}

// ProtectedEntry gates a path subtree behind client certificates. An
// empty fingerprint list admits any time-valid certificate.
type ProtectedEntry struct {
	Prefix       string   `koanf:"prefix"`
	Fingerprints []string `koanf:"fingerprints"`
}

// MetricsSection configures the Prometheus endpoint.
type MetricsSection struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
