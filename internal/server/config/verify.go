// Package config defines the capsuled server configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/venlock/capsuled/pkg/fingerprint"
)

// Verify validates the configuration. It is called once at startup;
// any error here fails the process before a socket is bound.
func Verify(cfg *ServerConfig) error {
	if err := verifyServer(&cfg.Server); err != nil {
		return err
	}
	if err := verifyContent(&cfg.Content); err != nil {
		return err
	}
	return verifyAccess(&cfg.Access)
}

func verifyServer(cfg *ServerSection) error {
	if cfg.Addr == "" {
		return errors.New("server.addr is required")
	}
	if cfg.Host == "" {
		return errors.New("server.host is required")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", cfg.Port)
	}
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return errors.New("server.cert_file and server.key_file are required")
	}
	for _, f := range []string{cfg.CertFile, cfg.KeyFile} {
		if _, err := os.Stat(f); err != nil {
			return fmt.Errorf("tls material %s: %w", f, err)
		}
	}
	if cfg.MaxConns < 1 {
		return errors.New("server.max_conns must be at least 1")
	}
	for name, d := range map[string]int64{
		"server.handshake_timeout": int64(cfg.HandshakeTimeout),
		"server.read_timeout":      int64(cfg.ReadTimeout),
		"server.write_timeout":     int64(cfg.WriteTimeout),
		"server.shutdown_grace":    int64(cfg.ShutdownGrace),
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}

func verifyContent(cfg *ContentSection) error {
	if cfg.Root == "" {
		return errors.New("content.root is required")
	}
	info, err := os.Stat(cfg.Root)
	if err != nil {
		// The server never creates the content root.
		return fmt.Errorf("content.root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("content.root %s is not a directory", cfg.Root)
	}

	for _, r := range cfg.Redirects {
		if !strings.HasPrefix(r.Path, "/") {
			return fmt.Errorf("redirect path %q must start with /", r.Path)
		}
		if r.Target == "" {
			return fmt.Errorf("redirect %q has no target", r.Path)
		}
	}
	for _, p := range cfg.Prompts {
		if !strings.HasPrefix(p.Path, "/") {
			return fmt.Errorf("prompt path %q must start with /", p.Path)
		}
		if p.Prompt == "" {
			return fmt.Errorf("prompt %q has no prompt text", p.Path)
		}
	}
	return nil
}

func verifyAccess(cfg *AccessSection) error {
	for _, p := range cfg.Protected {
		if !strings.HasPrefix(p.Prefix, "/") {
			return fmt.Errorf("protected prefix %q must start with /", p.Prefix)
		}
		for _, fp := range p.Fingerprints {
			if !fingerprint.Valid(fp) {
				return fmt.Errorf("protected %q: malformed fingerprint %q", p.Prefix, fp)
			}
		}
	}
	if cfg.RateLimit < 0 {
		return errors.New("access.rate_limit must not be negative")
	}
	return nil
}
