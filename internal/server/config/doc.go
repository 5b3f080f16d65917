// Package config defines the capsuled server configuration.
//
//   - spec.go: ServerConfig struct definition
//   - default.go: default values
//   - verify.go: startup validation (paths exist, limits sane)
//
// Configuration is loaded via internal/infra/confloader from a YAML
// file layered under CAPSULED_-prefixed environment variables.
package config
