// Package main provides the entry point for capsuled.
//
// capsuled is a Gemini protocol server that publishes a directory tree
// over TLS:
//
//   - one request per connection, one line, one response
//   - content confined to a single root directory
//   - client-certificate protection for configured subtrees
//   - optional Prometheus metrics on a separate listener
//
// Usage:
//
//	capsuled serve --config /path/to/config.yaml
//	capsuled cert --host example.org --out-cert cert.pem --out-key key.pem
//	capsuled version
//
// The serve command loads configuration, binds the TLS listener, and
// runs until SIGINT or SIGTERM.
package main
