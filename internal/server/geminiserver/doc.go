// Package geminiserver provides the Gemini protocol server for capsuled.
//
// This package owns the network lifecycle:
//
//   - server.go: TLS listener, accept loop, concurrency ceiling, shutdown
//   - conn.go: per-connection state machine (handshake, request, response)
//
// Each connection carries exactly one request. The accept loop acquires
// a concurrency slot before calling Accept, so when the ceiling is
// reached new clients queue in the kernel backlog instead of being
// half-served. Request resolution and access control live in the
// content and access packages; this package only sequences them.
package geminiserver
