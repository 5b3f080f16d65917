// Package access enforces who may fetch what.
//
// Two concerns live here. The authorizer gates configured subtrees
// behind client certificates, matched by SHA-256 fingerprint; it runs
// before resolution so a protected directory never leaks a listing or
// even its existence to an unauthenticated peer. The limiter registry
// keeps one token bucket per client address and converts overruns into
// the protocol's slow-down status.
package access
