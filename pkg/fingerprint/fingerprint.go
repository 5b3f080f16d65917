// Package fingerprint derives stable identifiers from X.509 certificates.
//
// A fingerprint is the lowercase hex SHA-256 digest of the certificate's
// DER encoding. It is stable across connections for the same certificate
// and is the value access-control rules match against.
package fingerprint

import (
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/hex"
	"strings"
)

// EncodedLen is the length of a hex-encoded fingerprint.
const EncodedLen = sha256.Size * 2

// FromCert computes the fingerprint of a parsed certificate.
func FromCert(cert *x509.Certificate) string {
	return FromDER(cert.Raw)
}

// FromDER computes the fingerprint of a DER-encoded certificate.
func FromDER(der []byte) string {
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}

// Match compares two fingerprints in constant time. Case differences in
// the hex encoding are ignored.
func Match(a, b string) bool {
	an := Normalize(a)
	bn := Normalize(b)
	if len(an) != len(bn) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(an), []byte(bn)) == 1
}

// Valid reports whether s looks like a hex fingerprint of the right size.
func Valid(s string) bool {
	s = Normalize(s)
	if len(s) != EncodedLen {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Normalize lowercases a fingerprint and strips optional colon
// separators, accepting the common "AA:BB:..." display form.
func Normalize(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, ":", ""))
}
