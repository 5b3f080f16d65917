package access

import (
	"crypto/tls"
	"time"

	"github.com/venlock/capsuled/pkg/fingerprint"
)

// Identity is the per-connection identity derived from a client
// certificate during the handshake. It lives for the connection only
// and is never persisted.
type Identity struct {
	// Fingerprint is the SHA-256 hex digest of the certificate DER.
	Fingerprint string

	// Subject is the certificate's subject common name, for logging.
	Subject string

	NotBefore time.Time
	NotAfter  time.Time
}

// IdentityFromState extracts the client identity from a completed
// handshake, or nil when the peer presented no certificate. The
// certificate chain is not verified against any CA: identity here is
// the key itself (TOFU-style), and rules decide what it may do.
func IdentityFromState(cs tls.ConnectionState) *Identity {
	if len(cs.PeerCertificates) == 0 {
		return nil
	}
	leaf := cs.PeerCertificates[0]
	return &Identity{
		Fingerprint: fingerprint.FromCert(leaf),
		Subject:     leaf.Subject.CommonName,
		NotBefore:   leaf.NotBefore,
		NotAfter:    leaf.NotAfter,
	}
}

// ValidAt reports whether the certificate's validity window covers t.
func (id *Identity) ValidAt(t time.Time) bool {
	return !t.Before(id.NotBefore) && !t.After(id.NotAfter)
}
