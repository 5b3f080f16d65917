// Package tlsident manages the server's TLS identity.
//
// It loads the PEM certificate/key pair the daemon presents during
// handshakes, builds the server tls.Config (client certificates are
// requested but never required at the transport layer), and can keep
// the pair fresh by watching the files for changes.
package tlsident

import (
	"crypto/tls"
	"fmt"
	"sync"
)

// Identity is the process-wide certificate/key pair. It is loaded at
// startup and swapped atomically on reload; connection handshakes
// always see a complete pair.
type Identity struct {
	certFile string
	keyFile  string

	mu   sync.RWMutex
	cert *tls.Certificate
}

// Load reads the key pair from disk. Failure here is fatal to startup.
func Load(certFile, keyFile string) (*Identity, error) {
	id := &Identity{certFile: certFile, keyFile: keyFile}
	if err := id.Reload(); err != nil {
		return nil, fmt.Errorf("tlsident: %w", err)
	}
	return id, nil
}

// Reload re-reads the key pair. On error the previous pair stays
// active, so a bad rotation never takes the listener down.
func (id *Identity) Reload() error {
	cert, err := tls.LoadX509KeyPair(id.certFile, id.keyFile)
	if err != nil {
		return fmt.Errorf("load key pair: %w", err)
	}
	id.mu.Lock()
	id.cert = &cert
	id.mu.Unlock()
	return nil
}

// GetCertificate implements tls.Config.GetCertificate.
func (id *Identity) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.cert, nil
}

// ServerConfig builds the listener's TLS configuration. Client
// certificates are requested so an identity can be derived when one is
// offered, but the handshake succeeds without one; requiring a
// certificate is a per-path policy decision, not a transport one.
func (id *Identity) ServerConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: id.GetCertificate,
		ClientAuth:     tls.RequestClientCert,
		MinVersion:     tls.VersionTLS12,
	}
}
