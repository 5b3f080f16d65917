package access

import (
	"fmt"
	"strings"
	"time"

	"github.com/venlock/capsuled/pkg/fingerprint"
)

// Decision is the outcome of an access check.
type Decision int

const (
	// Granted admits the request to resolution.
	Granted Decision = iota

	// CertificateRequired means the subtree is protected and the peer
	// presented no certificate.
	CertificateRequired

	// NotAuthorized means the peer's certificate is not on the
	// subtree's allow list.
	NotAuthorized

	// NotValid means the certificate is outside its validity window.
	NotValid
)

// Rule protects one path subtree. An empty Fingerprints list admits any
// peer holding a time-valid certificate; a non-empty list admits only
// the listed fingerprints.
type Rule struct {
	// Prefix is a decoded path prefix; "/private" covers "/private"
	// and everything below it, but not "/privateer".
	Prefix       string
	Fingerprints []string
}

// Authorizer evaluates protection rules. Immutable after New, safe for
// concurrent use.
type Authorizer struct {
	rules []Rule
}

// NewAuthorizer validates and normalizes the rule set. Fingerprints are
// normalized to bare lowercase hex; malformed ones are rejected here so
// a typo in configuration fails startup instead of silently never
// matching.
func NewAuthorizer(rules []Rule) (*Authorizer, error) {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if !strings.HasPrefix(r.Prefix, "/") {
			return nil, fmt.Errorf("access: rule prefix %q must start with /", r.Prefix)
		}
		norm := Rule{Prefix: strings.TrimRight(r.Prefix, "/")}
		if norm.Prefix == "" {
			norm.Prefix = "/"
		}
		for _, fp := range r.Fingerprints {
			if !fingerprint.Valid(fp) {
				return nil, fmt.Errorf("access: rule %q: bad fingerprint %q", r.Prefix, fp)
			}
			norm.Fingerprints = append(norm.Fingerprints, fingerprint.Normalize(fp))
		}
		out = append(out, norm)
	}
	return &Authorizer{rules: out}, nil
}

// Check evaluates the rules against a decoded request path. When
// several rules cover the path the most specific (longest) prefix wins.
func (a *Authorizer) Check(path string, id *Identity, now time.Time) Decision {
	rule, ok := a.match(path)
	if !ok {
		return Granted
	}

	if id == nil {
		return CertificateRequired
	}
	if !id.ValidAt(now) {
		return NotValid
	}
	if len(rule.Fingerprints) == 0 {
		return Granted
	}
	for _, fp := range rule.Fingerprints {
		if fingerprint.Match(fp, id.Fingerprint) {
			return Granted
		}
	}
	return NotAuthorized
}

// Protected reports whether any rule covers path.
func (a *Authorizer) Protected(path string) bool {
	_, ok := a.match(path)
	return ok
}

func (a *Authorizer) match(path string) (Rule, bool) {
	var (
		best  Rule
		found bool
	)
	for _, r := range a.rules {
		if !coveredBy(path, r.Prefix) {
			continue
		}
		if !found || len(r.Prefix) > len(best.Prefix) {
			best = r
			found = true
		}
	}
	return best, found
}

// coveredBy reports whether path is prefix itself or below it, with the
// comparison anchored at a segment boundary.
func coveredBy(path, prefix string) bool {
	if prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
