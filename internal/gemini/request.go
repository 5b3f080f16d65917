package gemini

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
)

// Protocol limits. These are wire-level constants, not tunables.
const (
	// MaxRequestBytes is the maximum request line length, excluding the
	// CRLF terminator.
	MaxRequestBytes = 1024

	// MaxMetaBytes is the maximum response meta length; same ceiling as
	// the request line.
	MaxMetaBytes = 1024

	// DefaultPort is the registered Gemini port.
	DefaultPort = 1965

	// Scheme is the only URL scheme this server speaks.
	Scheme = "gemini"
)

var (
	// ErrMalformedRequest covers every request grammar violation: missing
	// or broken CRLF, a relative or unparseable URL, userinfo, an empty
	// host.
	ErrMalformedRequest = errors.New("gemini: malformed request")

	// ErrLineTooLong is a malformed request whose line exceeds
	// MaxRequestBytes before the terminator: errors.Is(err,
	// ErrMalformedRequest) holds for it too.
	ErrLineTooLong = fmt.Errorf("%w: line too long", ErrMalformedRequest)

	// ErrUnsupportedScheme is returned for a well-formed absolute URL
	// with any scheme other than gemini.
	ErrUnsupportedScheme = errors.New("gemini: unsupported scheme")
)

// Request is the parsed form of one request line. It is a value type and
// is never mutated after ParseRequest returns it.
type Request struct {
	// URL is the absolute request locator. Scheme is guaranteed to be
	// "gemini" and Host to be non-empty.
	URL *url.URL

	// RawLen is the length of the request line on the wire, excluding
	// the CRLF terminator.
	RawLen int
}

// Host returns the lowercased hostname without port.
func (r Request) Host() string {
	return strings.ToLower(r.URL.Hostname())
}

// Port returns the explicit port of the request URL, or DefaultPort when
// the URL carries none.
func (r Request) Port() int {
	p := r.URL.Port()
	if p == "" {
		return DefaultPort
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return DefaultPort
	}
	return n
}

// Path returns the raw (still percent-encoded) URL path. Decoding happens
// per segment in the resolver so that encoded separators and dot segments
// stay literal.
func (r Request) Path() string {
	return r.URL.EscapedPath()
}

// Query returns the raw query string, without the leading '?'.
func (r Request) Query() string {
	return r.URL.RawQuery
}

// ParseRequest reads one request line from r and validates it.
//
// At most MaxRequestBytes+2 bytes are consumed before the read is
// declared a failure. I/O errors before any byte arrives are returned
// unwrapped so the caller can distinguish a dead peer from a protocol
// violation.
func ParseRequest(r *bufio.Reader) (Request, error) {
	line, err := readRequestLine(r)
	if err != nil {
		return Request{}, err
	}

	u, err := url.Parse(string(line))
	if err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if !u.IsAbs() {
		return Request{}, fmt.Errorf("%w: relative URL", ErrMalformedRequest)
	}
	if u.Scheme != Scheme {
		return Request{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if u.User != nil {
		return Request{}, fmt.Errorf("%w: userinfo not allowed", ErrMalformedRequest)
	}
	if u.Hostname() == "" {
		return Request{}, fmt.Errorf("%w: empty host", ErrMalformedRequest)
	}
	if p := u.Port(); p != "" {
		if _, err := strconv.Atoi(p); err != nil {
			return Request{}, fmt.Errorf("%w: bad port", ErrMalformedRequest)
		}
	}

	return Request{URL: u, RawLen: len(line)}, nil
}

// readRequestLine reads bytes until CRLF, enforcing the line budget.
// The returned slice excludes the terminator.
func readRequestLine(r *bufio.Reader) ([]byte, error) {
	const budget = MaxRequestBytes + 2

	buf := make([]byte, 0, 256)
	for {
		b, err := r.ReadByte()
		if err != nil {
			if len(buf) == 0 {
				return nil, err
			}
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: missing terminator", ErrMalformedRequest)
			}
			return nil, err
		}

		if b == '\n' {
			if len(buf) > 0 && buf[len(buf)-1] == '\r' {
				return buf[:len(buf)-1], nil
			}
			return nil, fmt.Errorf("%w: bare LF terminator", ErrMalformedRequest)
		}

		buf = append(buf, b)
		if len(buf) >= budget {
			return nil, ErrLineTooLong
		}
	}
}
