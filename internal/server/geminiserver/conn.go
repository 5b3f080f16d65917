package geminiserver

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/venlock/capsuled/internal/access"
	"github.com/venlock/capsuled/internal/content"
	"github.com/venlock/capsuled/internal/gemini"
)

// serveConn runs the full life of one connection: TLS handshake, one
// request, one response, close. Failures before a request line is read
// close the connection silently; after that a best-effort status line
// is written first.
func (s *Server) serveConn(ctx context.Context, id string, nc net.Conn) {
	defer nc.Close()
	start := time.Now()

	tc, ok := nc.(*tls.Conn)
	if !ok {
		// tls.Listen hands out *tls.Conn; anything else is a test stub
		// that skipped the TLS layer.
		s.logger.Debug("non-TLS connection rejected", "conn_id", id, "remote", nc.RemoteAddr())
		return
	}

	hsCtx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	err := tc.HandshakeContext(hsCtx)
	cancel()
	if err != nil {
		s.logger.Debug("handshake failed", "conn_id", id, "remote", nc.RemoteAddr(), "error", err)
		return
	}

	remote := nc.RemoteAddr().String()

	if s.limiter != nil && !s.limiter.Allow(remote) {
		resp := gemini.SlowDownResponse(s.limiter.RetryAfterSeconds())
		s.writeResponse(tc, resp)
		s.observe(id, remote, "", resp.Status, 0, start)
		return
	}

	if err := nc.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
		return
	}
	req, err := gemini.ParseRequest(bufio.NewReaderSize(tc, gemini.MaxRequestBytes+2))
	if err != nil {
		s.rejectRequest(tc, id, remote, err, start)
		return
	}

	ident := access.IdentityFromState(tc.ConnectionState())

	resp, body := s.respond(req, ident)
	if body != nil {
		defer body.Close()
		resp.Body = body
	}

	n := s.writeResponse(tc, resp)
	s.observe(id, remote, req.URL.String(), resp.Status, n, start)
}

// respond maps a parsed request to its response. When the resolution is
// a regular file the returned ReadCloser streams it; the caller owns
// closing it.
func (s *Server) respond(req gemini.Request, ident *access.Identity) (gemini.Response, io.ReadCloser) {
	// Access control runs on the normalized display path, before any
	// filesystem work, so protected subtrees never leak existence or
	// listings to unauthenticated peers.
	if display, ok := content.CleanPath(req.Path()); ok && s.auth != nil {
		switch s.auth.Check(display, ident, time.Now()) {
		case access.Granted:
		case access.CertificateRequired:
			return gemini.Response{Status: gemini.StatusCertificateRequired, Meta: "client certificate required"}, nil
		case access.NotAuthorized:
			return gemini.Response{Status: gemini.StatusCertificateNotAuthorized, Meta: "certificate not authorized"}, nil
		case access.NotValid:
			return gemini.Response{Status: gemini.StatusCertificateNotValid, Meta: "certificate not valid"}, nil
		}
	}

	resolved := s.resolver.Resolve(req)
	resp := content.Classify(resolved)

	if rf, isFile := resolved.(content.RegularFile); isFile && resp.Status.IsSuccess() {
		f, err := os.Open(rf.Path)
		if err != nil {
			// Resolution saw the file but the open lost the race.
			return gemini.Response{Status: gemini.StatusTemporaryFailure, Meta: "temporary failure"}, nil
		}
		return resp, f
	}
	return resp, nil
}

// rejectRequest maps a request parse failure to a close or a status
// line. Timeouts and disconnects get nothing; grammar violations get a
// best-effort permanent failure.
func (s *Server) rejectRequest(tc *tls.Conn, id, remote string, err error, start time.Time) {
	var netErr net.Error
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		s.logger.Debug("request not received", "conn_id", id, "remote", remote, "error", err)
		return
	}

	resp := gemini.Response{Status: gemini.StatusBadRequest, Meta: "bad request"}
	if errors.Is(err, gemini.ErrUnsupportedScheme) {
		// Foreign schemes read as unknown resources, same as a host
		// mismatch.
		resp = gemini.Response{Status: gemini.StatusNotFound, Meta: "not found"}
	}
	s.writeResponse(tc, resp)
	s.observe(id, remote, "", resp.Status, 0, start)
}

// writeResponse writes resp under the write deadline and returns the
// body byte count. Write errors end the connection; there is nothing
// left to salvage after a failed header.
func (s *Server) writeResponse(tc *tls.Conn, resp gemini.Response) int64 {
	if err := tc.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return 0
	}
	n, err := gemini.WriteResponse(tc, resp)
	if err != nil {
		s.logger.Debug("response write failed", "remote", tc.RemoteAddr(), "error", err)
	}
	return n
}

// observe records one finished request in the log and the metrics.
func (s *Server) observe(id, remote, rawURL string, status gemini.Status, bytes int64, start time.Time) {
	elapsed := time.Since(start)
	s.logger.Info("request served",
		"conn_id", id,
		"remote", remote,
		"url", rawURL,
		"status", int(status),
		"bytes", bytes,
		"duration", elapsed,
	)
	if s.metrics != nil {
		s.metrics.RequestsTotal.WithLabelValues(strconv.Itoa(int(status))).Inc()
		s.metrics.RequestDuration.Observe(elapsed.Seconds())
		s.metrics.BodyBytes.Add(float64(bytes))
	}
}
