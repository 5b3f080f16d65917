package geminiserver

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/venlock/capsuled/internal/access"
	"github.com/venlock/capsuled/internal/content"
	"github.com/venlock/capsuled/internal/infra/tlsident"
	"github.com/venlock/capsuled/pkg/fingerprint"
)

// ============================================================
// Test harness
// ============================================================

const testHost = "localhost"

// reservePort grabs an ephemeral port so the resolver can be configured
// with the same authority the server will listen on.
func reservePort(t *testing.T) (addr string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port = ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return fmt.Sprintf("127.0.0.1:%d", port), port
}

func writeServerIdentity(t *testing.T) *tlsident.Identity {
	t.Helper()
	certPEM, keyPEM, err := tlsident.SelfSigned(testHost, time.Hour)
	if err != nil {
		t.Fatalf("SelfSigned: %v", err)
	}
	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certFile, certPEM, 0o600); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	id, err := tlsident.Load(certFile, keyFile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return id
}

// clientCert builds a self-signed client certificate and returns it
// together with its fingerprint.
func clientCert(t *testing.T) (*tls.Certificate, string) {
	t.Helper()
	certPEM, keyPEM, err := tlsident.SelfSigned("client", time.Hour)
	if err != nil {
		t.Fatalf("SelfSigned: %v", err)
	}
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		t.Fatalf("X509KeyPair: %v", err)
	}
	return &pair, fingerprint.FromDER(pair.Certificate[0])
}

// testContentRoot lays out the fixture tree served by every test.
func testContentRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "index.gmi", "# Home\n")
	writeFile(t, root, "hello.gmi", "hello there\n")
	writeFile(t, root, "notes.txt", "plain notes\n")
	writeFile(t, root, filepath.Join("data", "alpha.gmi"), "alpha\n")
	writeFile(t, root, filepath.Join("data", "beta.txt"), "beta\n")
	writeFile(t, root, filepath.Join("private", "secret.gmi"), "classified\n")
	return root
}

func writeFile(t *testing.T, root, rel, body string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

type serverOpts struct {
	cfg      *Config
	authRule []access.Rule
	limiter  *access.LimiterRegistry
	rules    content.Rules
}

// startServer brings up a full server over the fixture tree and returns
// its dial address and configured port.
func startServer(t *testing.T, opts serverOpts) (srv *Server, addr string, port int) {
	t.Helper()

	addr, port = reservePort(t)
	root := testContentRoot(t)

	resolver, err := content.New(root, testHost, port, opts.rules)
	if err != nil {
		t.Fatalf("content.New: %v", err)
	}

	var auth *access.Authorizer
	if opts.authRule != nil {
		auth, err = access.NewAuthorizer(opts.authRule)
		if err != nil {
			t.Fatalf("NewAuthorizer: %v", err)
		}
	}

	cfg := opts.cfg
	if cfg == nil {
		cfg = DefaultConfig()
		cfg.ReadTimeout = 5 * time.Second
		cfg.WriteTimeout = 5 * time.Second
		cfg.ShutdownGrace = 2 * time.Second
	}
	cfg.Addr = addr

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv = New(cfg, writeServerIdentity(t).ServerConfig(), resolver, auth, opts.limiter, nil, logger)

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv, addr, port
}

// doRequest performs one full exchange and returns the parsed response.
// raw is written verbatim, CRLF included.
func doRequest(t *testing.T, addr, raw string, cert *tls.Certificate) (status int, meta, body string) {
	t.Helper()

	cfg := &tls.Config{
		ServerName:         testHost,
		InsecureSkipVerify: true,
	}
	if cert != nil {
		cfg.Certificates = []tls.Certificate{*cert}
	}

	conn, err := tls.Dial("tcp", addr, cfg)
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := io.WriteString(conn, raw); err != nil {
		t.Fatalf("write request: %v", err)
	}

	all, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	header, rest, found := strings.Cut(string(all), "\r\n")
	if !found {
		t.Fatalf("response has no CRLF header terminator: %q", all)
	}
	code, metaPart, _ := strings.Cut(header, " ")
	status, err = strconv.Atoi(code)
	if err != nil {
		t.Fatalf("non-numeric status in header %q", header)
	}
	return status, metaPart, rest
}

func requestLine(port int, path string) string {
	return fmt.Sprintf("gemini://%s:%d%s\r\n", testHost, port, path)
}

// ============================================================
// Serving content
// ============================================================

func TestServeRootIndex(t *testing.T) {
	_, addr, port := startServer(t, serverOpts{})

	status, meta, body := doRequest(t, addr, requestLine(port, "/"), nil)
	if status != 20 {
		t.Fatalf("status = %d, want 20 (meta %q)", status, meta)
	}
	if !strings.HasPrefix(meta, "text/gemini") {
		t.Errorf("meta = %q, want text/gemini", meta)
	}
	if body != "# Home\n" {
		t.Errorf("body = %q, want index contents", body)
	}
}

func TestServeRegularFile(t *testing.T) {
	_, addr, port := startServer(t, serverOpts{})

	status, meta, body := doRequest(t, addr, requestLine(port, "/notes.txt"), nil)
	if status != 20 {
		t.Fatalf("status = %d, want 20", status)
	}
	if !strings.HasPrefix(meta, "text/plain") {
		t.Errorf("meta = %q, want text/plain", meta)
	}
	if body != "plain notes\n" {
		t.Errorf("body = %q", body)
	}
}

func TestMissingResource(t *testing.T) {
	_, addr, port := startServer(t, serverOpts{})

	status, _, _ := doRequest(t, addr, requestLine(port, "/nope.gmi"), nil)
	if status != 51 {
		t.Fatalf("status = %d, want 51", status)
	}
}

func TestDirectoryWithoutSlashRedirects(t *testing.T) {
	_, addr, port := startServer(t, serverOpts{})

	status, meta, _ := doRequest(t, addr, requestLine(port, "/data"), nil)
	if status != 31 {
		t.Fatalf("status = %d, want 31", status)
	}
	want := fmt.Sprintf("gemini://%s:%d/data/", testHost, port)
	if meta != want {
		t.Errorf("redirect target = %q, want %q", meta, want)
	}
}

func TestDirectoryListing(t *testing.T) {
	_, addr, port := startServer(t, serverOpts{})

	status, meta, body := doRequest(t, addr, requestLine(port, "/data/"), nil)
	if status != 20 {
		t.Fatalf("status = %d, want 20 (meta %q)", status, meta)
	}
	for _, want := range []string{"=> alpha.gmi alpha.gmi", "=> beta.txt beta.txt"} {
		if !strings.Contains(body, want) {
			t.Errorf("listing missing %q in %q", want, body)
		}
	}
}

// ============================================================
// Request validation
// ============================================================

func TestTraversalDenied(t *testing.T) {
	_, addr, port := startServer(t, serverOpts{})

	for _, path := range []string{
		"/%2e%2e/etc/passwd",
		"/..%2fsecret",
		"/data/%2e%2e/%2e%2e/other",
	} {
		status, _, _ := doRequest(t, addr, requestLine(port, path), nil)
		if status != 50 {
			t.Errorf("path %q: status = %d, want 50", path, status)
		}
	}
}

func TestMalformedRequestLine(t *testing.T) {
	_, addr, _ := startServer(t, serverOpts{})

	status, _, _ := doRequest(t, addr, "not a url at all\r\n", nil)
	if status != 59 {
		t.Fatalf("status = %d, want 59", status)
	}
}

func TestOverlongRequestLine(t *testing.T) {
	_, addr, port := startServer(t, serverOpts{})

	long := requestLine(port, "/"+strings.Repeat("a", 1100))
	status, _, _ := doRequest(t, addr, long, nil)
	if status != 59 {
		t.Fatalf("status = %d, want 59", status)
	}
}

func TestForeignSchemeNotFound(t *testing.T) {
	_, addr, port := startServer(t, serverOpts{})

	status, _, _ := doRequest(t, addr, fmt.Sprintf("https://%s:%d/\r\n", testHost, port), nil)
	if status != 51 {
		t.Fatalf("status = %d, want 51", status)
	}
}

func TestForeignAuthorityIsMissing(t *testing.T) {
	_, addr, port := startServer(t, serverOpts{})

	status, _, _ := doRequest(t, addr, fmt.Sprintf("gemini://elsewhere.example:%d/\r\n", port), nil)
	if status != 51 {
		t.Fatalf("status = %d, want 51", status)
	}
}

// ============================================================
// Client certificate access control
// ============================================================

func TestProtectedSubtree(t *testing.T) {
	allowed, allowedFP := clientCert(t)
	stranger, _ := clientCert(t)

	_, addr, port := startServer(t, serverOpts{
		authRule: []access.Rule{{Prefix: "/private", Fingerprints: []string{allowedFP}}},
	})

	status, _, _ := doRequest(t, addr, requestLine(port, "/private/secret.gmi"), nil)
	if status != 60 {
		t.Fatalf("no cert: status = %d, want 60", status)
	}

	status, _, _ = doRequest(t, addr, requestLine(port, "/private/secret.gmi"), stranger)
	if status != 61 {
		t.Fatalf("wrong cert: status = %d, want 61", status)
	}

	status, _, body := doRequest(t, addr, requestLine(port, "/private/secret.gmi"), allowed)
	if status != 20 {
		t.Fatalf("allowed cert: status = %d, want 20", status)
	}
	if body != "classified\n" {
		t.Errorf("body = %q", body)
	}

	// Prefix match is on segment boundaries: a sibling path that merely
	// shares the spelling stays public.
	status, _, _ = doRequest(t, addr, requestLine(port, "/hello.gmi"), nil)
	if status != 20 {
		t.Fatalf("public path: status = %d, want 20", status)
	}
}

func TestExpiredClientCertificate(t *testing.T) {
	expired, fp := expiredClientCert(t)

	_, addr, port := startServer(t, serverOpts{
		authRule: []access.Rule{{Prefix: "/private", Fingerprints: []string{fp}}},
	})

	status, _, _ := doRequest(t, addr, requestLine(port, "/private/secret.gmi"), expired)
	if status != 62 {
		t.Fatalf("status = %d, want 62", status)
	}
}

// expiredClientCert builds a certificate whose validity window closed
// a day ago. SelfSigned always produces currently-valid pairs, so this
// one is assembled by hand.
func expiredClientCert(t *testing.T) (*tls.Certificate, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "expired-client"},
		NotBefore:    time.Now().Add(-48 * time.Hour),
		NotAfter:     time.Now().Add(-24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	pair := tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}
	return &pair, fingerprint.FromDER(der)
}

// ============================================================
// Rate limiting and concurrency
// ============================================================

func TestRateLimitSlowsDown(t *testing.T) {
	_, addr, port := startServer(t, serverOpts{
		limiter: access.NewLimiterRegistry(1, 1),
	})

	status, _, _ := doRequest(t, addr, requestLine(port, "/"), nil)
	if status != 20 {
		t.Fatalf("first request: status = %d, want 20", status)
	}

	status, meta, _ := doRequest(t, addr, requestLine(port, "/"), nil)
	if status != 44 {
		t.Fatalf("second request: status = %d, want 44", status)
	}
	if _, err := strconv.Atoi(meta); err != nil {
		t.Errorf("slow-down meta = %q, want seconds", meta)
	}
}

func TestConcurrencyCeilingBlocksAccept(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConns = 2
	cfg.ReadTimeout = 10 * time.Second
	cfg.WriteTimeout = 5 * time.Second
	cfg.ShutdownGrace = 1 * time.Second

	srv, addr, port := startServer(t, serverOpts{cfg: cfg})

	tlsCfg := &tls.Config{ServerName: testHost, InsecureSkipVerify: true}

	// Fill both slots with connections that handshake and then idle.
	var held []*tls.Conn
	for i := 0; i < 2; i++ {
		c, err := tls.Dial("tcp", addr, tlsCfg)
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		defer c.Close()
		if err := c.Handshake(); err != nil {
			t.Fatalf("handshake %d: %v", i, err)
		}
		held = append(held, c)
	}

	waitFor(t, func() bool { return srv.ActiveConns() == 2 }, "two active connections")

	// A third client can reach the kernel backlog but no goroutine picks
	// it up, so its handshake stalls.
	raw, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial third: %v", err)
	}
	defer raw.Close()
	third := tls.Client(raw, tlsCfg)
	_ = raw.SetDeadline(time.Now().Add(500 * time.Millisecond))
	if err := third.Handshake(); err == nil {
		t.Fatal("third handshake completed while the ceiling was full")
	}

	// Releasing one slot lets a new connection through.
	_ = held[0].Close()
	waitFor(t, func() bool { return srv.ActiveConns() < 2 }, "slot released")

	status, _, _ := doRequest(t, addr, requestLine(port, "/"), nil)
	if status != 20 {
		t.Fatalf("after release: status = %d, want 20", status)
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ============================================================
// Shutdown
// ============================================================

func TestShutdownIdle(t *testing.T) {
	srv, addr, _ := startServer(t, serverOpts{})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if _, err := net.DialTimeout("tcp", addr, 500*time.Millisecond); err == nil {
		t.Error("listener still accepting after shutdown")
	}
}

func TestShutdownForceClosesStragglers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReadTimeout = 30 * time.Second
	cfg.WriteTimeout = 5 * time.Second
	cfg.ShutdownGrace = 200 * time.Millisecond

	srv, addr, _ := startServer(t, serverOpts{cfg: cfg})

	c, err := tls.Dial("tcp", addr, &tls.Config{ServerName: testHost, InsecureSkipVerify: true})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	if err := c.Handshake(); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	waitFor(t, func() bool { return srv.ActiveConns() == 1 }, "one active connection")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("shutdown took %v, want bounded by grace period", elapsed)
	}
	if srv.ActiveConns() != 0 {
		t.Errorf("ActiveConns = %d after shutdown", srv.ActiveConns())
	}
}
