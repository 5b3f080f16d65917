package content

import (
	"bufio"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"

	"github.com/venlock/capsuled/internal/gemini"
)

const testHost = "example.org"

// mustRequest parses a request line for tests.
func mustRequest(t *testing.T, rawURL string) gemini.Request {
	t.Helper()
	req, err := gemini.ParseRequest(bufio.NewReader(strings.NewReader(rawURL + "\r\n")))
	if err != nil {
		t.Fatalf("bad test request %q: %v", rawURL, err)
	}
	return req
}

// newTestRoot builds a content tree:
//
//	index.gmi
//	hello.txt
//	data.bin
//	.hidden
//	docs/a.gmi
//	docs/b.txt
//	docs/sub/
//	private/secret.gmi
func newTestRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	write := func(rel, body string) {
		t.Helper()
		p := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	write("index.gmi", "# welcome\n")
	write("hello.txt", "hello\n")
	write("data.bin", "\x00\x01")
	write(".hidden", "nope")
	write("docs/a.gmi", "# a\n")
	write("docs/b.txt", "b\n")
	write("private/secret.gmi", "# secret\n")
	if err := os.MkdirAll(filepath.Join(root, "docs", "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	return root
}

func newTestResolver(t *testing.T, root string, rules Rules) *Resolver {
	t.Helper()
	r, err := New(root, testHost, gemini.DefaultPort, rules)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

// ============================================================
// Resolve Tests - Files and Directories
// ============================================================

func TestResolve_RootServesIndexFile(t *testing.T) {
	r := newTestResolver(t, newTestRoot(t), Rules{})

	res := r.Resolve(mustRequest(t, "gemini://example.org/"))
	rf, ok := res.(RegularFile)
	if !ok {
		t.Fatalf("got %T, want RegularFile", res)
	}
	if filepath.Base(rf.Path) != "index.gmi" {
		t.Errorf("resolved %s, want index.gmi", rf.Path)
	}
	if rf.MediaType != GeminiMediaType {
		t.Errorf("media type = %q, want %q", rf.MediaType, GeminiMediaType)
	}
}

func TestResolve_RegularFile(t *testing.T) {
	root := newTestRoot(t)
	r := newTestResolver(t, root, Rules{})

	res := r.Resolve(mustRequest(t, "gemini://example.org/hello.txt"))
	rf, ok := res.(RegularFile)
	if !ok {
		t.Fatalf("got %T, want RegularFile", res)
	}
	if rf.Size != int64(len("hello\n")) {
		t.Errorf("size = %d, want %d", rf.Size, len("hello\n"))
	}
	if !strings.HasPrefix(rf.MediaType, "text/plain") {
		t.Errorf("media type = %q, want text/plain", rf.MediaType)
	}

	res = r.Resolve(mustRequest(t, "gemini://example.org/data.bin"))
	if rf, ok := res.(RegularFile); !ok || rf.MediaType != DefaultMediaType {
		t.Errorf("unknown extension: got %#v, want %s", res, DefaultMediaType)
	}
}

func TestResolve_DirectoryWithoutSlashRedirects(t *testing.T) {
	r := newTestResolver(t, newTestRoot(t), Rules{})

	res := r.Resolve(mustRequest(t, "gemini://example.org/docs"))
	rd, ok := res.(Redirect)
	if !ok {
		t.Fatalf("got %T, want Redirect", res)
	}
	if rd.Target != "gemini://example.org/docs/" {
		t.Errorf("target = %q, want the slashed form", rd.Target)
	}
	if rd.Permanent {
		t.Error("slash redirect should be temporary")
	}
}

func TestResolve_DirectoryListing(t *testing.T) {
	r := newTestResolver(t, newTestRoot(t), Rules{})

	res := r.Resolve(mustRequest(t, "gemini://example.org/docs/"))
	idx, ok := res.(GeneratedIndex)
	if !ok {
		t.Fatalf("got %T, want GeneratedIndex", res)
	}
	want := []IndexEntry{
		{Name: "sub", IsDir: true},
		{Name: "a.gmi"},
		{Name: "b.txt"},
	}
	if !reflect.DeepEqual(idx.Entries, want) {
		t.Errorf("entries = %+v, want %+v (dirs first, then lexical)", idx.Entries, want)
	}
	if idx.DisplayPath != "/docs" {
		t.Errorf("display path = %q", idx.DisplayPath)
	}
}

func TestResolve_MissingAndSpecial(t *testing.T) {
	root := newTestRoot(t)
	r := newTestResolver(t, root, Rules{})

	tests := []struct {
		name string
		url  string
	}{
		{"absent file", "gemini://example.org/nope.gmi"},
		{"absent directory", "gemini://example.org/nope/"},
		{"dotfile", "gemini://example.org/.hidden"},
		{"wrong host", "gemini://other.example/hello.txt"},
		{"wrong port", "gemini://example.org:1970/hello.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if res := r.Resolve(mustRequest(t, tt.url)); res != (Missing{}) {
				t.Errorf("got %#v, want Missing", res)
			}
		})
	}
}

// ============================================================
// Resolve Tests - Escape Protection
// ============================================================

func TestResolve_TraversalDenied(t *testing.T) {
	r := newTestResolver(t, newTestRoot(t), Rules{})

	tests := []struct {
		name string
		url  string
	}{
		{"raw parent segment", "gemini://example.org/../etc/passwd"},
		{"nested parent segment", "gemini://example.org/docs/../../etc/passwd"},
		{"encoded dots", "gemini://example.org/%2e%2e/etc/passwd"},
		{"mixed encoded dots", "gemini://example.org/.%2e/etc/passwd"},
		{"encoded separator", "gemini://example.org/docs%2f..%2f..%2fetc%2fpasswd"},
		{"encoded backslash", "gemini://example.org/docs%5c..%5csecret"},
		{"encoded NUL", "gemini://example.org/hello.txt%00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Resolve(mustRequest(t, tt.url))
			d, ok := res.(Denied)
			if !ok {
				t.Fatalf("got %#v, want Denied", res)
			}
			if d.Reason != deniedReason {
				t.Errorf("reason %q leaks detail", d.Reason)
			}
		})
	}
}

func TestResolve_SymlinkEscapeDenied(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}

	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "loot.txt"), []byte("loot"), 0o644); err != nil {
		t.Fatal(err)
	}

	root := newTestRoot(t)
	if err := os.Symlink(filepath.Join(outside, "loot.txt"), filepath.Join(root, "link.txt")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(root, "linkdir")); err != nil {
		t.Fatal(err)
	}

	r := newTestResolver(t, root, Rules{})

	for _, u := range []string{
		"gemini://example.org/link.txt",
		"gemini://example.org/linkdir/",
		"gemini://example.org/linkdir/loot.txt",
	} {
		res := r.Resolve(mustRequest(t, u))
		if _, ok := res.(Denied); !ok {
			t.Errorf("%s: got %#v, want Denied", u, res)
		}
	}
}

func TestResolve_SymlinkInsideRootAllowed(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}

	root := newTestRoot(t)
	if err := os.Symlink(filepath.Join(root, "hello.txt"), filepath.Join(root, "alias.txt")); err != nil {
		t.Fatal(err)
	}

	r := newTestResolver(t, root, Rules{})
	res := r.Resolve(mustRequest(t, "gemini://example.org/alias.txt"))
	if _, ok := res.(RegularFile); !ok {
		t.Errorf("symlink staying under the root should serve, got %#v", res)
	}
}

// ============================================================
// Resolve Tests - Rules and Determinism
// ============================================================

func TestResolve_RedirectRules(t *testing.T) {
	r := newTestResolver(t, newTestRoot(t), Rules{
		Redirects: []RedirectRule{
			{Path: "/old", Target: "/docs/", Permanent: true},
			{Path: "/away", Target: "gemini://elsewhere.example/", Permanent: false},
		},
	})

	res := r.Resolve(mustRequest(t, "gemini://example.org/old"))
	rd, ok := res.(Redirect)
	if !ok || !rd.Permanent || rd.Target != "gemini://example.org/docs/" {
		t.Errorf("local rule: got %#v", res)
	}

	res = r.Resolve(mustRequest(t, "gemini://example.org/away"))
	rd, ok = res.(Redirect)
	if !ok || rd.Permanent || rd.Target != "gemini://elsewhere.example/" {
		t.Errorf("absolute rule: got %#v", res)
	}
}

func TestResolve_PromptRules(t *testing.T) {
	r := newTestResolver(t, newTestRoot(t), Rules{
		Prompts: []PromptRule{
			{Path: "/search", Prompt: "Search terms"},
			{Path: "/login", Prompt: "Passphrase", Sensitive: true},
		},
	})

	res := r.Resolve(mustRequest(t, "gemini://example.org/search"))
	in, ok := res.(Input)
	if !ok || in.Prompt != "Search terms" || in.Sensitive {
		t.Errorf("got %#v, want Input prompt", res)
	}

	res = r.Resolve(mustRequest(t, "gemini://example.org/login"))
	if in, ok := res.(Input); !ok || !in.Sensitive {
		t.Errorf("got %#v, want sensitive Input", res)
	}

	// With a query the prompt rule steps aside; /search has no file, so
	// resolution falls through to Missing.
	res = r.Resolve(mustRequest(t, "gemini://example.org/search?gemini"))
	if res != (Missing{}) {
		t.Errorf("got %#v, want Missing after fall-through", res)
	}
}

func TestResolve_Idempotent(t *testing.T) {
	r := newTestResolver(t, newTestRoot(t), Rules{})

	for _, u := range []string{
		"gemini://example.org/",
		"gemini://example.org/docs/",
		"gemini://example.org/hello.txt",
		"gemini://example.org/../x",
		"gemini://example.org/nope",
	} {
		first := r.Resolve(mustRequest(t, u))
		second := r.Resolve(mustRequest(t, u))
		if !reflect.DeepEqual(first, second) {
			t.Errorf("%s: resolution not idempotent: %#v then %#v", u, first, second)
		}
	}
}

func TestNew_RejectsBadRoot(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "absent"), testHost, gemini.DefaultPort, Rules{}); err == nil {
		t.Error("missing root must fail")
	}

	file := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(file, testHost, gemini.DefaultPort, Rules{}); err == nil {
		t.Error("non-directory root must fail")
	}
}
