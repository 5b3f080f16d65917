package content

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/venlock/capsuled/internal/gemini"
)

// DefaultIndexFile is the conventional per-directory default resource.
const DefaultIndexFile = "index.gmi"

// deniedReason is the only denial detail a remote peer ever sees.
const deniedReason = "access denied"

// RedirectRule maps an exact decoded request path to a redirect target.
// Target may be an absolute gemini:// locator or a server-local path.
type RedirectRule struct {
	Path      string
	Target    string
	Permanent bool
}

// PromptRule marks an exact decoded request path as input-driven: a
// request without a query gets an input status with Prompt as meta, a
// request with a query resolves normally.
type PromptRule struct {
	Path      string
	Prompt    string
	Sensitive bool
}

// Rules is the resolver's non-filesystem routing configuration.
type Rules struct {
	// IndexFile overrides DefaultIndexFile when non-empty.
	IndexFile string
	Redirects []RedirectRule
	Prompts   []PromptRule
}

// Resolver confines request resolution to one content root for one
// configured authority. It is immutable after New and safe for
// concurrent use.
type Resolver struct {
	root  string // canonical absolute content root
	host  string
	port  int
	index string

	redirects map[string]RedirectRule
	prompts   map[string]PromptRule
}

// New creates a resolver rooted at dir, serving the given authority.
// dir must exist and be a directory; it is canonicalized once here so
// every later descendant check compares canonical paths.
func New(dir, host string, port int, rules Rules) (*Resolver, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("content: resolve root %s: %w", dir, err)
	}
	root, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("content: canonicalize root %s: %w", dir, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("content: stat root %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("content: root %s is not a directory", dir)
	}

	index := rules.IndexFile
	if index == "" {
		index = DefaultIndexFile
	}

	r := &Resolver{
		root:      root,
		host:      strings.ToLower(host),
		port:      port,
		index:     index,
		redirects: make(map[string]RedirectRule, len(rules.Redirects)),
		prompts:   make(map[string]PromptRule, len(rules.Prompts)),
	}
	for _, rule := range rules.Redirects {
		r.redirects[rule.Path] = rule
	}
	for _, rule := range rules.Prompts {
		r.prompts[rule.Path] = rule
	}
	return r, nil
}

// Root returns the canonical content root.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve maps one validated request to a resource outcome. It never
// follows a path outside the content root: escape attempts and
// filesystem errors other than absence come back as Denied, absence and
// foreign authorities as Missing.
func (r *Resolver) Resolve(req gemini.Request) Resolved {
	if req.Host() != r.host || req.Port() != r.port {
		// Not served here. Missing rather than an explicit refusal so
		// probing other hostnames does not map server topology.
		return Missing{}
	}

	segs, dir, ok := splitRequestPath(req.Path())
	if !ok {
		return Denied{Reason: deniedReason}
	}
	for _, s := range segs {
		if strings.HasPrefix(s, ".") {
			// Dotfiles are never served and never listed.
			return Missing{}
		}
	}

	display := "/" + strings.Join(segs, "/")

	if rule, ok := r.redirects[display]; ok {
		return Redirect{Target: r.absoluteTarget(rule.Target), Permanent: rule.Permanent}
	}
	if rule, ok := r.prompts[display]; ok && req.Query() == "" {
		return Input{Prompt: rule.Prompt, Sensitive: rule.Sensitive}
	}

	fsPath := r.root
	if len(segs) > 0 {
		fsPath = filepath.Join(r.root, filepath.Join(segs...))
	}

	canon, err := filepath.EvalSymlinks(fsPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Missing{}
		}
		// Canonicalization failure on an existing path: treat exactly
		// like an escape.
		return Denied{Reason: deniedReason}
	}
	if !r.inRoot(canon) {
		return Denied{Reason: deniedReason}
	}

	info, err := os.Stat(canon)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Missing{}
		}
		return Denied{Reason: deniedReason}
	}

	switch {
	case info.IsDir():
		return r.resolveDir(canon, display, dir)
	case info.Mode().IsRegular():
		return RegularFile{Path: canon, Size: info.Size(), MediaType: MediaTypeFor(canon)}
	default:
		// Sockets, devices, fifos.
		return Missing{}
	}
}

func (r *Resolver) resolveDir(canon, display string, slashed bool) Resolved {
	if !slashed {
		// Canonical directory form carries the trailing slash, so that
		// relative links inside the directory resolve correctly.
		return Redirect{Target: r.absoluteTarget(display + "/"), Permanent: false}
	}

	idx := filepath.Join(canon, r.index)
	if fi, err := os.Stat(idx); err == nil && fi.Mode().IsRegular() {
		return RegularFile{Path: idx, Size: fi.Size(), MediaType: MediaTypeFor(idx)}
	}

	dirents, err := os.ReadDir(canon)
	if err != nil {
		return Denied{Reason: deniedReason}
	}

	entries := make([]IndexEntry, 0, len(dirents))
	for _, de := range dirents {
		name := de.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		isDir := de.IsDir()
		if !isDir && !de.Type().IsRegular() {
			// Resolve symlinked children by what they point at; skip
			// anything that is neither file nor directory.
			fi, err := os.Stat(filepath.Join(canon, name))
			if err != nil {
				continue
			}
			if !fi.IsDir() && !fi.Mode().IsRegular() {
				continue
			}
			isDir = fi.IsDir()
		}
		entries = append(entries, IndexEntry{Name: name, IsDir: isDir})
	}

	// Directories first, then case-sensitive lexical order. Fixed so
	// the same directory always yields the same listing.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return entries[i].Name < entries[j].Name
	})

	return GeneratedIndex{DisplayPath: display, Entries: entries}
}

// CleanPath decodes a raw request path into its normalized decoded form
// ("/a/b", no trailing slash except for the root). The access layer runs
// on this form before resolution. ok is false for paths the resolver
// would refuse: parent-directory segments and decoded separators or NUL
// bytes.
func CleanPath(rawPath string) (string, bool) {
	segs, _, ok := splitRequestPath(rawPath)
	if !ok {
		return "", false
	}
	return "/" + strings.Join(segs, "/"), true
}

// splitRequestPath decodes the raw request path into clean segments.
// Decoding is strictly per segment: a percent-encoded separator or
// parent marker becomes a literal character of a segment and is then
// rejected, never re-interpreted as path structure. The second result
// reports whether the path addressed a directory (trailing slash or
// empty).
func splitRequestPath(rawPath string) (segs []string, dir bool, ok bool) {
	if rawPath == "" || rawPath == "/" {
		return nil, true, true
	}
	dir = strings.HasSuffix(rawPath, "/")

	for _, raw := range strings.Split(strings.Trim(rawPath, "/"), "/") {
		seg, err := url.PathUnescape(raw)
		if err != nil {
			return nil, false, false
		}
		switch {
		case seg == "" || seg == ".":
			continue
		case seg == "..":
			return nil, false, false
		case strings.ContainsAny(seg, "/\\") || strings.ContainsRune(seg, 0):
			return nil, false, false
		}
		segs = append(segs, seg)
	}
	if len(segs) == 0 {
		dir = true
	}
	return segs, dir, true
}

// inRoot reports whether canon is the root or one of its descendants.
func (r *Resolver) inRoot(canon string) bool {
	if canon == r.root {
		return true
	}
	return strings.HasPrefix(canon, r.root+string(filepath.Separator))
}

// absoluteTarget turns a server-local path into an absolute locator,
// passing through targets that already carry a scheme.
func (r *Resolver) absoluteTarget(target string) string {
	if strings.Contains(target, "://") {
		return target
	}

	authority := r.host
	if r.port != gemini.DefaultPort {
		authority += ":" + strconv.Itoa(r.port)
	}

	var b strings.Builder
	b.WriteString(gemini.Scheme)
	b.WriteString("://")
	b.WriteString(authority)
	for _, seg := range strings.Split(strings.Trim(target, "/"), "/") {
		if seg == "" {
			continue
		}
		b.WriteByte('/')
		b.WriteString(url.PathEscape(seg))
	}
	if strings.HasSuffix(target, "/") || target == "" {
		b.WriteByte('/')
	}
	return b.String()
}
