package content

// Resolved is the outcome of resolving one request against the content
// root. The set of implementations below is closed; Classify is total
// over it.
type Resolved interface {
	resolved()
}

// RegularFile is a servable file. The caller streams the file itself;
// the resolver only stats it.
type RegularFile struct {
	// Path is the canonical absolute filesystem path, guaranteed to be
	// a descendant of the content root.
	Path      string
	Size      int64
	MediaType string
}

// GeneratedIndex is a synthesized listing for a directory that has no
// index file. Entries are the directory's direct children, dotfiles
// excluded, sorted directories-first then by name, so a listing is
// deterministic for an unchanged directory.
type GeneratedIndex struct {
	// DisplayPath is the decoded request path, used as the listing
	// heading.
	DisplayPath string
	Entries     []IndexEntry
}

// IndexEntry is one row of a generated listing.
type IndexEntry struct {
	Name  string
	IsDir bool
}

// Redirect sends the client to Target, an absolute locator.
type Redirect struct {
	Target    string
	Permanent bool
}

// Input asks the client to retry with a query string.
type Input struct {
	Prompt    string
	Sensitive bool
}

// Denied is a refused resolution: path escape, canonicalization failure,
// or a filesystem error other than absence. Reason is a fixed generic
// string, never raw error text.
type Denied struct {
	Reason string
}

// Missing is an absent resource, a special file, or a request for a
// different authority.
type Missing struct{}

func (RegularFile) resolved()    {}
func (GeneratedIndex) resolved() {}
func (Redirect) resolved()       {}
func (Input) resolved()          {}
func (Denied) resolved()         {}
func (Missing) resolved()        {}
