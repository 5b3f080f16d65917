// Package content maps validated requests to resources under the
// content root and classifies the outcome into protocol responses.
//
// The resolver is the only component that touches the filesystem for
// request handling. Every candidate path is canonicalized with symlinks
// resolved and checked to still be a descendant of the canonical root
// before anything is opened, so neither encoded dot segments nor
// symlinks can reach outside the root.
//
//   - resolved.go: the closed outcome variant the resolver produces
//   - resolver.go: request path -> filesystem resolution
//   - mediatype.go: extension -> media type table
//   - classify.go: outcome -> response (pure, no I/O)
package content
