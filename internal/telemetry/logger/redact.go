package logger

import (
	"log/slog"
	"strings"
)

// redactedQuery replaces a URL query component in log output.
const redactedQuery = "?[redacted]"

// urlKeys are attribute keys whose string values are treated as URLs.
var urlKeys = map[string]bool{
	"url":    true,
	"target": true,
}

// redactAttr strips the query component from URL-valued attributes.
// The path is kept: it is what operators need, while the query is where
// user-supplied input lives.
func redactAttr(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		out := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			out[i] = redactAttr(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	}

	if a.Value.Kind() != slog.KindString || !urlKeys[strings.ToLower(a.Key)] {
		return a
	}
	return slog.String(a.Key, RedactURL(a.Value.String()))
}

// RedactURL removes the query component of a URL string, marking that
// something was removed. Safe to call on plain paths.
func RedactURL(u string) string {
	i := strings.IndexByte(u, '?')
	if i < 0 {
		return u
	}
	return u[:i] + redactedQuery
}
