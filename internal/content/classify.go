package content

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/venlock/capsuled/internal/gemini"
)

// Classify maps a resolution outcome to a protocol response. It is a
// pure function: no filesystem or network I/O happens here. For a
// RegularFile the response carries the media type only; the connection
// handler opens and streams the file so large files are never buffered
// whole.
func Classify(res Resolved) gemini.Response {
	switch v := res.(type) {
	case RegularFile:
		return gemini.Response{Status: gemini.StatusSuccess, Meta: v.MediaType}
	case GeneratedIndex:
		return gemini.SuccessResponse(GeminiMediaType, strings.NewReader(renderIndex(v)))
	case Redirect:
		return gemini.RedirectResponse(v.Target, v.Permanent)
	case Input:
		return gemini.InputResponse(v.Prompt, v.Sensitive)
	case Denied:
		return gemini.Response{Status: gemini.StatusPermanentFailure, Meta: v.Reason}
	case Missing:
		return gemini.Response{Status: gemini.StatusNotFound, Meta: "not found"}
	default:
		// Unreachable while Resolved stays sealed.
		return gemini.Response{Status: gemini.StatusTemporaryFailure, Meta: "internal error"}
	}
}

// renderIndex builds the text/gemini listing body: a heading, then one
// link line per entry with directories marked by a trailing slash.
func renderIndex(idx GeneratedIndex) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Index of %s\n\n", idx.DisplayPath)
	for _, e := range idx.Entries {
		name := e.Name
		ref := url.PathEscape(e.Name)
		if e.IsDir {
			name += "/"
			ref += "/"
		}
		fmt.Fprintf(&b, "=> %s %s\n", ref, name)
	}
	return b.String()
}
