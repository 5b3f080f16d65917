package gemini

import (
	"fmt"
	"io"
	"strconv"
)

// Response is one protocol response: a status, a single-line meta string
// whose meaning depends on the status category (media type, prompt text,
// redirect target, or failure detail), and an optional body.
//
// Body is consulted only for success statuses; for every other category
// the connection closes after the header line.
type Response struct {
	Status Status
	Meta   string
	Body   io.Reader
}

// SuccessResponse builds a success response carrying the given media type
// and body stream.
func SuccessResponse(mediaType string, body io.Reader) Response {
	return Response{Status: StatusSuccess, Meta: mediaType, Body: body}
}

// RedirectResponse builds a redirect to target, permanent or temporary.
func RedirectResponse(target string, permanent bool) Response {
	st := StatusRedirectTemporary
	if permanent {
		st = StatusRedirectPermanent
	}
	return Response{Status: st, Meta: target}
}

// InputResponse builds an input-required response with the given prompt.
func InputResponse(prompt string, sensitive bool) Response {
	st := StatusInput
	if sensitive {
		st = StatusSensitiveInput
	}
	return Response{Status: st, Meta: prompt}
}

// SlowDownResponse tells the client to wait retryAfter seconds.
func SlowDownResponse(retryAfter int) Response {
	return Response{Status: StatusSlowDown, Meta: strconv.Itoa(retryAfter)}
}

// WriteResponse serializes resp to w: the header line, then the body
// verbatim for success statuses. It returns the number of body bytes
// written.
//
// Meta is sanitized before emit: control bytes (including CR and LF) are
// stripped and the result is truncated to MaxMetaBytes, so a response
// header can never be split or smuggled by its meta string.
func WriteResponse(w io.Writer, resp Response) (int64, error) {
	if !resp.Status.Valid() {
		return 0, fmt.Errorf("gemini: invalid status %d", int(resp.Status))
	}

	header := make([]byte, 0, 64)
	header = strconv.AppendInt(header, int64(resp.Status), 10)
	header = append(header, ' ')
	header = append(header, sanitizeMeta(resp.Meta)...)
	header = append(header, '\r', '\n')

	if _, err := w.Write(header); err != nil {
		return 0, err
	}

	if !resp.Status.IsSuccess() || resp.Body == nil {
		return 0, nil
	}
	return io.Copy(w, resp.Body)
}

// sanitizeMeta strips control characters and enforces the meta length
// ceiling. Multi-byte UTF-8 sequences pass through untouched.
func sanitizeMeta(meta string) []byte {
	out := make([]byte, 0, len(meta))
	for i := 0; i < len(meta); i++ {
		b := meta[i]
		if b < 0x20 || b == 0x7f {
			continue
		}
		out = append(out, b)
	}
	if len(out) > MaxMetaBytes {
		out = out[:MaxMetaBytes]
	}
	return out
}
