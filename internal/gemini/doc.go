// Package gemini implements the Gemini wire protocol: the single-line
// request grammar, the two-digit status taxonomy, and response header
// serialization.
//
// A request is one absolute gemini:// URL terminated by CRLF, at most
// 1024 bytes before the terminator. A response is one header line
// "<status><SP><meta>\r\n" followed by raw body bytes for success
// statuses only. The package performs no network or filesystem I/O
// beyond the reader/writer it is handed.
package gemini
