package content

import (
	"path/filepath"
	"strings"
)

// DefaultMediaType is used for files whose extension is not in the table.
const DefaultMediaType = "application/octet-stream"

// GeminiMediaType is the native hypertext format.
const GeminiMediaType = "text/gemini"

// mediaTypes is the fixed extension table. It is deliberately small and
// static; content negotiation is out of scope.
var mediaTypes = map[string]string{
	".gmi":    GeminiMediaType,
	".gemini": GeminiMediaType,
	".txt":    "text/plain; charset=utf-8",
	".md":     "text/markdown; charset=utf-8",
	".html":   "text/html; charset=utf-8",
	".htm":    "text/html; charset=utf-8",
	".css":    "text/css",
	".xml":    "application/xml",
	".json":   "application/json",
	".pdf":    "application/pdf",
	".zip":    "application/zip",
	".gz":     "application/gzip",
	".png":    "image/png",
	".jpg":    "image/jpeg",
	".jpeg":   "image/jpeg",
	".gif":    "image/gif",
	".webp":   "image/webp",
	".svg":    "image/svg+xml",
	".ico":    "image/x-icon",
	".mp3":    "audio/mpeg",
	".ogg":    "audio/ogg",
	".flac":   "audio/flac",
	".mp4":    "video/mp4",
	".webm":   "video/webm",
}

// MediaTypeFor returns the media type for a file name based on its
// extension, falling back to DefaultMediaType.
func MediaTypeFor(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if mt, ok := mediaTypes[ext]; ok {
		return mt
	}
	return DefaultMediaType
}
