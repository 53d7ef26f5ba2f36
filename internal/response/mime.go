package response

import "strings"

var mimeTypes = map[string]string{
	"html":  "text/html",
	"htm":   "text/html",
	"xhtml": "application/xhtml+xml",
	"css":   "text/css",
	"js":    "text/javascript",
	"json":  "text/x-json",
	"txt":   "text/plain",
	"xml":   "text/xml",
	"svg":   "image/svg+xml",
	"png":   "image/png",
	"gif":   "image/gif",
	"jpg":   "image/jpeg",
	"jpeg":  "image/jpeg",
	"ico":   "image/vnd.microsoft.icon",
	"swf":   "application/x-shockwave-flash",
	"pdf":   "application/pdf",
	"csv":   "text/csv",
	"wasm":  "application/wasm",
	"woff":  "font/woff",
	"woff2": "font/woff2",
	"mp3":   "audio/mpeg",
	"mp4":   "video/mp4",
	"ogg":   "application/ogg",
	"zip":   "application/zip",
}

// MimeType maps a file extension (without the dot) to a content type.
func MimeType(ext string) string {
	if t, ok := mimeTypes[strings.ToLower(ext)]; ok {
		return t
	}
	return "application/octet-stream"
}
