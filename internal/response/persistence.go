package response

import (
	"strings"
)

// compressibleTypes are the content types gzip is applied to on the fly.
var compressibleTypes = map[string]bool{
	"text/html":             true,
	"text/plain":            true,
	"text/javascript":       true,
	"text/css":              true,
	"application/xhtml+xml": true,
	"image/svg+xml":         true,
	"text/x-json":           true,
}

// decideFraming picks the body framing and decides whether the connection
// survives this reply.
func (r *Reply) decideFraming(length int64, contentType string) {
	// HTTP/1.0 closes by default unless "Connection: keep-alive";
	// HTTP/1.1 keeps alive unless "Connection: close"
	if r.req.WantsClose() {
		r.closeConnection = true
	}

	if r.status == StatusSwitchingProtocols {
		// the upgraded stream ends with the connection
		r.raw = true
		r.closeConnection = true
		return
	}

	if length >= 0 || !r.hasBody() {
		return
	}

	r.gzip = r.wantsGzip(contentType)

	// without a length the body end is either the last chunk or the close
	if r.req.IsHTTP11() && !r.closeConnection {
		r.chunked = true
	} else {
		r.closeConnection = true
	}
}

func (r *Reply) wantsGzip(contentType string) bool {
	if r.conf == nil || !r.conf.Compression {
		return false
	}
	if !r.req.AcceptsGzip() || r.Header("Content-Encoding") != "" {
		return false
	}
	base, _, _ := strings.Cut(contentType, ";")
	return compressibleTypes[strings.ToLower(strings.TrimSpace(base))]
}
