package request

import (
	"strconv"
	"strings"

	"github.com/Brownie44l1/httpconnector/internal/headers"
)

// Request holds the parsed fields of one in-flight HTTP exchange. A
// connection owns a single Request and resets it between keep-alive
// requests.
type Request struct {
	Method       string
	URI          string
	VersionMajor int
	VersionMinor int
	Headers      *headers.Headers

	// Path and Query are filled in by the request handler: Path is
	// URL-decoded, Query is the raw query string.
	Path      string
	Query     string
	ExtraPath string

	// ContentLength is -1 when the body length is not known up front
	// (chunked). Only valid after Parser.Validate.
	ContentLength int64
	Chunked       bool

	RemoteIP string
	// Scheme is "http" or "https", turned into "ws"/"wss" for upgrades.
	Scheme string

	// WebSocketVersion is -1 for plain requests, 0 for the hixie-76
	// handshake and 7, 8 or 13 for the RFC6455 family.
	WebSocketVersion int
}

func New() *Request {
	r := &Request{Headers: headers.NewHeaders()}
	r.Reset()
	return r
}

// Reset clears every field but the connection-level ones (remote address,
// transport scheme).
func (r *Request) Reset() {
	r.Method = ""
	r.URI = ""
	r.VersionMajor = 0
	r.VersionMinor = 0
	r.Headers.Reset()
	r.Path = ""
	r.Query = ""
	r.ExtraPath = ""
	r.ContentLength = 0
	r.Chunked = false
	r.WebSocketVersion = -1
	switch r.Scheme {
	case "ws":
		r.Scheme = "http"
	case "wss":
		r.Scheme = "https"
	}
}

// Header returns a header value, "" when absent.
func (r *Request) Header(name string) string {
	return r.Headers.Value(name)
}

// Version renders the protocol as sent on the wire, e.g. "HTTP/1.1".
func (r *Request) Version() string {
	if r.VersionMajor == 0 && r.VersionMinor == 0 {
		return "HTTP/1.1"
	}
	return "HTTP/" + strconv.Itoa(r.VersionMajor) + "." + strconv.Itoa(r.VersionMinor)
}

// IsHTTP10 checks if this is an HTTP/1.0 request
func (r *Request) IsHTTP10() bool {
	return r.VersionMajor == 1 && r.VersionMinor == 0
}

// IsHTTP11 checks if this is HTTP/1.1 or a later minor version
func (r *Request) IsHTTP11() bool {
	return r.VersionMajor > 1 || (r.VersionMajor == 1 && r.VersionMinor >= 1)
}

// WantsClose checks if the client asked for the connection to be closed
func (r *Request) WantsClose() bool {
	if r.Headers.HasToken("Connection", "close") {
		return true
	}
	// HTTP/1.0 closes by default
	return !r.IsHTTP11() && !r.Headers.HasToken("Connection", "keep-alive")
}

// WantsKeepAlive checks if the connection should stay open after the reply
func (r *Request) WantsKeepAlive() bool {
	return !r.WantsClose()
}

// AcceptsGzip reports whether the client listed gzip in Accept-Encoding.
func (r *Request) AcceptsGzip() bool {
	return strings.Contains(r.Header("Accept-Encoding"), "gzip")
}

// IsWebSocket reports whether the request asked for a WebSocket upgrade.
func (r *Request) IsWebSocket() bool {
	return r.WebSocketVersion >= 0
}

// Host returns the Host header.
func (r *Request) Host() string {
	return r.Header("Host")
}
