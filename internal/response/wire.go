package response

import (
	"strconv"
	"time"
)

// TimeFormat is the RFC 1123 date layout used in Date, Expires and
// Last-Modified headers.
const TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

var (
	crlf      = []byte("\r\n")
	lastChunk = []byte("0\r\n\r\n")
)

// FormatHTTPDate renders t in the HTTP date format.
func FormatHTTPDate(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// appendStatusLine writes e.g. "HTTP/1.1 404 Not Found\r\n". An empty
// reason selects the standard phrase.
func appendStatusLine(b []byte, proto string, code StatusCode, reason string) []byte {
	if reason == "" {
		reason = StatusText(code)
	}
	b = append(b, proto...)
	b = append(b, ' ')
	b = strconv.AppendInt(b, int64(code), 10)
	b = append(b, ' ')
	b = append(b, reason...)
	return append(b, crlf...)
}

func appendHeader(b []byte, name, value string) []byte {
	b = append(b, name...)
	b = append(b, ": "...)
	b = append(b, value...)
	return append(b, crlf...)
}

// appendChunkHeader writes the "<hex length>\r\n" line that opens a chunk.
func appendChunkHeader(b []byte, n int) []byte {
	b = strconv.AppendInt(b, int64(n), 16)
	return append(b, crlf...)
}

func buffersLen(bufs [][]byte) int {
	n := 0
	for _, b := range bufs {
		n += len(b)
	}
	return n
}
