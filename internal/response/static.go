package response

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Brownie44l1/httpconnector/internal/config"
	"github.com/Brownie44l1/httpconnector/internal/request"
)

const (
	staticChunkSize = 16 * 1024
	cacheMaxAge     = 3600
	cacheExpires    = 31 * 24 * time.Hour
)

// staticContent streams (a range of) a file.
type staticContent struct {
	f           *os.File
	contentType string
	length      int64
	remaining   int64
	buf         []byte
	onShort     func()
}

func (s *staticContent) ContentType() string  { return s.contentType }
func (s *staticContent) ContentLength() int64 { return s.length }

func (s *staticContent) NextContent(out [][]byte) ([][]byte, bool) {
	if s.f == nil || s.remaining <= 0 {
		return out, true
	}
	if s.buf == nil {
		s.buf = make([]byte, staticChunkSize)
	}

	n, err := io.ReadFull(s.f, s.buf[:min(int64(len(s.buf)), s.remaining)])
	if n > 0 {
		out = append(out, s.buf[:n])
		s.remaining -= int64(n)
	}
	if err != nil && s.remaining > 0 {
		// the file shrank under us, Content-Length can no longer be honored
		s.remaining = 0
		if s.onShort != nil {
			s.onShort()
		}
	}
	return out, s.remaining == 0
}

func (s *staticContent) Release() {
	if s.f != nil {
		s.f.Close()
		s.f = nil
	}
}

// NewStaticReply serves the file at path. ext is its extension without the
// dot and selects the content type.
func NewStaticReply(path, ext string, req *request.Request, conf *config.Config) *Reply {
	begin, end, hasRange := parseRange(req.Header("Range"))
	if hasRange && end >= 0 && begin > end {
		hasRange = false
	}

	var f *os.File
	gzipped := false
	if !hasRange && req.AcceptsGzip() {
		if gz, err := os.Open(path + ".gz"); err == nil {
			f, gzipped = gz, true
		}
	}
	if f == nil {
		var err error
		if f, err = os.Open(path); err != nil {
			return NewStockReply(req, StatusNotFound, "", conf)
		}
	}

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		f.Close()
		return NewStockReply(req, StatusNotFound, "", conf)
	}

	size := info.Size()
	modified := FormatHTTPDate(info.ModTime())
	etag := `"` + strconv.FormatInt(size, 10) + "-" + modified + `"`

	content := &staticContent{f: f, contentType: MimeType(ext), length: size, remaining: size}
	r := newReply(req, StatusOK, content, conf)
	content.onShort = r.SetCloseConnection

	if ims, inm := req.Header("If-Modified-Since"), req.Header("If-None-Match"); (ims != "" && ims == modified) || (inm != "" && inm == etag) {
		content.Release()
		notModified := NewStockReply(req, StatusNotModified, "", conf)
		notModified.AddHeader("ETag", etag)
		notModified.AddHeader("Last-Modified", modified)
		r.SetRelay(notModified)
		return r
	}

	if hasRange {
		if begin >= size {
			content.Release()
			unsatisfiable := NewStockReply(req, StatusRequestedRangeNotSatisfiable, "", conf)
			unsatisfiable.AddHeader("Content-Range", "bytes */"+strconv.FormatInt(size, 10))
			r.SetRelay(unsatisfiable)
			return r
		}
		if end < 0 || end >= size {
			end = size - 1
		}
		if _, err := f.Seek(begin, io.SeekStart); err != nil {
			content.Release()
			r.SetRelay(NewStockReply(req, StatusRequestedRangeNotSatisfiable, "", conf))
			return r
		}
		r.status = StatusPartialContent
		content.length = end - begin + 1
		content.remaining = content.length
		r.AddHeader("Content-Range", fmt.Sprintf("bytes %d-%d/%d", begin, end, size))
	}

	r.AddHeader("Accept-Ranges", "bytes")
	r.AddHeader("Last-Modified", modified)
	if !(strings.Contains(req.Header("User-Agent"), "MSIE") && strings.EqualFold(ext, "swf")) {
		r.AddHeader("Cache-Control", "max-age="+strconv.Itoa(cacheMaxAge))
		r.AddHeader("ETag", etag)
		r.AddHeader("Expires", FormatHTTPDate(time.Now().Add(cacheExpires)))
	}
	if gzipped {
		r.AddHeader("Content-Encoding", "gzip")
	}

	if req.Method == "HEAD" {
		// headers only, the file is never read
		content.Release()
	}
	return r
}

// parseRange understands a single "bytes=N-" or "bytes=N-M" range. end is
// -1 when open.
func parseRange(h string) (begin, end int64, ok bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(h, prefix) {
		return 0, 0, false
	}
	spec := strings.TrimSpace(h[len(prefix):])
	if strings.Contains(spec, ",") {
		return 0, 0, false
	}
	first, last, found := strings.Cut(spec, "-")
	if !found || first == "" {
		return 0, 0, false
	}

	begin, err := strconv.ParseInt(strings.TrimSpace(first), 10, 64)
	if err != nil || begin < 0 {
		return 0, 0, false
	}
	end = -1
	if last = strings.TrimSpace(last); last != "" {
		if end, err = strconv.ParseInt(last, 10, 64); err != nil || end < 0 {
			return 0, 0, false
		}
	}
	return begin, end, true
}
