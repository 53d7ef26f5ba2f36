package response

import (
	"bufio"
	"bytes"
	"fmt"
	"html"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/Brownie44l1/httpconnector/internal/config"
	"github.com/Brownie44l1/httpconnector/internal/request"
)

// Placeholders recognised in error page templates.
const (
	tokenSpecialContent     = "<-- SPECIAL CONTENT -->"
	tokenOriginalURL        = "<-- ORIGINAL URL -->"
	tokenOriginalURLEscaped = "<-- ORIGINAL URL ESCAPED -->"
)

const maxTemplateLine = 1 << 20

// stockContent is a canned page, sent in one piece.
type stockContent struct {
	body []byte
	sent bool
}

func (s *stockContent) ContentType() string {
	if len(s.body) == 0 {
		return ""
	}
	return "text/html"
}

func (s *stockContent) ContentLength() int64 {
	return int64(len(s.body))
}

func (s *stockContent) NextContent(out [][]byte) ([][]byte, bool) {
	if !s.sent && len(s.body) > 0 {
		s.sent = true
		out = append(out, s.body)
	}
	return out, true
}

// NewStockReply builds a status page for code. extra is inserted where the
// template asks for special content.
func NewStockReply(req *request.Request, code StatusCode, extra string, conf *config.Config) *Reply {
	var body []byte
	if code.bodyAllowed() {
		body = stockPage(req, code, extra, conf)
	}

	r := newReply(req, code, &stockContent{body: body}, conf)
	if code == StatusRequestEntityTooLarge {
		// the unread body is still on the wire
		r.SetCloseConnection()
	}
	return r
}

// NewRedirectReply sends the client to location.
func NewRedirectReply(req *request.Request, code StatusCode, location string, conf *config.Config) *Reply {
	link := fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(location), html.EscapeString(location))
	r := NewStockReply(req, code, link, conf)
	r.SetLocation(location)
	return r
}

func stockPage(req *request.Request, code StatusCode, extra string, conf *config.Config) []byte {
	if conf != nil && conf.ErrorRoot != "" {
		name := fmt.Sprintf("%d-%s.html", int(code), code.slug())
		if page, err := renderTemplate(filepath.Join(conf.ErrorRoot, name), req, extra); err == nil && len(page) > 0 {
			return page
		}
	}

	title := fmt.Sprintf("%d %s", int(code), StatusText(code))
	return []byte("<html><head><title>" + title + "</title></head><body><h1>" + title + "</h1>" + extra + "</body></html>")
}

func renderTemplate(path string, req *request.Request, extra string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	original := "http://" + req.Host() + req.URI
	replacer := strings.NewReplacer(
		tokenOriginalURLEscaped, url.QueryEscape(original),
		tokenSpecialContent, extra,
		tokenOriginalURL, html.EscapeString(original),
	)

	var out bytes.Buffer
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 4096), maxTemplateLine)
	for scanner.Scan() {
		out.WriteString(replacer.Replace(scanner.Text()))
		out.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading error page %s: %w", path, err)
	}
	return out.Bytes(), nil
}
