package router

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/httpconnector/internal/config"
	"github.com/Brownie44l1/httpconnector/internal/request"
	"github.com/Brownie44l1/httpconnector/internal/response"
)

type inlineDispatcher struct{}

func (inlineDispatcher) Dispatch(task func(), _ func(any)) { task() }

func parse(t *testing.T, raw string) *request.Request {
	t.Helper()
	req := request.New()
	req.Scheme = "http"
	p := request.NewParser(0, 1<<16)
	res, _ := p.Parse(req, []byte(raw))
	require.Equal(t, request.Good, res)
	require.NoError(t, p.Validate(req))
	return req
}

// head renders the status line and headers of a reply.
func head(r *response.Reply) string {
	var b strings.Builder
	bufs, _ := r.NextBuffers(nil)
	for _, buf := range bufs {
		b.Write(buf)
	}
	h, _, _ := strings.Cut(b.String(), "\r\n\r\n")
	return h
}

func newTestRouter(t *testing.T) (*Router, *[]string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>home</h1>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "style.css"), []byte("body{}"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docs", "index.html"), []byte("docs"), 0o644))

	conf := config.Default()
	conf.DocRoot = dir

	var calls []string
	record := func(name string) response.Application {
		return response.ApplicationFunc(func(ex *response.Exchange) {
			calls = append(calls, name+":"+ex.Request().ExtraPath)
			ex.Flush(false, nil)
		})
	}

	r := New(conf, inlineDispatcher{})
	r.Mount("/app", record("app"))
	r.Mount("/app/admin/", record("admin"))
	return r, &calls
}

func TestMatchPath(t *testing.T) {
	tests := []struct {
		mount, path, extra string
		ok                 bool
	}{
		{"/app", "/app", "", true},
		{"/app", "/app/", "/", true},
		{"/app", "/app/x/y", "/x/y", true},
		{"/app", "/application", "", false},
		{"/app", "/ap", "", false},
		{"", "/anything", "/anything", true},
	}

	for _, tt := range tests {
		extra, ok := matchPath(tt.mount, tt.path)
		assert.Equal(t, tt.ok, ok, "%s below %s", tt.path, tt.mount)
		assert.Equal(t, tt.extra, extra, "%s below %s", tt.path, tt.mount)
	}
}

func TestHandleRoutes(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		status string
		header string
	}{
		{"index", "GET / HTTP/1.1\r\n\r\n", "HTTP/1.1 200 OK", "Content-Type: text/html"},
		{"file", "GET /style.css HTTP/1.1\r\n\r\n", "HTTP/1.1 200 OK", "Content-Type: text/css"},
		{"encoded path", "GET /style%2Ecss HTTP/1.1\r\n\r\n", "HTTP/1.1 200 OK", "Content-Type: text/css"},
		{"query ignored", "GET /style.css?v=2 HTTP/1.1\r\n\r\n", "HTTP/1.1 200 OK", ""},
		{"head", "HEAD /style.css HTTP/1.1\r\n\r\n", "HTTP/1.1 200 OK", "Content-Length: 6"},
		{"missing", "GET /missing.html HTTP/1.1\r\n\r\n", "HTTP/1.1 404 Not Found", ""},
		{"directory slash", "GET /docs HTTP/1.1\r\n\r\n", "HTTP/1.1 301 Moved Permanently", "Location: /docs/"},
		{"directory index", "GET /docs/ HTTP/1.1\r\n\r\n", "HTTP/1.1 200 OK", "Content-Length: 4"},
		{"ie fragment", "GET /docs/#top HTTP/1.1\r\n\r\n", "HTTP/1.1 200 OK", "Content-Length: 4"},
		{"dot dot", "GET /../etc/passwd HTTP/1.1\r\n\r\n", "HTTP/1.1 400 Bad Request", ""},
		{"encoded dot dot", "GET /%2e%2e/secret HTTP/1.1\r\n\r\n", "HTTP/1.1 400 Bad Request", ""},
		{"relative", "GET style.css HTTP/1.1\r\n\r\n", "HTTP/1.1 400 Bad Request", ""},
		{"bad escape", "GET /%zz HTTP/1.1\r\n\r\n", "HTTP/1.1 400 Bad Request", ""},
		{"unsupported method", "TRACE / HTTP/1.1\r\n\r\n", "HTTP/1.1 501 Not Implemented", ""},
		{"unsupported version", "GET / HTTP/2.0\r\n\r\n", "HTTP/1.1 501 Not Implemented", ""},
		{"static post", "POST /style.css HTTP/1.1\r\n\r\n", "HTTP/1.1 501 Not Implemented", ""},
		{"websocket without app", "GET /ws HTTP/1.1\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Key: a2V5\r\nSec-WebSocket-Version: 13\r\n\r\n", "HTTP/1.1 400 Bad Request", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRouter(t)
			reply := r.Handle(parse(t, tt.raw))
			t.Cleanup(reply.Release)

			h := head(reply)
			assert.True(t, strings.HasPrefix(h, tt.status+"\r\n"), "got %q", h)
			if tt.header != "" {
				assert.Contains(t, h, tt.header)
			}
		})
	}
}

func TestHandleApplications(t *testing.T) {
	r, calls := newTestRouter(t)

	for _, uri := range []string{"/app", "/app/x?y=1", "/app/admin/users", "/application"} {
		req := parse(t, "POST "+uri+" HTTP/1.1\r\n\r\n")
		reply := r.Handle(req)
		reply.ConsumeData(nil, request.ReadComplete)
		reply.Release()
	}

	assert.Equal(t, []string{"app:", "app:/x", "admin:/users"}, *calls)
}

func TestHandleSetsPathAndQuery(t *testing.T) {
	r, _ := newTestRouter(t)
	req := parse(t, "GET /app/a%20b?x=%20 HTTP/1.1\r\n\r\n")
	r.Handle(req).Release()

	assert.Equal(t, "/app/a b", req.Path)
	assert.Equal(t, "x=%20", req.Query)
	assert.Equal(t, "/a b", req.ExtraPath)
}

func TestMountEntryPoints(t *testing.T) {
	conf := config.Default()
	conf.EntryPoints = []config.EntryPoint{{Path: "/echo", App: "echo"}}
	app := response.ApplicationFunc(func(ex *response.Exchange) { ex.Flush(false, nil) })

	r := New(conf, inlineDispatcher{})
	require.NoError(t, r.MountEntryPoints(map[string]response.Application{"echo": app}))
	route, extra := r.Match("/echo/1")
	require.NotNil(t, route)
	assert.Equal(t, "/1", extra)

	conf.EntryPoints = []config.EntryPoint{{Path: "/x", App: "missing"}}
	assert.ErrorIs(t, New(conf, inlineDispatcher{}).MountEntryPoints(nil), ErrUnknownApplication)
}
