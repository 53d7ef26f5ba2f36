package server

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/httpconnector/internal/apps"
	"github.com/Brownie44l1/httpconnector/internal/config"
	"github.com/Brownie44l1/httpconnector/internal/logging"
	"github.com/Brownie44l1/httpconnector/internal/response"
	"github.com/Brownie44l1/httpconnector/internal/router"
	"github.com/Brownie44l1/httpconnector/internal/testutil"
)

// lockedBuffer collects the access log written from connection goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Split(strings.TrimSpace(b.buf.String()), "\n")
}

type testServer struct {
	*Server
	addr   string
	access *lockedBuffer
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>home</h1>"), 0o644))

	conf := config.Default()
	conf.HTTPAddr = "127.0.0.1:0"
	conf.DocRoot = dir
	conf.Threads = 2
	return conf
}

func startServer(t *testing.T, conf *config.Config, mounts map[string]response.Application) *testServer {
	t.Helper()

	logger := logging.NullLogger{}
	workers := NewWorkerPool(conf.Threads, logger)
	rt := router.New(conf, workers)
	rt.Mount("/echo", apps.NewEcho(logger))
	for path, app := range mounts {
		rt.Mount(path, app)
	}

	access := &lockedBuffer{}
	s, err := New(conf, rt, Options{
		Logger:    logger,
		AccessLog: logging.NewAccessLog(access),
		Workers:   workers,
	})
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)

	return &testServer{Server: s, addr: s.Addrs()[0].String(), access: access}
}

func dial(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn, bufio.NewReader(conn)
}

func readResponse(t *testing.T, r *bufio.Reader, method string) (*http.Response, string) {
	t.Helper()
	resp, err := http.ReadResponse(r, &http.Request{Method: method})
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, string(body)
}

func TestServeStaticFile(t *testing.T) {
	s := startServer(t, testConfig(t), nil)

	resp, err := http.Get("http://" + s.addr + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "text/html", resp.Header.Get("Content-Type"))
	assert.Equal(t, "<h1>home</h1>", string(body))
}

func TestServeNotFound(t *testing.T) {
	s := startServer(t, testConfig(t), nil)

	resp, err := http.Get("http://" + s.addr + "/missing.html")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, 404, resp.StatusCode)
	assert.Contains(t, string(body), "404 Not Found")
	assert.Equal(t, int64(len(body)), resp.ContentLength)
}

func TestKeepAliveServesSeveralRequests(t *testing.T) {
	s := startServer(t, testConfig(t), nil)
	conn, r := dial(t, s.addr)

	for i := 0; i < 3; i++ {
		_, err := conn.Write([]byte("GET / HTTP/1.1\r\nHost: test\r\n\r\n"))
		require.NoError(t, err)
		resp, body := readResponse(t, r, "GET")
		assert.Equal(t, 200, resp.StatusCode)
		assert.Equal(t, "keep-alive", resp.Header.Get("Connection"))
		assert.Equal(t, "<h1>home</h1>", body)
	}

	require.Eventually(t, func() bool { return s.Stats().RequestsTotal == 3 }, time.Second, 10*time.Millisecond)
	assert.Len(t, s.access.Lines(), 3)
	assert.Contains(t, s.access.Lines()[0], `"status":200`)
	assert.Equal(t, int64(1), s.Stats().ActiveConnections)
}

func TestFoundAndMissingOnOneConnection(t *testing.T) {
	s := startServer(t, testConfig(t), nil)
	conn, r := dial(t, s.addr)

	_, err := conn.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)
	resp, _ := readResponse(t, r, "GET")
	assert.Equal(t, 200, resp.StatusCode)

	_, err = conn.Write([]byte("GET /missing.html HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)
	resp, body := readResponse(t, r, "GET")
	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, int64(len(body)), resp.ContentLength)
	assert.Equal(t, "keep-alive", resp.Header.Get("Connection"))

	require.Eventually(t, func() bool { return s.Stats().RequestsTotal == 2 }, time.Second, 10*time.Millisecond)
	lines := s.access.Lines()
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"status":200`)
	assert.Contains(t, lines[1], `"status":404`)
	assert.Contains(t, lines[1], `"uri":"/missing.html"`)
	assert.Equal(t, int64(1), s.Stats().ActiveConnections)
}

func TestPipelinedRequests(t *testing.T) {
	s := startServer(t, testConfig(t), nil)
	conn, r := dial(t, s.addr)

	_, err := conn.Write([]byte("GET / HTTP/1.1\r\n\r\nGET /missing HTTP/1.1\r\n\r\nGET /echo/p HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)

	resp, _ := readResponse(t, r, "GET")
	assert.Equal(t, 200, resp.StatusCode)
	resp, _ = readResponse(t, r, "GET")
	assert.Equal(t, 404, resp.StatusCode)
	resp, body := readResponse(t, r, "GET")
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "GET /echo/p\n", body)
}

func TestHTTP10ClosesConnection(t *testing.T) {
	s := startServer(t, testConfig(t), nil)
	conn, _ := dial(t, s.addr)

	_, err := conn.Write([]byte("GET / HTTP/1.0\r\n\r\n"))
	require.NoError(t, err)
	raw, err := io.ReadAll(conn)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(string(raw), "HTTP/1.0 200 OK\r\n"))
	assert.Contains(t, string(raw), "Connection: close\r\n")
	assert.True(t, strings.HasSuffix(string(raw), "<h1>home</h1>"))
}

func TestBadRequestClosesConnection(t *testing.T) {
	s := startServer(t, testConfig(t), nil)
	conn, r := dial(t, s.addr)

	_, err := conn.Write([]byte("GET / HTTP/1.1\r\nbroken header\r\n\r\n"))
	require.NoError(t, err)

	resp, _ := readResponse(t, r, "GET")
	assert.Equal(t, 400, resp.StatusCode)
	assert.Equal(t, "close", resp.Header.Get("Connection"))
	_, err = r.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
}

func TestRequestTooLarge(t *testing.T) {
	conf := testConfig(t)
	conf.MaxRequestSize = 10
	s := startServer(t, conf, nil)
	conn, r := dial(t, s.addr)

	_, err := conn.Write([]byte("POST /echo HTTP/1.1\r\nContent-Length: 100\r\n\r\n"))
	require.NoError(t, err)

	resp, _ := readResponse(t, r, "POST")
	assert.Equal(t, 413, resp.StatusCode)
}

func TestApplicationEchoesBody(t *testing.T) {
	s := startServer(t, testConfig(t), nil)

	payload := strings.Repeat("0123456789", 2000)
	resp, err := http.Post("http://"+s.addr+"/echo/up", "text/plain", strings.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "/up", resp.Header.Get("X-Extra-Path"))
	assert.Equal(t, payload, string(body))
}

func TestChunkedUploadAndStreamedReply(t *testing.T) {
	stream := response.ApplicationFunc(func(ex *response.Exchange) {
		var step func(i int)
		step = func(i int) {
			if i == 3 {
				ex.Flush(false, nil)
				return
			}
			ex.WriteString(strings.Repeat("x", 10))
			ex.Flush(true, func(err error) {
				if err == nil {
					step(i + 1)
				}
			})
		}
		step(0)
	})
	s := startServer(t, testConfig(t), map[string]response.Application{"/stream": stream})
	conn, r := dial(t, s.addr)

	_, err := conn.Write([]byte("POST /stream HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nabc\r\n0\r\n\r\n"))
	require.NoError(t, err)

	resp, body := readResponse(t, r, "POST")
	assert.Equal(t, []string{"chunked"}, resp.TransferEncoding)
	assert.Equal(t, strings.Repeat("x", 30), body)
}

func TestChunkedBodySplitAcrossReads(t *testing.T) {
	head := "POST /echo HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n"
	tests := []struct {
		name  string
		parts []string
	}{
		{"size line", []string{head + "5", "\r\nhello\r\n0\r\n\r\n"}},
		{"size line CRLF", []string{head + "5\r", "\nhello\r\n0\r\n\r\n"}},
		{"chunk extension", []string{head + "5;ext=", "1\r\nhello\r\n0\r\n\r\n"}},
		{"data CRLF", []string{head + "5\r\nhello\r", "\n0\r\n\r\n"}},
		{"last chunk", []string{head + "5\r\nhello\r\n0\r\n", "\r\n"}},
		{"trailer", []string{head + "5\r\nhello\r\n0\r\nX-Sum: 1", "\r\n\r\n"}},
		{"byte by byte", strings.Split(head+"5\r\nhello\r\n0\r\n\r\n", "")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := startServer(t, testConfig(t), nil)
			conn, r := dial(t, s.addr)

			for _, part := range tt.parts {
				_, err := conn.Write([]byte(part))
				require.NoError(t, err)
				time.Sleep(5 * time.Millisecond)
			}

			resp, body := readResponse(t, r, "POST")
			assert.Equal(t, 200, resp.StatusCode)
			assert.Equal(t, "hello", body)
			assert.False(t, resp.Close)

			// Test: the connection is still usable afterwards
			_, err := conn.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
			require.NoError(t, err)
			resp, body = readResponse(t, r, "GET")
			assert.Equal(t, 200, resp.StatusCode)
			assert.Equal(t, "<h1>home</h1>", body)
		})
	}
}

func TestChunkedBodyBrokenFramingClosesConnection(t *testing.T) {
	s := startServer(t, testConfig(t), nil)
	conn, r := dial(t, s.addr)

	_, err := conn.Write([]byte("POST /echo HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n5"))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = conn.Write([]byte("\r\nhelloXX0\r\n\r\n"))
	require.NoError(t, err)

	resp, _ := readResponse(t, r, "POST")
	assert.Equal(t, 400, resp.StatusCode)
	assert.True(t, resp.Close)

	_, err = r.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStopWhileChunkedBodyIncomplete(t *testing.T) {
	s := startServer(t, testConfig(t), nil)
	conn, _ := dial(t, s.addr)

	_, err := conn.Write([]byte("POST /echo HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n5"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.manager.Len() == 1 }, time.Second, 10*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.Equal(t, 0, s.manager.Len())
}

func TestApplicationPanicReturns500(t *testing.T) {
	boom := response.ApplicationFunc(func(*response.Exchange) { panic("boom") })
	s := startServer(t, testConfig(t), map[string]response.Application{"/boom": boom})

	resp, err := http.Get("http://" + s.addr + "/boom")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 500, resp.StatusCode)
	require.Eventually(t, func() bool { return s.Stats().Errors5xx == 1 }, time.Second, 10*time.Millisecond)
}

func TestKeepAliveTimeout(t *testing.T) {
	conf := testConfig(t)
	conf.KeepAliveTimeout = 100 * time.Millisecond
	s := startServer(t, conf, nil)
	conn, r := dial(t, s.addr)

	_, err := conn.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)
	readResponse(t, r, "GET")

	start := time.Now()
	_, err = r.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
	assert.Less(t, time.Since(start), 2*time.Second)
	require.Eventually(t, func() bool { return s.Stats().ActiveConnections == 0 }, time.Second, 10*time.Millisecond)
}

func TestWebSocketEcho(t *testing.T) {
	s := startServer(t, testConfig(t), nil)

	ws, resp, err := websocket.DefaultDialer.Dial("ws://"+s.addr+"/echo", nil)
	require.NoError(t, err)
	defer ws.Close()
	assert.Equal(t, 101, resp.StatusCode)

	for _, msg := range []string{"hello", strings.Repeat("big", 30000)} {
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(msg)))
		op, got, err := ws.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, op)
		assert.Equal(t, msg, string(got))
	}

	// Test: binary messages keep their type
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte{0, 1, 2}))
	op, got, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, op)
	assert.Equal(t, []byte{0, 1, 2}, got)

	// Test: the close handshake is echoed
	require.NoError(t, ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_, _, err = ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestWebSocketPing(t *testing.T) {
	s := startServer(t, testConfig(t), nil)

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+s.addr+"/echo", nil)
	require.NoError(t, err)
	defer ws.Close()

	pong := make(chan string, 1)
	ws.SetPongHandler(func(data string) error {
		pong <- data
		return nil
	})
	require.NoError(t, ws.WriteControl(websocket.PingMessage, []byte("are you there"), time.Now().Add(time.Second)))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("after ping")))

	// the pong handler runs from inside ReadMessage
	_, got, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "after ping", string(got))
	assert.Equal(t, "are you there", <-pong)
}

func TestHixieWebSocket(t *testing.T) {
	s := startServer(t, testConfig(t), nil)
	conn, r := dial(t, s.addr)

	_, err := conn.Write([]byte("GET /echo HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key2: 12998 5 Y3 1  .P00\r\n" +
		"Upgrade: WebSocket\r\n" +
		"Sec-WebSocket-Key1: 4 @1  46546xW%0l 1 5\r\n" +
		"Origin: http://example.com\r\n" +
		"\r\n" +
		"^n:ds[4U"))
	require.NoError(t, err)

	status, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 101 WebSocket Protocol Handshake\r\n", status)
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if line == "\r\n" {
			break
		}
	}

	digest := make([]byte, 16)
	_, err = io.ReadFull(r, digest)
	require.NoError(t, err)
	assert.Equal(t, "8jKS'y:G*Co,Wxa-", string(digest))

	_, err = conn.Write([]byte("\x00hello\xff"))
	require.NoError(t, err)
	frame := make([]byte, 7)
	_, err = io.ReadFull(r, frame)
	require.NoError(t, err)
	assert.Equal(t, "\x00hello\xff", string(frame))
}

func TestServeTLS(t *testing.T) {
	conf := testConfig(t)
	conf.HTTPAddr = ""
	conf.HTTPSAddr = "127.0.0.1:0"
	conf.CertFile, conf.KeyFile = testutil.SelfSignedCert(t, t.TempDir())
	s := startServer(t, conf, nil)

	client := &http.Client{Transport: &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}}
	resp, err := client.Get("https://" + s.addr + "/echo/secure")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "GET /echo/secure\n", string(body))

	// Test: WebSocket over TLS
	dialer := websocket.Dialer{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	ws, _, err := dialer.Dial("wss://"+s.addr+"/echo", nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("secret")))
	_, got, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "secret", string(got))
}

func TestStopClosesConnections(t *testing.T) {
	s := startServer(t, testConfig(t), nil)
	_, r := dial(t, s.addr)

	require.Eventually(t, func() bool { return s.manager.Len() == 1 }, time.Second, 10*time.Millisecond)
	s.Stop()

	_, err := r.ReadByte()
	assert.Error(t, err)
	assert.Equal(t, 0, s.manager.Len())

	_, err = net.Dial("tcp", s.addr)
	assert.Error(t, err)
}

type expireAfter struct {
	mu    sync.Mutex
	calls int
	limit int
}

func (e *expireAfter) ExpireSessions(time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return e.calls >= e.limit
}

func TestSessionExpiryShutsDown(t *testing.T) {
	conf := testConfig(t)
	conf.SessionExpiry = 10 * time.Millisecond
	expirer := &expireAfter{limit: 3}

	s, err := New(conf, router.New(conf, nil), Options{Expirer: expirer})
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Stop()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not ask to shut down")
	}
	expirer.mu.Lock()
	assert.Equal(t, 3, expirer.calls)
	expirer.mu.Unlock()
}

func TestConnectionGuardsConcurrentReads(t *testing.T) {
	conf := testConfig(t)
	s, err := New(conf, router.New(conf, nil), Options{})
	require.NoError(t, err)

	client, srv := net.Pipe()
	defer client.Close()
	c := newConnection(s, newTCPTransport(srv))
	s.manager.Start(c)

	// Test: the first read is issued by start
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.reading
	}, time.Second, 5*time.Millisecond)

	c.mu.Lock()
	c.startRead()
	stopped := c.stopped
	c.mu.Unlock()

	assert.True(t, stopped, "a second read stops the connection")
	assert.Equal(t, 0, s.manager.Len())
	_, err = client.Write([]byte("x"))
	assert.Error(t, err)
}

func TestConnectionGuardsConcurrentWrites(t *testing.T) {
	conf := testConfig(t)
	s, err := New(conf, router.New(conf, nil), Options{})
	require.NoError(t, err)

	client, srv := net.Pipe()
	defer client.Close()
	c := newConnection(s, newTCPTransport(srv))
	s.manager.Start(c)

	c.mu.Lock()
	c.writing = true
	c.startWrite()
	stopped := c.stopped
	c.mu.Unlock()

	assert.True(t, stopped, "a second write stops the connection")
	assert.Equal(t, 0, s.manager.Len())
}

func TestExpectedClose(t *testing.T) {
	assert.True(t, expectedClose(io.EOF))
	assert.True(t, expectedClose(net.ErrClosed))
	assert.True(t, expectedClose(os.ErrDeadlineExceeded))
	assert.False(t, expectedClose(io.ErrUnexpectedEOF))
}
