package apps

import (
	"bufio"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/httpconnector/internal/config"
	"github.com/Brownie44l1/httpconnector/internal/logging"
	"github.com/Brownie44l1/httpconnector/internal/request"
	"github.com/Brownie44l1/httpconnector/internal/response"
)

type inlineDispatcher struct{}

func (inlineDispatcher) Dispatch(task func(), _ func(any)) { task() }

type nopSender struct{}

func (nopSender) Post(fn func()) { fn() }
func (nopSender) ResumeWrite()   {}
func (nopSender) ResumeRead()    {}

func serve(t *testing.T, raw, body string) *http.Response {
	t.Helper()
	req := request.New()
	req.Scheme = "http"
	p := request.NewParser(0, 1<<16)
	res, _ := p.Parse(req, []byte(raw))
	require.Equal(t, request.Good, res)
	require.NoError(t, p.Validate(req))
	req.ExtraPath = "/x"

	reply := response.NewAppReply(req, NewEcho(logging.NullLogger{}), inlineDispatcher{}, config.Default())
	reply.Attach(nopSender{})
	t.Cleanup(reply.Release)
	reply.ConsumeData([]byte(body), request.ReadComplete)

	var out strings.Builder
	for {
		bufs, final := reply.NextBuffers(nil)
		for _, b := range bufs {
			out.Write(b)
		}
		reply.Written(nil)
		if final {
			break
		}
	}

	resp, err := http.ReadResponse(bufio.NewReader(strings.NewReader(out.String())), nil)
	require.NoError(t, err)
	return resp
}

func TestEchoBody(t *testing.T) {
	resp := serve(t, "POST /echo/x HTTP/1.1\r\nContent-Length: 5\r\n\r\n", "hello")
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	assert.Equal(t, "/x", resp.Header.Get("X-Extra-Path"))
	assert.Equal(t, int64(5), resp.ContentLength)
	assert.Equal(t, "hello", string(body))
}

func TestEchoWithoutBody(t *testing.T) {
	resp := serve(t, "GET /echo/x?a=1 HTTP/1.1\r\n\r\n", "")
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, "GET /echo/x?a=1\n", string(body))
}
