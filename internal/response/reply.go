package response

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/Brownie44l1/httpconnector/internal/config"
	"github.com/Brownie44l1/httpconnector/internal/headers"
	"github.com/Brownie44l1/httpconnector/internal/logging"
	"github.com/Brownie44l1/httpconnector/internal/request"
)

var ErrHeadersSent = errors.New("headers already sent")

// Content produces the body of a Reply.
type Content interface {
	// ContentType is sent as Content-Type unless the reply has a Location.
	ContentType() string
	// ContentLength is the exact body size, -1 when not known up front.
	ContentLength() int64
	// NextContent appends the next body buffers to out. They must stay
	// valid until the following call. done reports that nothing follows.
	NextContent(out [][]byte) (bufs [][]byte, done bool)
}

// Optional Content behaviour.
type (
	moreDataWaiter interface{ WaitMoreData() bool }
	readWanter     interface{ WantsRead() bool }
	writeNotifier  interface{ Written(err error) }
	releaser       interface{ Release() }
)

// Sender is the connection a reply is attached to.
type Sender interface {
	// Post runs fn serialized with the connection's I/O handlers.
	Post(fn func())
	// ResumeWrite asks the connection to pull more buffers.
	ResumeWrite()
	// ResumeRead asks the connection to read and feed more request data.
	ResumeRead()
}

// Reply is one outgoing response. It serializes itself in two phases:
// the status line and headers, then body buffers produced by its Content,
// framed with Content-Length or chunked encoding and optionally gzipped.
type Reply struct {
	conf *config.Config
	req  *request.Request

	status   StatusCode
	reason   string
	headers  []headers.Field
	location string
	content  Content

	closeConnection bool
	chunked         bool
	gzip            bool
	raw             bool
	transmitting    bool
	finished        bool
	aborted         bool

	bytesSent int64
	created   time.Time

	relay  *Reply
	sender Sender

	head    []byte
	chunkHd []byte
	scratch [][]byte
	gz      *gzip.Writer
	gzBuf   bytes.Buffer
	gzOut   [1][]byte
}

func newReply(req *request.Request, status StatusCode, content Content, conf *config.Config) *Reply {
	return &Reply{
		conf:    conf,
		req:     req,
		status:  status,
		content: content,
		created: time.Now(),
	}
}

// Request returns the request this reply answers.
func (r *Reply) Request() *request.Request {
	return r.req
}

// Status returns the status that is (or will be) sent.
func (r *Reply) Status() StatusCode {
	if r.relay != nil {
		return r.relay.Status()
	}
	return r.status
}

// Header returns the value of a header added to the reply.
func (r *Reply) Header(name string) string {
	for _, h := range r.headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// AddHeader appends a response header. Headers cannot be added once the
// reply started transmitting.
func (r *Reply) AddHeader(name, value string) error {
	if r.transmitting {
		return ErrHeadersSent
	}
	r.headers = append(r.headers, headers.Field{Name: name, Value: value})
	return nil
}

// SetLocation makes the reply a redirect; Location replaces Content-Type.
func (r *Reply) SetLocation(url string) {
	r.location = url
}

// SetCloseConnection marks the connection to be closed after this reply.
func (r *Reply) SetCloseConnection() {
	r.closeConnection = true
}

// SetRelay hands every further operation to other. It is only honored
// before the reply started transmitting.
func (r *Reply) SetRelay(other *Reply) bool {
	if r.transmitting {
		return false
	}
	if r.relay != nil {
		r.relay.Release()
	}
	other.req = r.req
	other.created = r.created
	other.sender = r.sender
	if r.closeConnection {
		other.closeConnection = true
	}
	r.relay = other
	return true
}

// Relay returns the reply this one forwards to, if any.
func (r *Reply) Relay() *Reply {
	return r.relay
}

// Attach binds the reply to the connection that sends it.
func (r *Reply) Attach(s Sender) {
	r.sender = s
	if r.relay != nil {
		r.relay.Attach(s)
	}
}

// CloseConnection reports whether the connection must close once the
// reply is complete. Only final after the headers were produced.
func (r *Reply) CloseConnection() bool {
	if r.relay != nil {
		return r.relay.CloseConnection()
	}
	return r.closeConnection
}

// WaitMoreData reports that the content is still being produced and the
// connection should wait for ResumeWrite.
func (r *Reply) WaitMoreData() bool {
	if r.relay != nil {
		return r.relay.WaitMoreData()
	}
	if r.finished {
		return false
	}
	if w, ok := r.content.(moreDataWaiter); ok {
		return w.WaitMoreData()
	}
	return false
}

// WantsRead reports that the content wants more bytes from the client
// (WebSocket messages).
func (r *Reply) WantsRead() bool {
	if r.relay != nil {
		return r.relay.WantsRead()
	}
	if w, ok := r.content.(readWanter); ok {
		return w.WantsRead()
	}
	return false
}

// Abort ends a reply that already started transmitting without
// completing its framing; the connection is closed afterwards.
func (r *Reply) Abort() {
	if r.relay != nil {
		r.relay.Abort()
		return
	}
	r.aborted = true
	r.closeConnection = true
}

// NextBuffers appends the next wire buffers to out. It returns true when
// these are the last buffers of the reply.
func (r *Reply) NextBuffers(out [][]byte) ([][]byte, bool) {
	if r.relay != nil {
		return r.relay.NextBuffers(out)
	}
	if r.finished {
		return out, true
	}

	if !r.transmitting {
		r.transmitting = true
		r.prepareHead()
		out = append(out, r.head)
		r.bytesSent += int64(len(r.head))
		if !r.hasBody() {
			r.finished = true
			return out, true
		}
	}

	if r.aborted {
		r.finished = true
		return out, true
	}

	return r.nextBody(out)
}

func (r *Reply) hasBody() bool {
	if r.raw {
		return true
	}
	return r.status.bodyAllowed() && r.req.Method != "HEAD"
}

func (r *Reply) protocol() string {
	if r.req.IsHTTP10() {
		return "HTTP/1.0"
	}
	return "HTTP/1.1"
}

func (r *Reply) prepareHead() {
	length := r.content.ContentLength()
	contentType := r.content.ContentType()
	r.decideFraming(length, contentType)

	b := r.head[:0]
	b = appendStatusLine(b, r.protocol(), r.status, r.reason)
	if !r.req.IsHTTP10() {
		b = appendHeader(b, "Date", FormatHTTPDate(time.Now()))
	}
	if r.location != "" {
		b = appendHeader(b, "Location", r.location)
	} else if contentType != "" {
		b = appendHeader(b, "Content-Type", contentType)
	}
	for _, h := range r.headers {
		b = appendHeader(b, h.Name, h.Value)
	}
	if !r.raw {
		if r.closeConnection {
			b = appendHeader(b, "Connection", "close")
		} else {
			b = appendHeader(b, "Connection", "keep-alive")
		}
	}
	if r.gzip {
		b = appendHeader(b, "Content-Encoding", "gzip")
	}
	switch {
	case r.raw:
	case length >= 0:
		b = appendHeader(b, "Content-Length", strconv.FormatInt(length, 10))
	case r.chunked:
		b = appendHeader(b, "Transfer-Encoding", "chunked")
	}
	r.head = append(b, crlf...)
}

func (r *Reply) nextBody(out [][]byte) ([][]byte, bool) {
	var done bool
	r.scratch, done = r.content.NextContent(r.scratch[:0])

	payload := r.scratch
	if r.gzip {
		payload = r.compress(payload, done)
	}

	if n := buffersLen(payload); n > 0 {
		if r.chunked {
			r.chunkHd = appendChunkHeader(r.chunkHd[:0], n)
			out = append(out, r.chunkHd)
			out = append(out, payload...)
			out = append(out, crlf)
			r.bytesSent += int64(len(r.chunkHd) + len(crlf))
		} else {
			out = append(out, payload...)
		}
		r.bytesSent += int64(n)
	}

	if done {
		if r.chunked {
			out = append(out, lastChunk)
			r.bytesSent += int64(len(lastChunk))
		}
		r.finished = true
	}
	return out, done
}

// compress feeds the raw body buffers through the gzip stream. The stream
// is sync-flushed when the content has to wait for more data, so the
// client sees everything produced so far.
func (r *Reply) compress(bufs [][]byte, done bool) [][]byte {
	r.gzBuf.Reset()
	if r.gz == nil {
		r.gz = gzip.NewWriter(&r.gzBuf)
	}
	for _, b := range bufs {
		// writes into a bytes.Buffer do not fail
		_, _ = r.gz.Write(b)
	}
	switch {
	case done:
		_ = r.gz.Close()
	case r.WaitMoreData():
		_ = r.gz.Flush()
	}
	if r.gzBuf.Len() == 0 {
		return nil
	}
	r.gzOut[0] = r.gzBuf.Bytes()
	return r.gzOut[:]
}

// Written tells the reply that the buffers of the last NextBuffers call
// have been written (or failed with err).
func (r *Reply) Written(err error) {
	if r.relay != nil {
		r.relay.Written(err)
	}
	if n, ok := r.content.(writeNotifier); ok {
		n.Written(err)
	}
}

// LogReply describes the completed reply for the access log.
func (r *Reply) LogReply() logging.AccessRecord {
	if r.relay != nil {
		return r.relay.LogReply()
	}
	return logging.AccessRecord{
		RemoteIP:  r.req.RemoteIP,
		Method:    r.req.Method,
		URI:       r.req.URI,
		Protocol:  r.req.Version(),
		Status:    int(r.status),
		BytesSent: r.bytesSent,
		Duration:  time.Since(r.created),
	}
}

// Release frees the content's resources (open files, spooled bodies).
func (r *Reply) Release() {
	if r.relay != nil {
		r.relay.Release()
	}
	if rel, ok := r.content.(releaser); ok {
		rel.Release()
	}
	r.gz = nil
}

// ConsumeData receives request body bytes. Contents that do not read the
// body discard it.
func (r *Reply) ConsumeData(data []byte, state request.ReadState) bool {
	if r.relay != nil {
		return r.relay.ConsumeData(data, state)
	}
	if c, ok := r.content.(request.Consumer); ok {
		return c.ConsumeData(data, state)
	}
	return true
}

func (r *Reply) ConsumeWebSocketMessage(op request.Opcode, data []byte, state request.ReadState) {
	if r.relay != nil {
		r.relay.ConsumeWebSocketMessage(op, data, state)
		return
	}
	if c, ok := r.content.(request.Consumer); ok {
		c.ConsumeWebSocketMessage(op, data, state)
	}
}

func (r *Reply) ConsumeWebSocketHandshake(digest []byte, state request.ReadState) {
	if r.relay != nil {
		r.relay.ConsumeWebSocketHandshake(digest, state)
		return
	}
	if c, ok := r.content.(request.Consumer); ok {
		c.ConsumeWebSocketHandshake(digest, state)
	}
}
