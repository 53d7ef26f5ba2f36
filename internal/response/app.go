package response

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/Brownie44l1/httpconnector/internal/config"
	"github.com/Brownie44l1/httpconnector/internal/headers"
	"github.com/Brownie44l1/httpconnector/internal/request"
)

var (
	ErrNotWebSocket         = errors.New("request is not a WebSocket upgrade")
	ErrWebSocketNotAccepted = errors.New("WebSocket upgrade not accepted")
	ErrWebSocketClosed      = errors.New("WebSocket closed")
	ErrWebSocketProtocol    = errors.New("WebSocket protocol error")
	ErrReadPending          = errors.New("WebSocket read already pending")
	ErrUnsupportedFrame     = errors.New("frame type not supported by the WebSocket version")
	ErrReplyFinished        = errors.New("reply already finished")
	ErrConnectionClosed     = errors.New("connection closed")
)

// Application handles the requests of a mount point.
type Application interface {
	HandleRequest(ex *Exchange)
}

// ApplicationFunc adapts a function to Application.
type ApplicationFunc func(ex *Exchange)

func (f ApplicationFunc) HandleRequest(ex *Exchange) { f(ex) }

// Dispatcher runs application code off the connection goroutines. onPanic
// (may be nil) receives the recovered value if task panics.
type Dispatcher interface {
	Dispatch(task func(), onPanic func(recovered any))
}

// NewAppReply creates the reply for a request routed to app. The
// application is invoked once the request body (or the upgrade request)
// has been received.
func NewAppReply(req *request.Request, app Application, dispatcher Dispatcher, conf *config.Config) *Reply {
	c := &appContent{
		app:         app,
		dispatcher:  dispatcher,
		conf:        conf,
		contentType: "text/html",
		length:      -1,
	}
	r := newReply(req, StatusOK, c, conf)
	c.reply = r
	c.ex = &Exchange{c: c}
	return r
}

// appContent is the body of an application reply. Methods without a lock
// run on the connection strand; everything shared with the application
// goroutines is guarded by mu.
type appContent struct {
	reply      *Reply
	ex         *Exchange
	app        Application
	dispatcher Dispatcher
	conf       *config.Config

	bodyMem    bytes.Buffer
	bodyFile   *os.File
	bodySize   int64
	dispatched bool
	message    []byte

	mu           sync.Mutex
	contentType  string
	length       int64
	committed    bool
	flushPending bool
	finished     bool
	released     bool
	building     []byte
	ready        []byte
	sending      []byte
	readyCbs     []func(error)
	sendingCbs   []func(error)

	wsAccepted   bool
	wsClosed     bool
	hixiePending bool
	held         []byte
	heldCbs      []func(error)
	readCb       func(op request.Opcode, msg []byte, err error)
}

func (c *appContent) ContentType() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.contentType
}

func (c *appContent) ContentLength() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.length
}

func (c *appContent) NextContent(out [][]byte) ([][]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// the previous sending buffer has been written, reuse it
	c.sending, c.ready = c.ready, c.sending[:0]
	c.sendingCbs = append(c.sendingCbs, c.readyCbs...)
	c.readyCbs = c.readyCbs[:0]
	c.flushPending = false

	if len(c.sending) > 0 {
		out = append(out, c.sending)
	}
	return out, c.finished
}

func (c *appContent) WaitMoreData() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.finished && len(c.ready) == 0 && !c.flushPending
}

func (c *appContent) WantsRead() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.wsClosed && (c.hixiePending || c.readCb != nil)
}

func (c *appContent) Written(err error) {
	c.mu.Lock()
	cbs := c.sendingCbs
	c.sendingCbs = nil
	c.mu.Unlock()

	for _, cb := range cbs {
		c.run(func() { cb(err) })
	}
}

func (c *appContent) Release() {
	c.mu.Lock()
	c.released = true
	c.finished = true
	c.wsClosed = true
	cbs := append(append(c.sendingCbs, c.readyCbs...), c.heldCbs...)
	c.sendingCbs, c.readyCbs, c.heldCbs = nil, nil, nil
	readCb := c.readCb
	c.readCb = nil
	bodyFile := c.bodyFile
	c.bodyFile = nil
	c.mu.Unlock()

	for _, cb := range cbs {
		c.run(func() { cb(ErrConnectionClosed) })
	}
	if readCb != nil {
		c.run(func() { readCb(0, nil, ErrConnectionClosed) })
	}

	if bodyFile != nil {
		bodyFile.Close()
		os.Remove(bodyFile.Name())
	}
}

func (c *appContent) ConsumeData(data []byte, state request.ReadState) bool {
	if state == request.ReadError {
		c.fail(StatusBadRequest)
		return false
	}

	if len(data) > 0 {
		c.bodySize += int64(len(data))
		if limit := c.conf.MaxRequestSize; limit > 0 && c.bodySize > limit {
			c.fail(StatusRequestEntityTooLarge)
			return false
		}
		if err := c.storeBody(data); err != nil {
			c.fail(StatusInternalServerError)
			return false
		}
	}

	if state == request.ReadComplete {
		c.dispatch()
	}
	return true
}

// storeBody keeps the request body in memory up to MaxMemoryRequestSize
// and spools it to a temporary file beyond that.
func (c *appContent) storeBody(data []byte) error {
	if c.bodyFile == nil && int64(c.bodyMem.Len()+len(data)) > c.conf.MaxMemoryRequestSize {
		f, err := os.CreateTemp("", "httpconnector-body-*")
		if err != nil {
			return fmt.Errorf("spooling request body: %w", err)
		}
		if _, err := f.Write(c.bodyMem.Bytes()); err != nil {
			f.Close()
			os.Remove(f.Name())
			return fmt.Errorf("spooling request body: %w", err)
		}
		c.bodyMem.Reset()
		c.mu.Lock()
		c.bodyFile = f
		c.mu.Unlock()
	}

	if c.bodyFile != nil {
		if _, err := c.bodyFile.Write(data); err != nil {
			return fmt.Errorf("spooling request body: %w", err)
		}
		return nil
	}
	c.bodyMem.Write(data)
	return nil
}

// fail replaces the reply with a stock error page that closes the
// connection.
func (c *appContent) fail(code StatusCode) {
	stock := NewStockReply(c.reply.req, code, "", c.conf)
	stock.SetCloseConnection()
	c.reply.SetRelay(stock)

	c.mu.Lock()
	c.finished = true
	c.mu.Unlock()
}

func (c *appContent) dispatch() {
	if c.dispatched {
		return
	}
	c.dispatched = true
	c.run(func() { c.app.HandleRequest(c.ex) })
}

func (c *appContent) run(task func()) {
	c.dispatcher.Dispatch(task, c.recovered)
}

// recovered turns an application panic into a 500 when nothing was sent
// yet, and into a dropped connection otherwise.
func (c *appContent) recovered(any) {
	s := c.reply.sender
	if s == nil {
		return
	}
	s.Post(func() {
		c.mu.Lock()
		released := c.released
		c.finished = true
		c.mu.Unlock()
		if released {
			return
		}

		r := c.reply
		stock := NewStockReply(r.req, StatusInternalServerError, "", c.conf)
		stock.SetCloseConnection()
		if !r.SetRelay(stock) {
			r.Abort()
		}
		s.ResumeWrite()
	})
}

func (c *appContent) resumeWrite() {
	if s := c.reply.sender; s != nil {
		s.ResumeWrite()
	}
}

func (c *appContent) ConsumeWebSocketHandshake(digest []byte, state request.ReadState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.hixiePending = false
	if state != request.ReadComplete {
		c.wsClosed = true
		c.finished = true
		c.reply.Abort()
		return
	}

	c.ready = append(c.ready, digest...)
	c.ready = append(c.ready, c.held...)
	c.readyCbs = append(c.readyCbs, c.heldCbs...)
	c.held, c.heldCbs = nil, nil
	if c.wsClosed {
		// the application closed before the handshake finished
		c.finished = true
	}
}

func (c *appContent) ConsumeWebSocketMessage(op request.Opcode, data []byte, state request.ReadState) {
	if state == request.ReadError {
		c.mu.Lock()
		c.wsClosed = true
		c.finished = true
		cb := c.readCb
		c.readCb = nil
		c.mu.Unlock()

		// the 101 is out, closing is all that is left
		c.reply.Abort()
		if cb != nil {
			c.run(func() { cb(op, nil, ErrWebSocketProtocol) })
		}
		return
	}

	switch op {
	case request.OpPing:
		c.mu.Lock()
		if !c.wsClosed {
			c.ready, _ = appendFrame(c.ready, c.reply.req.WebSocketVersion, request.OpPong, data)
		}
		c.mu.Unlock()

	case request.OpPong:

	case request.OpClose:
		payload := append([]byte(nil), data...)
		c.mu.Lock()
		if !c.wsClosed {
			c.ready, _ = appendFrame(c.ready, c.reply.req.WebSocketVersion, request.OpClose, payload)
		}
		c.wsClosed = true
		c.finished = true
		cb := c.readCb
		c.readCb = nil
		c.mu.Unlock()
		if cb != nil {
			c.run(func() { cb(request.OpClose, payload, nil) })
		}

	default:
		c.message = append(c.message, data...)
		if state == request.ReadPartial {
			return
		}
		msg := c.message
		c.message = nil
		if msg == nil {
			msg = []byte{}
		}

		c.mu.Lock()
		cb := c.readCb
		c.readCb = nil
		c.mu.Unlock()
		if cb != nil {
			c.run(func() { cb(op, msg, nil) })
		}
	}
}

// Exchange is the application's view of one request and its reply. It is
// safe for use from any goroutine. Headers can be changed until the first
// Flush; the request must not be used after the reply finished.
type Exchange struct {
	c *appContent
}

func (e *Exchange) Request() *request.Request {
	return e.c.reply.req
}

// Body returns the complete request body.
func (e *Exchange) Body() io.ReadSeeker {
	c := e.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bodyFile != nil {
		return io.NewSectionReader(c.bodyFile, 0, c.bodySize)
	}
	if c.released {
		return bytes.NewReader(nil)
	}
	return bytes.NewReader(c.bodyMem.Bytes())
}

func (e *Exchange) BodySize() int64 {
	return e.c.bodySize
}

func (e *Exchange) IsWebSocket() bool {
	return e.c.reply.req.IsWebSocket()
}

// update runs fn on the reply while the headers can still change.
func (e *Exchange) update(fn func(r *Reply)) error {
	c := e.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.committed || c.finished {
		return ErrHeadersSent
	}
	fn(c.reply)
	return nil
}

func (e *Exchange) SetStatus(code StatusCode) error {
	return e.update(func(r *Reply) { r.status = code })
}

func (e *Exchange) SetContentType(contentType string) error {
	return e.update(func(*Reply) { e.c.contentType = contentType })
}

// SetContentLength announces the exact body size. Without it the body is
// chunked (or closes the connection on HTTP/1.0).
func (e *Exchange) SetContentLength(n int64) error {
	return e.update(func(*Reply) { e.c.length = n })
}

func (e *Exchange) AddHeader(name, value string) error {
	return e.update(func(r *Reply) {
		r.headers = append(r.headers, headers.Field{Name: name, Value: value})
	})
}

func (e *Exchange) SetLocation(url string) error {
	return e.update(func(r *Reply) { r.location = url })
}

// Write buffers body bytes until the next Flush.
func (e *Exchange) Write(p []byte) (int, error) {
	c := e.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return 0, ErrReplyFinished
	}
	c.building = append(c.building, p...)
	return len(p), nil
}

func (e *Exchange) WriteString(s string) (int, error) {
	c := e.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return 0, ErrReplyFinished
	}
	c.building = append(c.building, s...)
	return len(s), nil
}

// Flush hands the buffered bytes to the connection. more=false ends the
// reply. onWritten, if set, runs once the bytes are on the wire.
func (e *Exchange) Flush(more bool, onWritten func(error)) {
	c := e.c
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		if onWritten != nil {
			c.run(func() { onWritten(ErrReplyFinished) })
		}
		return
	}

	c.ready = append(c.ready, c.building...)
	c.building = c.building[:0]
	if onWritten != nil {
		c.readyCbs = append(c.readyCbs, onWritten)
	}
	c.committed = true
	c.flushPending = true
	if !more {
		c.finished = true
	}
	c.mu.Unlock()

	c.resumeWrite()
}

// AcceptWebSocket answers the upgrade request with 101 and switches the
// exchange to WebSocket messages.
func (e *Exchange) AcceptWebSocket() error {
	c := e.c
	req := c.reply.req
	if !req.IsWebSocket() {
		return ErrNotWebSocket
	}

	c.mu.Lock()
	if c.committed || c.finished {
		c.mu.Unlock()
		return ErrHeadersSent
	}

	r := c.reply
	r.status = StatusSwitchingProtocols
	if req.WebSocketVersion == 0 {
		r.reason = "WebSocket Protocol Handshake"
		r.headers = append(r.headers,
			headers.Field{Name: "Upgrade", Value: "WebSocket"},
			headers.Field{Name: "Connection", Value: "Upgrade"},
			headers.Field{Name: "Sec-WebSocket-Origin", Value: req.Header("Origin")},
			headers.Field{Name: "Sec-WebSocket-Location", Value: req.Scheme + "://" + req.Host() + req.URI},
		)
		// key3 is only read once the 101 is on its way
		c.hixiePending = true
	} else {
		r.headers = append(r.headers,
			headers.Field{Name: "Upgrade", Value: "websocket"},
			headers.Field{Name: "Connection", Value: "Upgrade"},
			headers.Field{Name: "Sec-WebSocket-Accept", Value: request.AcceptKey(req.Header("Sec-WebSocket-Key"))},
		)
	}
	c.contentType = ""
	c.wsAccepted = true
	c.committed = true
	c.flushPending = true
	c.mu.Unlock()

	c.resumeWrite()
	return nil
}

// ReadWebSocketMessage arranges for cb to receive the next message. Pings
// are answered and pongs dropped without involving cb; a close message is
// echoed and delivered with op OpClose.
func (e *Exchange) ReadWebSocketMessage(cb func(op request.Opcode, msg []byte, err error)) error {
	c := e.c
	c.mu.Lock()
	switch {
	case !c.wsAccepted:
		c.mu.Unlock()
		return ErrWebSocketNotAccepted
	case c.wsClosed:
		c.mu.Unlock()
		return ErrWebSocketClosed
	case c.readCb != nil:
		c.mu.Unlock()
		return ErrReadPending
	}
	c.readCb = cb
	c.mu.Unlock()

	if s := c.reply.sender; s != nil {
		s.ResumeRead()
	}
	return nil
}

// WriteWebSocketMessage queues one message. Sending OpClose ends the
// exchange.
func (e *Exchange) WriteWebSocketMessage(op request.Opcode, payload []byte, onWritten func(error)) error {
	c := e.c
	c.mu.Lock()
	if !c.wsAccepted {
		c.mu.Unlock()
		return ErrWebSocketNotAccepted
	}
	if c.wsClosed || c.finished {
		c.mu.Unlock()
		return ErrWebSocketClosed
	}

	version := c.reply.req.WebSocketVersion
	var ok bool
	if c.hixiePending {
		c.held, ok = appendFrame(c.held, version, op, payload)
	} else {
		c.ready, ok = appendFrame(c.ready, version, op, payload)
	}
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnsupportedFrame, op)
	}

	if onWritten != nil {
		if c.hixiePending {
			c.heldCbs = append(c.heldCbs, onWritten)
		} else {
			c.readyCbs = append(c.readyCbs, onWritten)
		}
	}
	if op == request.OpClose {
		c.wsClosed = true
	}
	if c.hixiePending {
		// released together with the handshake digest
		c.mu.Unlock()
		return nil
	}
	if op == request.OpClose {
		c.finished = true
	}
	c.flushPending = true
	c.mu.Unlock()

	c.resumeWrite()
	return nil
}
