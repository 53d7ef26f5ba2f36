package server

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/Brownie44l1/httpconnector/internal/config"
	"github.com/Brownie44l1/httpconnector/internal/logging"
	"github.com/Brownie44l1/httpconnector/internal/request"
	"github.com/Brownie44l1/httpconnector/internal/response"
)

type phase int

const (
	phaseHeaders phase = iota // parsing the request line and headers
	phaseBody                 // feeding the request body to the reply
	phaseReply                // body complete, sending the reply
)

// Connection serves the requests of one client socket. Every read and
// write runs on its own goroutine; their completions, the parser and the
// current reply are serialized by mu.
type Connection struct {
	id     uint64
	server *Server
	conf   *config.Config
	logger logging.Logger
	t      transport
	conn   net.Conn
	remote string

	mu      sync.Mutex
	stopped bool
	buf     *readBuffer
	pending []byte // read but not yet parsed
	reading bool
	writing bool
	idle    bool // waiting for the next request on a kept-alive connection

	phase  phase
	req    *request.Request
	parser *request.Parser
	reply  *response.Reply
	out    [][]byte
}

func newConnection(s *Server, t transport) *Connection {
	c := &Connection{
		server: s,
		conf:   s.conf,
		logger: s.logger,
		t:      t,
		conn:   t.Conn(),
		buf:    getBuffer(),
		parser: request.NewParser(s.conf.MaxRequestSize, s.conf.MaxWebSocketMessage),
	}
	c.remote = c.conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(c.remote); err == nil {
		c.remote = host
	}
	return c
}

func (c *Connection) start() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.conf.ReadTimeout)
		err := c.t.Handshake(ctx)
		cancel()

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.stopped {
			return
		}
		if err != nil {
			c.ioError("handshake", err)
			return
		}
		c.nextRequest()
		c.pump()
	}()
}

// Stop closes the connection and releases the current reply.
func (c *Connection) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stop()
}

func (c *Connection) stop() {
	if c.stopped {
		return
	}
	c.stopped = true

	if c.reply != nil {
		c.reply.Release()
		c.reply = nil
	}
	c.t.Shutdown(!c.writing)
	if !c.reading {
		putBuffer(c.buf)
		c.buf = nil
	}
	c.pending = nil
	c.server.manager.remove(c)
}

// fault stops a connection whose I/O sequencing was violated.
func (c *Connection) fault(msg string) {
	c.logger.Error(msg, logging.F("remote", c.remote))
	c.stop()
}

func (c *Connection) ioError(op string, err error) {
	fields := []logging.Field{
		logging.F("remote", c.remote),
		logging.F("op", op),
		logging.F("error", err),
	}
	if expectedClose(err) {
		c.logger.Debug("connection closed", fields...)
	} else {
		c.logger.Warn("connection error", fields...)
		c.server.metrics.RecordError()
	}
	c.stop()
}

// expectedClose reports errors that end a connection in the normal course
// of things: the peer went away, a timeout fired, or we closed it.
func expectedClose(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded)
}

// nextRequest prepares for a new request on the connection.
func (c *Connection) nextRequest() {
	c.req = request.New()
	c.req.RemoteIP = c.remote
	c.req.Scheme = c.t.Scheme()
	c.parser.Reset()
	c.phase = phaseHeaders
}

// pump advances request processing as far as the buffered bytes allow,
// then starts the socket read or write that is due.
func (c *Connection) pump() {
	for !c.stopped {
		switch c.phase {
		case phaseHeaders:
			if len(c.pending) == 0 {
				c.startRead()
				return
			}
			res, n := c.parser.Parse(c.req, c.pending)
			c.pending = c.pending[n:]
			if n > 0 {
				c.idle = false
			}

			switch res {
			case request.Bad:
				c.reject(response.StatusBadRequest)
			case request.Good:
				c.dispatch()
			}

		case phaseBody:
			done, n := c.parser.ParseBody(c.req, c.reply, c.pending)
			c.pending = c.pending[n:]
			if done {
				c.phase = phaseReply
				if err := c.parser.BodyErr(); err != nil {
					c.badBody(err)
				}
				continue
			}
			// anything left is an incomplete chunk line; read more behind it
			if len(c.pending) == len(c.buf) {
				c.badBody(request.ErrChunkSizeLineTooLong)
				continue
			}
			c.startRead()
			return

		case phaseReply:
			if c.reply.WantsRead() && len(c.pending) > 0 {
				done, n := c.parser.ParseBody(c.req, c.reply, c.pending)
				c.pending = c.pending[n:]
				if done && len(c.pending) > 0 {
					continue
				}
			}
			if c.reply.WantsRead() && len(c.pending) == 0 && !c.reading {
				c.startRead()
			}
			c.flush()
			return
		}
	}
}

// dispatch hands a parsed request to the server's handler.
func (c *Connection) dispatch() {
	if err := c.parser.Validate(c.req); err != nil {
		code := response.StatusBadRequest
		if errors.Is(err, request.ErrBodyTooLarge) {
			code = response.StatusRequestEntityTooLarge
		}
		c.logger.Debug("invalid request",
			logging.F("remote", c.remote),
			logging.F("uri", c.req.URI),
			logging.F("error", err),
		)
		c.reject(code)
		return
	}

	c.attach(c.server.handler.Handle(c.req))
	c.phase = phaseBody
}

// badBody ends a request whose body framing is broken. The connection
// closes after the 400 since the rest of the stream cannot be trusted.
func (c *Connection) badBody(err error) {
	c.logger.Debug("invalid request body",
		logging.F("remote", c.remote),
		logging.F("uri", c.req.URI),
		logging.F("error", err),
	)
	c.pending = nil
	c.phase = phaseReply
	if c.reply.CloseConnection() {
		return
	}
	c.reply.Release()
	c.reject(response.StatusBadRequest)
}

// reject answers with a stock page and closes the connection afterwards.
// Bytes after the offending request are discarded.
func (c *Connection) reject(code response.StatusCode) {
	reply := response.NewStockReply(c.req, code, "", c.conf)
	reply.SetCloseConnection()
	c.attach(reply)
	c.pending = nil
	c.phase = phaseReply
}

func (c *Connection) attach(r *response.Reply) {
	c.reply = r
	r.Attach(&replySender{c: c, reply: r})
}

func (c *Connection) readDeadline() time.Time {
	switch {
	case c.phase == phaseReply && c.req.IsWebSocket():
		return time.Time{}
	case c.idle:
		return time.Now().Add(c.conf.KeepAliveTimeout)
	default:
		return time.Now().Add(c.conf.ReadTimeout)
	}
}

func (c *Connection) startRead() {
	if c.reading {
		c.fault("read already in progress")
		return
	}
	c.reading = true
	c.conn.SetReadDeadline(c.readDeadline())

	// unparsed bytes move to the front, the read appends to them
	kept := copy(c.buf[:], c.pending)
	buf := c.buf[:]
	go func() {
		n, err := c.conn.Read(buf[kept:])

		c.mu.Lock()
		defer c.mu.Unlock()
		c.reading = false
		if c.stopped {
			putBuffer(c.buf)
			c.buf = nil
			return
		}
		if n == 0 && err != nil {
			c.ioError("read", err)
			return
		}
		// an error with data shows up again on the next read
		c.pending = buf[:kept+n]
		c.pump()
	}()
}

// flush starts a write when the reply has something to send.
func (c *Connection) flush() {
	if c.stopped || c.phase != phaseReply || c.writing || c.reply == nil {
		return
	}
	if c.reply.WaitMoreData() {
		return
	}
	c.startWrite()
}

func (c *Connection) startWrite() {
	for {
		if c.writing {
			c.fault("write already in progress")
			return
		}

		bufs, final := c.reply.NextBuffers(c.out[:0])
		c.out = bufs
		if len(bufs) > 0 {
			c.write(bufs, final)
			return
		}

		// nothing to put on the wire this round
		c.reply.Written(nil)
		if final {
			c.replyDone()
			return
		}
		if c.stopped || c.reply.WaitMoreData() {
			c.pump()
			return
		}
	}
}

func (c *Connection) write(bufs [][]byte, final bool) {
	c.writing = true
	c.conn.SetWriteDeadline(time.Now().Add(c.conf.WriteTimeout))

	wb := net.Buffers(bufs)
	go func() {
		_, err := wb.WriteTo(c.conn)

		c.mu.Lock()
		defer c.mu.Unlock()
		c.writing = false
		if c.stopped {
			return
		}
		c.reply.Written(err)
		if err != nil {
			c.ioError("write", err)
			return
		}
		if final {
			c.replyDone()
			return
		}
		c.pump()
	}()
}

// replyDone logs the finished reply and either closes the connection or
// moves on to the next request.
func (c *Connection) replyDone() {
	c.server.logReply(c.reply.LogReply())

	closeConn := c.reply.CloseConnection()
	c.reply.Release()
	c.reply = nil

	if closeConn || c.req.IsWebSocket() {
		c.stop()
		return
	}

	c.nextRequest()
	c.idle = true
	c.pump()
}

// replySender is the handle a reply uses to reach its connection. Calls
// arriving after the reply was replaced are ignored.
type replySender struct {
	c     *Connection
	reply *response.Reply
}

func (s *replySender) Post(fn func()) {
	go func() {
		c := s.c
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.stopped || c.reply != s.reply {
			return
		}
		fn()
	}()
}

func (s *replySender) ResumeWrite() {
	s.Post(s.c.flush)
}

func (s *replySender) ResumeRead() {
	s.Post(func() {
		if s.c.phase == phaseReply {
			s.c.pump()
		}
	})
}
