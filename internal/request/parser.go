package request

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Brownie44l1/httpconnector/internal/headers"
)

var (
	ErrBadContentLength            = errors.New("bad Content-Length")
	ErrUnsupportedTransferEncoding = errors.New("unsupported Transfer-Encoding")
	ErrBodyTooLarge                = errors.New("request body exceeds maximum size")
	ErrUnsupportedWebSocketVersion = errors.New("unsupported WebSocket version")
	ErrBadWebSocketHandshake       = errors.New("malformed WebSocket handshake")
)

// Result is the outcome of feeding bytes to the parser. Indeterminate
// means more bytes are needed.
type Result int

const (
	Indeterminate Result = iota
	Good
	Bad
)

// ReadState qualifies data handed to a Consumer.
type ReadState int

const (
	ReadPartial ReadState = iota
	ReadComplete
	ReadError
)

// Consumer receives request body data and WebSocket messages as the
// parser decodes them. ConsumeData returns false to refuse further body
// bytes.
type Consumer interface {
	ConsumeData(data []byte, state ReadState) bool
	ConsumeWebSocketMessage(op Opcode, data []byte, state ReadState)
	ConsumeWebSocketHandshake(digest []byte, state ReadState)
}

type parserState int

const (
	stateMethodStart parserState = iota
	stateMethod
	stateURIStart
	stateURI
	stateHTTPVersionH
	stateHTTPVersionT1
	stateHTTPVersionT2
	stateHTTPVersionP
	stateHTTPVersionSlash
	stateHTTPVersionMajorStart
	stateHTTPVersionMajor
	stateHTTPVersionMinorStart
	stateHTTPVersionMinor
	stateExpectingNewline1
	stateHeaderLineStart
	stateHeaderLWS
	stateHeaderName
	stateSpaceBeforeHeaderValue
	stateHeaderValue
	stateExpectingNewline2
	stateExpectingNewline3
)

// Parser is an incremental, byte-at-a-time HTTP request parser. One
// Parser belongs to one connection; it keeps only parser state and the
// scratch buffers for the field currently being read.
type Parser struct {
	state       parserState
	headerBytes int

	method     []byte
	uri        []byte
	fieldName  []byte
	fieldValue []byte
	haveField  bool

	maxRequestSize      int64
	maxWebSocketMessage int64

	// body
	remaining int64
	chunk     chunkParser
	bodyErr   error

	ws wsParser
}

// NewParser creates a parser. maxRequestSize bounds declared body sizes
// (0 disables the check); maxWebSocketMessage bounds a single WebSocket
// message.
func NewParser(maxRequestSize int64, maxWebSocketMessage int64) *Parser {
	return &Parser{
		method:              make([]byte, 0, MaxMethodLength),
		uri:                 make([]byte, 0, 256),
		fieldName:           make([]byte, 0, 64),
		fieldValue:          make([]byte, 0, 256),
		maxRequestSize:      maxRequestSize,
		maxWebSocketMessage: maxWebSocketMessage,
	}
}

// Reset prepares the parser for the next request on the same connection.
func (p *Parser) Reset() {
	p.state = stateMethodStart
	p.headerBytes = 0
	p.method = p.method[:0]
	p.uri = p.uri[:0]
	p.fieldName = p.fieldName[:0]
	p.fieldValue = p.fieldValue[:0]
	p.haveField = false
	p.remaining = 0
	p.chunk.reset()
	p.bodyErr = nil
	p.ws = wsParser{}
}

// Parse feeds data to the header state machine. It returns Good once the
// blank line ending the header section has been consumed, Bad on the first
// malformed byte and Indeterminate when data ran out. The int is the
// number of bytes consumed.
func (p *Parser) Parse(req *Request, data []byte) (Result, int) {
	for i, b := range data {
		if r := p.consume(req, b); r != Indeterminate {
			return r, i + 1
		}
	}
	return Indeterminate, len(data)
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func (p *Parser) consume(req *Request, b byte) Result {
	p.headerBytes++
	if p.headerBytes > MaxHeaderSectionSize {
		return Bad
	}

	switch p.state {
	case stateMethodStart:
		if !headers.IsTokenChar(b) {
			return Bad
		}
		p.method = append(p.method[:0], b)
		p.state = stateMethod

	case stateMethod:
		if b == ' ' {
			req.Method = string(p.method)
			p.state = stateURIStart
			return Indeterminate
		}
		if !headers.IsTokenChar(b) || len(p.method) >= MaxMethodLength {
			return Bad
		}
		p.method = append(p.method, b)

	case stateURIStart:
		if b == ' ' || headers.IsCtl(b) {
			return Bad
		}
		p.uri = append(p.uri[:0], b)
		p.state = stateURI

	case stateURI:
		if b == ' ' {
			req.URI = string(p.uri)
			p.state = stateHTTPVersionH
			return Indeterminate
		}
		if headers.IsCtl(b) || len(p.uri) >= MaxURILength {
			return Bad
		}
		p.uri = append(p.uri, b)

	case stateHTTPVersionH:
		return p.expect(b, 'H', stateHTTPVersionT1)
	case stateHTTPVersionT1:
		return p.expect(b, 'T', stateHTTPVersionT2)
	case stateHTTPVersionT2:
		return p.expect(b, 'T', stateHTTPVersionP)
	case stateHTTPVersionP:
		return p.expect(b, 'P', stateHTTPVersionSlash)
	case stateHTTPVersionSlash:
		if b != '/' {
			return Bad
		}
		req.VersionMajor = 0
		req.VersionMinor = 0
		p.state = stateHTTPVersionMajorStart

	case stateHTTPVersionMajorStart:
		if !isDigit(b) {
			return Bad
		}
		req.VersionMajor = int(b - '0')
		p.state = stateHTTPVersionMajor

	case stateHTTPVersionMajor:
		switch {
		case b == '.':
			p.state = stateHTTPVersionMinorStart
		case isDigit(b) && req.VersionMajor < 100:
			req.VersionMajor = req.VersionMajor*10 + int(b-'0')
		default:
			return Bad
		}

	case stateHTTPVersionMinorStart:
		if !isDigit(b) {
			return Bad
		}
		req.VersionMinor = int(b - '0')
		p.state = stateHTTPVersionMinor

	case stateHTTPVersionMinor:
		switch {
		case b == '\r':
			p.state = stateExpectingNewline1
		case isDigit(b) && req.VersionMinor < 100:
			req.VersionMinor = req.VersionMinor*10 + int(b-'0')
		default:
			return Bad
		}

	case stateExpectingNewline1:
		return p.expect(b, '\n', stateHeaderLineStart)

	case stateHeaderLineStart:
		switch {
		case b == '\r':
			p.commitField(req)
			p.state = stateExpectingNewline3
		case p.haveField && (b == ' ' || b == '\t'):
			// continuation of the previous header line
			p.state = stateHeaderLWS
		case !headers.IsTokenChar(b):
			return Bad
		default:
			p.commitField(req)
			p.fieldName = append(p.fieldName[:0], b)
			p.fieldValue = p.fieldValue[:0]
			p.haveField = true
			p.state = stateHeaderName
		}

	case stateHeaderLWS:
		switch {
		case b == '\r':
			p.state = stateExpectingNewline2
		case b == ' ' || b == '\t':
		case headers.IsCtl(b):
			return Bad
		default:
			if len(p.fieldValue) > 0 {
				if len(p.fieldValue) >= MaxFieldValueLength {
					return Bad
				}
				p.fieldValue = append(p.fieldValue, ' ')
			}
			if len(p.fieldValue) >= MaxFieldValueLength {
				return Bad
			}
			p.fieldValue = append(p.fieldValue, b)
			p.state = stateHeaderValue
		}

	case stateHeaderName:
		switch {
		case b == ':':
			p.state = stateSpaceBeforeHeaderValue
		case !headers.IsTokenChar(b) || len(p.fieldName) >= MaxFieldNameLength:
			return Bad
		default:
			p.fieldName = append(p.fieldName, b)
		}

	case stateSpaceBeforeHeaderValue:
		switch {
		case b == ' ' || b == '\t':
		case b == '\r':
			p.state = stateExpectingNewline2
		case headers.IsCtl(b):
			return Bad
		default:
			p.fieldValue = append(p.fieldValue, b)
			p.state = stateHeaderValue
		}

	case stateHeaderValue:
		switch {
		case b == '\r':
			p.state = stateExpectingNewline2
		case headers.IsCtl(b) && b != '\t':
			return Bad
		case len(p.fieldValue) >= MaxFieldValueLength:
			return Bad
		default:
			p.fieldValue = append(p.fieldValue, b)
		}

	case stateExpectingNewline2:
		return p.expect(b, '\n', stateHeaderLineStart)

	case stateExpectingNewline3:
		if b != '\n' {
			return Bad
		}
		return Good
	}

	return Indeterminate
}

func (p *Parser) expect(b, want byte, next parserState) Result {
	if b != want {
		return Bad
	}
	p.state = next
	return Indeterminate
}

func (p *Parser) commitField(req *Request) {
	if !p.haveField {
		return
	}
	value := strings.TrimRight(string(p.fieldValue), " \t")
	req.Headers.Add(string(p.fieldName), value)
	p.haveField = false
}

// Validate inspects the completed header section: it computes the body
// length, applies the body size policy and detects WebSocket upgrades.
func (p *Parser) Validate(req *Request) error {
	req.ContentLength = 0
	req.Chunked = false

	if te, ok := req.Headers.Get("Transfer-Encoding"); ok {
		if !req.Headers.HasToken("Transfer-Encoding", "chunked") {
			return fmt.Errorf("%w: %q", ErrUnsupportedTransferEncoding, te)
		}
		req.Chunked = true
		req.ContentLength = -1
		p.chunk.reset()
	} else if cl, ok := req.Headers.Get("Content-Length"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			return fmt.Errorf("%w: %q", ErrBadContentLength, cl)
		}
		req.ContentLength = n
	}

	if p.maxRequestSize > 0 && req.ContentLength > p.maxRequestSize {
		return fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, req.ContentLength)
	}
	p.remaining = max(req.ContentLength, 0)

	req.WebSocketVersion = -1
	if req.Headers.HasToken("Upgrade", "websocket") && req.Headers.HasToken("Connection", "upgrade") {
		if v, ok := req.Headers.Get("Sec-WebSocket-Version"); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil || (n != 7 && n != 8 && n != 13) {
				return fmt.Errorf("%w: %q", ErrUnsupportedWebSocketVersion, v)
			}
			if req.Header("Sec-WebSocket-Key") == "" {
				return fmt.Errorf("%w: missing Sec-WebSocket-Key", ErrBadWebSocketHandshake)
			}
			req.WebSocketVersion = n
		} else if req.Headers.Has("Sec-WebSocket-Key1") && req.Headers.Has("Sec-WebSocket-Key2") {
			req.WebSocketVersion = 0
		}
	}

	if req.IsWebSocket() {
		if req.Method != "GET" {
			return fmt.Errorf("%w: method %s", ErrBadWebSocketHandshake, req.Method)
		}
		if req.Scheme == "https" {
			req.Scheme = "wss"
		} else {
			req.Scheme = "ws"
		}
		p.remaining = 0
		p.ws = wsParser{state: wsUpgrade}
	}

	return nil
}

// ParseBody hands body bytes from data to c. For plain requests it returns
// true once the whole body has been delivered. For WebSocket requests it
// returns true after every complete message, handshake digest or error.
// The int is the number of bytes consumed.
func (p *Parser) ParseBody(req *Request, c Consumer, data []byte) (bool, int) {
	if req.IsWebSocket() {
		return p.parseWebSocket(req, c, data)
	}
	if req.Chunked {
		return p.parseChunkedBody(c, data)
	}

	n := min(int64(len(data)), p.remaining)
	p.remaining -= n
	state := ReadPartial
	if p.remaining == 0 {
		state = ReadComplete
	}
	if n > 0 || state == ReadComplete {
		if !c.ConsumeData(data[:n], state) {
			p.remaining = 0
			return true, int(n)
		}
	}
	return p.remaining == 0, int(n)
}

// Remaining returns the number of body bytes still expected for a request
// with a declared length.
func (p *Parser) Remaining() int64 {
	return p.remaining
}
