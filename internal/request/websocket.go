package request

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Opcode is a WebSocket frame opcode.
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

// IsControl reports whether op is a control frame opcode.
func (op Opcode) IsControl() bool {
	return op&0x8 != 0
}

func (op Opcode) String() string {
	switch op {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	}
	return fmt.Sprintf("opcode(%d)", byte(op))
}

var ErrBadWebSocketKey = errors.New("malformed hixie-76 WebSocket key")

const webSocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// AcceptKey computes the Sec-WebSocket-Accept value for an RFC6455
// Sec-WebSocket-Key.
func AcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(webSocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// hixieKeyNumber extracts the number hidden in a Sec-WebSocket-Key1/Key2
// value: its digits read as a decimal number, divided by its space count.
func hixieKeyNumber(key string) (uint32, error) {
	var number uint64
	digits, spaces := 0, 0
	for i := 0; i < len(key); i++ {
		switch c := key[i]; {
		case c >= '0' && c <= '9':
			digits++
			if digits > 10 {
				return 0, fmt.Errorf("%w: too many digits", ErrBadWebSocketKey)
			}
			number = number*10 + uint64(c-'0')
		case c == ' ':
			spaces++
		}
	}
	if digits == 0 || spaces == 0 {
		return 0, fmt.Errorf("%w: %d digits, %d spaces", ErrBadWebSocketKey, digits, spaces)
	}
	if number%uint64(spaces) != 0 {
		return 0, fmt.Errorf("%w: %d not divisible by %d", ErrBadWebSocketKey, number, spaces)
	}
	q := number / uint64(spaces)
	if q > math.MaxUint32 {
		return 0, fmt.Errorf("%w: value out of range", ErrBadWebSocketKey)
	}
	return uint32(q), nil
}

// HixieDigest computes the hixie-76 handshake response: the MD5 of the
// big-endian key1 number, the big-endian key2 number and the 8 raw key3
// bytes.
func HixieDigest(key1, key2 string, key3 []byte) ([16]byte, error) {
	if len(key3) != 8 {
		return [16]byte{}, fmt.Errorf("%w: key3 has %d bytes", ErrBadWebSocketKey, len(key3))
	}
	n1, err := hixieKeyNumber(key1)
	if err != nil {
		return [16]byte{}, err
	}
	n2, err := hixieKeyNumber(key2)
	if err != nil {
		return [16]byte{}, err
	}

	var challenge [16]byte
	binary.BigEndian.PutUint32(challenge[0:4], n1)
	binary.BigEndian.PutUint32(challenge[4:8], n2)
	copy(challenge[8:], key3)
	return md5.Sum(challenge[:]), nil
}

type wsState int

const (
	wsNone wsState = iota
	wsUpgrade
	ws00HandShake
	ws00FrameStart
	ws00TextData
	ws00BinaryLength
	ws00BinaryData
	ws13FrameStart
	ws13PayloadLength
	ws13ExtendedPayloadLength
	ws13Mask
	ws13Payload
	wsError
)

type wsParser struct {
	state wsState

	key3    [8]byte
	key3Len int

	frameType   byte // hixie-76 frame type byte
	frameOp     Opcode
	frameFin    bool
	frameLen    int64
	lengthBytes int
	mask        [4]byte
	maskLen     int
	maskPos     int

	messageOp  Opcode
	messageLen int64
	inMessage  bool

	control [125]byte
	ctlLen  int
}

func (p *Parser) wsFail(c Consumer) {
	p.ws.state = wsError
	c.ConsumeWebSocketMessage(p.ws.messageOp, nil, ReadError)
}

// growMessage accounts n more payload bytes to the current message.
func (p *Parser) growMessage(n int64) bool {
	p.ws.messageLen += n
	return p.ws.messageLen <= p.maxWebSocketMessage
}

func (p *Parser) parseWebSocket(req *Request, c Consumer, data []byte) (bool, int) {
	ws := &p.ws

	if ws.state == wsUpgrade {
		// the HTTP part of an upgrade request has no body
		c.ConsumeData(nil, ReadComplete)
		if req.WebSocketVersion == 0 {
			ws.state = ws00HandShake
		} else {
			ws.state = ws13FrameStart
		}
		return true, 0
	}

	i := 0
	fail := func() (bool, int) {
		p.wsFail(c)
		return true, len(data)
	}

	for i < len(data) {
		b := data[i]

		switch ws.state {
		case ws00HandShake:
			n := copy(ws.key3[ws.key3Len:], data[i:])
			ws.key3Len += n
			i += n
			if ws.key3Len < len(ws.key3) {
				continue
			}
			digest, err := HixieDigest(req.Header("Sec-WebSocket-Key1"), req.Header("Sec-WebSocket-Key2"), ws.key3[:])
			if err != nil {
				ws.state = wsError
				c.ConsumeWebSocketHandshake(nil, ReadError)
				return true, len(data)
			}
			ws.state = ws00FrameStart
			c.ConsumeWebSocketHandshake(digest[:], ReadComplete)
			return true, i

		case ws00FrameStart:
			i++
			ws.frameType = b
			ws.messageLen = 0
			if b&0x80 != 0 {
				ws.frameLen = 0
				ws.state = ws00BinaryLength
			} else {
				ws.messageOp = OpText
				ws.state = ws00TextData
			}

		case ws00TextData:
			end := bytes.IndexByte(data[i:], 0xFF)
			if end == -1 {
				seg := data[i:]
				i = len(data)
				if !p.growMessage(int64(len(seg))) {
					return fail()
				}
				c.ConsumeWebSocketMessage(OpText, seg, ReadPartial)
				continue
			}
			seg := data[i : i+end]
			i += end + 1
			if !p.growMessage(int64(len(seg))) {
				return fail()
			}
			ws.state = ws00FrameStart
			c.ConsumeWebSocketMessage(OpText, seg, ReadComplete)
			return true, i

		case ws00BinaryLength:
			i++
			ws.frameLen = ws.frameLen<<7 | int64(b&0x7f)
			if ws.frameLen > p.maxWebSocketMessage {
				return fail()
			}
			if b&0x80 != 0 {
				continue
			}
			if ws.frameType == 0xFF && ws.frameLen == 0 {
				ws.state = ws00FrameStart
				c.ConsumeWebSocketMessage(OpClose, nil, ReadComplete)
				return true, i
			}
			ws.messageOp = OpBinary
			if ws.frameLen == 0 {
				ws.state = ws00FrameStart
				c.ConsumeWebSocketMessage(OpBinary, nil, ReadComplete)
				return true, i
			}
			ws.state = ws00BinaryData

		case ws00BinaryData:
			n := min(ws.frameLen, int64(len(data)-i))
			seg := data[i : i+int(n)]
			i += int(n)
			ws.frameLen -= n
			if ws.frameLen > 0 {
				c.ConsumeWebSocketMessage(OpBinary, seg, ReadPartial)
				continue
			}
			ws.state = ws00FrameStart
			c.ConsumeWebSocketMessage(OpBinary, seg, ReadComplete)
			return true, i

		case ws13FrameStart:
			i++
			if b&0x70 != 0 {
				// no extension negotiated, reserved bits must be clear
				return fail()
			}
			ws.frameFin = b&0x80 != 0
			op := Opcode(b & 0x0f)
			switch op {
			case OpContinuation:
				if !ws.inMessage {
					return fail()
				}
			case OpText, OpBinary:
				if ws.inMessage {
					return fail()
				}
				ws.messageOp = op
				ws.messageLen = 0
			case OpClose, OpPing, OpPong:
				if !ws.frameFin {
					return fail()
				}
			default:
				return fail()
			}
			ws.frameOp = op
			ws.state = ws13PayloadLength

		case ws13PayloadLength:
			i++
			if b&0x80 == 0 {
				// client frames are always masked
				return fail()
			}
			l := int64(b & 0x7f)
			if ws.frameOp.IsControl() && l > 125 {
				return fail()
			}
			ws.frameLen = 0
			switch l {
			case 126:
				ws.lengthBytes = 2
				ws.state = ws13ExtendedPayloadLength
			case 127:
				ws.lengthBytes = 8
				ws.state = ws13ExtendedPayloadLength
			default:
				ws.frameLen = l
				ws.maskLen = 0
				ws.state = ws13Mask
			}

		case ws13ExtendedPayloadLength:
			i++
			ws.frameLen = ws.frameLen<<8 | int64(b)
			if ws.frameLen > p.maxWebSocketMessage {
				return fail()
			}
			ws.lengthBytes--
			if ws.lengthBytes == 0 {
				ws.maskLen = 0
				ws.state = ws13Mask
			}

		case ws13Mask:
			i++
			ws.mask[ws.maskLen] = b
			ws.maskLen++
			if ws.maskLen < len(ws.mask) {
				continue
			}
			ws.maskPos = 0
			ws.ctlLen = 0
			if !ws.frameOp.IsControl() && !p.growMessage(ws.frameLen) {
				return fail()
			}
			if ws.frameLen == 0 {
				if p.endFrame(c, nil) {
					return true, i
				}
				continue
			}
			ws.state = ws13Payload

		case ws13Payload:
			n := min(ws.frameLen, int64(len(data)-i))
			seg := data[i : i+int(n)]
			for k := range seg {
				seg[k] ^= ws.mask[ws.maskPos&3]
				ws.maskPos++
			}
			i += int(n)
			ws.frameLen -= n

			if ws.frameOp.IsControl() {
				ws.ctlLen += copy(ws.control[ws.ctlLen:], seg)
				if ws.frameLen > 0 {
					continue
				}
				if p.endFrame(c, ws.control[:ws.ctlLen]) {
					return true, i
				}
				continue
			}

			if ws.frameLen > 0 {
				c.ConsumeWebSocketMessage(ws.messageOp, seg, ReadPartial)
				continue
			}
			if p.endFrame(c, seg) {
				return true, i
			}

		case wsError:
			return true, len(data)

		default:
			return true, 0
		}
	}

	return ws.state == wsError, i
}

// endFrame delivers the tail of the current RFC6455 frame and reports
// whether a message (or control frame) was completed.
func (p *Parser) endFrame(c Consumer, tail []byte) bool {
	ws := &p.ws
	ws.state = ws13FrameStart

	if ws.frameOp.IsControl() {
		c.ConsumeWebSocketMessage(ws.frameOp, tail, ReadComplete)
		return true
	}
	if ws.frameFin {
		ws.inMessage = false
		c.ConsumeWebSocketMessage(ws.messageOp, tail, ReadComplete)
		return true
	}
	ws.inMessage = true
	if len(tail) > 0 {
		c.ConsumeWebSocketMessage(ws.messageOp, tail, ReadPartial)
	}
	return false
}
