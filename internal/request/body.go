package request

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

type chunkParser struct {
	state     chunkState
	chunkSize int64
	chunkRead int64
}

type chunkState int

const (
	chunkStateSize chunkState = iota
	chunkStateData
	chunkStateDataCRLF
	chunkStateTrailer
	chunkStateDone
	chunkStateFailed
)

var (
	ErrInvalidChunkSize     = errors.New("invalid chunk size")
	ErrChunkSizeLineTooLong = errors.New("chunk size line too long")
	ErrInvalidChunkFormat   = errors.New("invalid chunk format")
	ErrTrailerTooLarge      = errors.New("trailer headers too large")
	crlf                    = []byte("\r\n")
)

const maxChunkSizeLine = 1024

func (p *chunkParser) reset() {
	*p = chunkParser{}
}

// parse decodes as much of data as it can, passing decoded bytes to emit.
// Incomplete size lines and trailers are left unconsumed; the caller must
// present them again with more data appended.
func (p *chunkParser) parse(data []byte, emit func([]byte) bool) (int, bool, error) {
	consumed := 0

	for consumed < len(data) {
		switch p.state {
		case chunkStateSize:
			n, err := p.parseChunkSize(data[consumed:])
			if err != nil {
				return consumed, false, err
			}
			if n == 0 {
				// Need more data
				return consumed, false, nil
			}
			consumed += n

			if p.chunkSize == 0 {
				// Last chunk (0\r\n)
				p.state = chunkStateTrailer
			} else {
				p.state = chunkStateData
				p.chunkRead = 0
			}

		case chunkStateData:
			toRead := min(p.chunkSize-p.chunkRead, int64(len(data)-consumed))

			seg := data[consumed : consumed+int(toRead)]
			consumed += int(toRead)
			p.chunkRead += toRead
			if !emit(seg) {
				return consumed, true, nil
			}

			if p.chunkRead == p.chunkSize {
				p.state = chunkStateDataCRLF
			}

		case chunkStateDataCRLF:
			if len(data[consumed:]) < 2 {
				return consumed, false, nil
			}
			if data[consumed] != '\r' || data[consumed+1] != '\n' {
				return consumed, false, ErrInvalidChunkFormat
			}
			consumed += 2
			p.state = chunkStateSize

		case chunkStateTrailer:
			if len(data[consumed:]) < 2 {
				return consumed, false, nil
			}
			if data[consumed] == '\r' && data[consumed+1] == '\n' {
				consumed += 2
				p.state = chunkStateDone
				return consumed, true, nil
			}

			// Trailers are skipped, not exposed
			idx := bytes.Index(data[consumed:], []byte("\r\n\r\n"))
			if idx == -1 {
				if len(data[consumed:]) > maxChunkSizeLine {
					return consumed, false, ErrTrailerTooLarge
				}
				return consumed, false, nil
			}
			consumed += idx + 4
			p.state = chunkStateDone
			return consumed, true, nil

		case chunkStateDone, chunkStateFailed:
			return consumed, true, nil
		}
	}

	return consumed, false, nil
}

// parseChunkSize parses the chunk size line: SIZE[;extensions]\r\n
func (p *chunkParser) parseChunkSize(data []byte) (int, error) {
	searchLimit := min(len(data), maxChunkSizeLine)

	idx := bytes.Index(data[:searchLimit], crlf)
	if idx == -1 {
		if len(data) >= maxChunkSizeLine {
			return 0, ErrChunkSizeLineTooLong
		}
		return 0, nil
	}

	sizeLine := data[:idx]

	// Extensions are ignored
	if semi := bytes.IndexByte(sizeLine, ';'); semi != -1 {
		sizeLine = sizeLine[:semi]
	}
	sizeHex := string(bytes.TrimSpace(sizeLine))

	size, err := strconv.ParseInt(sizeHex, 16, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidChunkSize, sizeHex)
	}

	p.chunkSize = size
	return idx + 2, nil
}

func (p *Parser) parseChunkedBody(c Consumer, data []byte) (bool, int) {
	if p.chunk.state == chunkStateDone || p.chunk.state == chunkStateFailed {
		return true, 0
	}

	refused := false
	// the consumer enforces the body size policy, it sees every decoded byte
	consumed, done, err := p.chunk.parse(data, func(seg []byte) bool {
		if len(seg) == 0 {
			return true
		}
		if !c.ConsumeData(seg, ReadPartial) {
			refused = true
			return false
		}
		return true
	})

	switch {
	case refused:
		p.chunk.state = chunkStateFailed
		return true, consumed
	case err != nil:
		p.chunk.state = chunkStateFailed
		p.bodyErr = err
		c.ConsumeData(nil, ReadError)
		return true, consumed
	case done:
		c.ConsumeData(nil, ReadComplete)
		return true, consumed
	}
	return false, consumed
}

// BodyErr returns the framing error that aborted the last chunked body.
func (p *Parser) BodyErr() error {
	return p.bodyErr
}
