package response

import (
	"encoding/binary"

	"github.com/Brownie44l1/httpconnector/internal/request"
)

// appendFrame encodes one server-to-client WebSocket message. Server frames
// are never masked. version 0 selects hixie-76 framing, which only knows
// text, binary and close; ok is false for anything else.
func appendFrame(b []byte, version int, op request.Opcode, payload []byte) ([]byte, bool) {
	if version == 0 {
		return appendHixieFrame(b, op, payload)
	}

	b = append(b, 0x80|byte(op))
	switch n := len(payload); {
	case n < 126:
		b = append(b, byte(n))
	case n <= 0xFFFF:
		b = append(b, 126)
		b = binary.BigEndian.AppendUint16(b, uint16(n))
	default:
		b = append(b, 127)
		b = binary.BigEndian.AppendUint64(b, uint64(n))
	}
	return append(b, payload...), true
}

func appendHixieFrame(b []byte, op request.Opcode, payload []byte) ([]byte, bool) {
	switch op {
	case request.OpText:
		b = append(b, 0x00)
		b = append(b, payload...)
		return append(b, 0xFF), true
	case request.OpBinary:
		b = append(b, 0x80)
		b = appendHixieLength(b, len(payload))
		return append(b, payload...), true
	case request.OpClose:
		return append(b, 0xFF, 0x00), true
	}
	return b, false
}

// appendHixieLength writes n as big-endian 7-bit groups, the high bit set
// on every group but the last.
func appendHixieLength(b []byte, n int) []byte {
	var groups [10]byte
	i := len(groups) - 1
	groups[i] = byte(n & 0x7f)
	for n >>= 7; n > 0; n >>= 7 {
		i--
		groups[i] = 0x80 | byte(n&0x7f)
	}
	return append(b, groups[i:]...)
}
