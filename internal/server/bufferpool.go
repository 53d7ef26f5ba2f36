package server

import "sync"

// ReadBufferSize is the size of the per-connection read buffer.
const ReadBufferSize = 8192

// readBuffer is the storage a connection reads the socket into. Unparsed
// bytes stay in it until the parser consumes them.
type readBuffer [ReadBufferSize]byte

var bufferPool = sync.Pool{
	New: func() interface{} {
		return new(readBuffer)
	},
}

// getBuffer returns a read buffer from the pool
func getBuffer() *readBuffer {
	return bufferPool.Get().(*readBuffer)
}

// putBuffer returns a buffer to the pool. Nothing may read into it anymore.
func putBuffer(buf *readBuffer) {
	if buf != nil {
		bufferPool.Put(buf)
	}
}
