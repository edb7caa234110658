package buffer

import (
	"github.com/valyala/bytebufferpool"
)

// ChunkSize is the relay read size. Upstream bodies are forwarded to clients in
// chunks of at most this many bytes.
const ChunkSize = 8192

// BufferPool is a thread-safe pool of fixed-size byte buffers backed by
// valyala/bytebufferpool. Each active relay borrows one buffer for the lifetime
// of its body copy and returns it when the copy ends.
type BufferPool struct {
	pool       *bytebufferpool.Pool
	bufferSize int
}

// NewBufferPool creates a new BufferPool that hands out buffers of bufferSize bytes.
// A non-positive size falls back to ChunkSize.
func NewBufferPool(bufferSize int) *BufferPool {
	if bufferSize <= 0 {
		bufferSize = ChunkSize
	}
	return &BufferPool{
		bufferSize: bufferSize,
		pool:       &bytebufferpool.Pool{},
	}
}

// Size returns the length of the buffers handed out by Get.
func (bp *BufferPool) Size() int {
	return bp.bufferSize
}

// Get retrieves a buffer from the pool. The returned ByteBuffer's B has length
// Size() and may contain stale bytes from a previous user.
func (bp *BufferPool) Get() *bytebufferpool.ByteBuffer {
	buf := bp.pool.Get()
	if cap(buf.B) < bp.bufferSize {
		buf.B = make([]byte, bp.bufferSize)
	}
	buf.B = buf.B[:bp.bufferSize]
	return buf
}

// Put returns a buffer to the pool.
func (bp *BufferPool) Put(buf *bytebufferpool.ByteBuffer) {
	if buf != nil {
		bp.pool.Put(buf)
	}
}
