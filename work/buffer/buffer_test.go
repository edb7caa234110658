package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferPoolHandsOutFullLengthBuffers(t *testing.T) {
	bp := NewBufferPool(0)
	assert.Equal(t, ChunkSize, bp.Size())

	buf := bp.Get()
	assert.Len(t, buf.B, ChunkSize)

	buf.B = buf.B[:10]
	bp.Put(buf)

	again := bp.Get()
	assert.Len(t, again.B, ChunkSize)
	bp.Put(again)
}

func TestBufferPoolPutNil(t *testing.T) {
	bp := NewBufferPool(64)
	assert.NotPanics(t, func() { bp.Put(nil) })
	assert.Len(t, bp.Get().B, 64)
}
