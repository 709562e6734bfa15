package buffer

import (
	"errors"
	"io"

	"github.com/valyala/bytebufferpool"
)

// ErrTooLarge is returned when a body exceeds the read limit.
var ErrTooLarge = errors.New("body exceeds read limit")

// BufferPool hands out reusable byte buffers for whole-body reads of
// manifests, segments and subtitles.
type BufferPool struct {
	pool *bytebufferpool.Pool
}

// NewBufferPool creates an empty pool.
func NewBufferPool() *BufferPool {
	return &BufferPool{pool: &bytebufferpool.Pool{}}
}

// Get retrieves a reset buffer from the pool.
func (bp *BufferPool) Get() *bytebufferpool.ByteBuffer {
	buf := bp.pool.Get()
	buf.Reset()
	return buf
}

// Put returns a buffer to the pool.
func (bp *BufferPool) Put(buf *bytebufferpool.ByteBuffer) {
	if buf != nil {
		bp.pool.Put(buf)
	}
}

// ReadAll reads r to EOF into a pooled buffer and returns an owned copy.
// A limit <= 0 means no limit; otherwise bodies larger than limit fail with
// ErrTooLarge.
//
// Parameters:
//   - r: body to drain
//   - limit: maximum number of bytes accepted
//
// Returns:
//   - []byte: the body, safe to keep after the call
//   - error: read failure or ErrTooLarge
func (bp *BufferPool) ReadAll(r io.Reader, limit int64) ([]byte, error) {
	buf := bp.Get()
	defer bp.Put(buf)

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}

	if _, err := buf.ReadFrom(src); err != nil {
		return nil, err
	}
	if limit > 0 && int64(buf.Len()) > limit {
		return nil, ErrTooLarge
	}

	out := make([]byte, buf.Len())
	copy(out, buf.B)
	return out, nil
}
