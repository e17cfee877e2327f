package conn

import "sync"

// CopyBufferSize is the size of buffers handed out by the shared pool.
const CopyBufferSize = 32 * 1024

var copyBuffers = NewBufferPool(CopyBufferSize)

// BufferPool hands out fixed-size byte slices.
type BufferPool struct {
	pool sync.Pool
}

func NewBufferPool(size int) *BufferPool {
	bp := &BufferPool{}
	bp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return bp
}

func (p *BufferPool) Get() []byte {
	return *p.pool.Get().(*[]byte)
}

func (p *BufferPool) Put(b []byte) {
	// &b costs a small heap allocation; a non-pointer in an interface would cost more.
	p.pool.Put(&b)
}
