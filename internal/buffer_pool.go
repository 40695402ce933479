package internal

import (
	"sync"
)

// BufferPool recycles byte slices used to encode requests.
// Slices that grew past maxSize are dropped instead of pooled.
type BufferPool struct {
	pool    sync.Pool
	maxSize int
}

func NewBufferPool(initialSize, maxSize int) *BufferPool {
	return &BufferPool{
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, 0, initialSize)
				return &b
			},
		},
		maxSize: maxSize,
	}
}

// Get returns an empty slice.
func (p *BufferPool) Get() *[]byte {
	return p.pool.Get().(*[]byte)
}

func (p *BufferPool) Put(b *[]byte) {
	if cap(*b) > p.maxSize {
		return
	}
	*b = (*b)[:0]
	p.pool.Put(b)
}
