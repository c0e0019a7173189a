package optimize

import (
	"sync"
)

// BytePool is a pool of byte slices to reduce allocations on the audio path
type BytePool struct {
	pool sync.Pool
	size int
}

// NewBytePool creates a new byte pool with specified size
func NewBytePool(size int) *BytePool {
	return &BytePool{
		size: size,
		pool: sync.Pool{
			New: func() interface{} {
				return make([]byte, size)
			},
		},
	}
}

// Get gets a byte slice from the pool
func (p *BytePool) Get() []byte {
	return p.pool.Get().([]byte)
}

// Put returns a byte slice to the pool
func (p *BytePool) Put(b []byte) {
	// Only put back slices with at least the pool size of capacity, trimmed
	// to the pool size
	if cap(b) >= p.size {
		p.pool.Put(b[:p.size])
	}
}

// Size returns the slice length handed out by Get.
func (p *BytePool) Size() int {
	return p.size
}
