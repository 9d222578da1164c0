package generic

import "sync"

// Pool is a typed sync.Pool. Values are reset before they are put back.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T) T
}

func NewPool[T any](generate func() T, reset func(T) T) *Pool[T] {
	return &Pool[T]{
		pool: sync.Pool{
			New: func() any {
				return generate()
			},
		},
		reset: reset,
	}
}

// NewHotPool pre-fills the pool with hotSize values.
func NewHotPool[T any](generate func() T, reset func(T) T, hotSize int) *Pool[T] {
	p := NewPool(generate, reset)
	for range hotSize {
		p.pool.Put(generate())
	}
	return p
}

func (p *Pool[T]) Get() T {
	return p.pool.Get().(T)
}

func (p *Pool[T]) Put(value T) {
	if p.reset != nil {
		value = p.reset(value)
	}
	p.pool.Put(value)
}

// NewBufferPool pools byte slices of at least size capacity. Slices that grew
// beyond maxSize are dropped instead of being retained.
func NewBufferPool(size, maxSize int) *Pool[*[]byte] {
	return NewPool(
		func() *[]byte {
			b := make([]byte, 0, size)
			return &b
		},
		func(b *[]byte) *[]byte {
			if cap(*b) > maxSize {
				fresh := make([]byte, 0, size)
				return &fresh
			}
			*b = (*b)[:0]
			return b
		},
	)
}
