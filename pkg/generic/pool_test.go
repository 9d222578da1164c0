package generic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolResetsValues(t *testing.T) {
	p := NewHotPool(func() []int { return make([]int, 0, 4) }, func(v []int) []int { return v[:0] }, 2)
	v := p.Get()
	v = append(v, 1, 2, 3)
	p.Put(v)

	got := p.Get()
	assert.Empty(t, got)
}

func TestBufferPool(t *testing.T) {
	p := NewBufferPool(16, 64)
	b := p.Get()
	assert.GreaterOrEqual(t, cap(*b), 16)
	*b = append(*b, make([]byte, 128)...)
	p.Put(b)

	again := p.Get()
	assert.Empty(t, *again)
	assert.LessOrEqual(t, cap(*again), 64)
}
