package generic

import "sync"

// SlicePool recycles slice buffers for lists that live for one call.
type SlicePool[T any] struct {
	pool sync.Pool
}

func NewSlicePool[T any](capacity int) *SlicePool[T] {
	return &SlicePool[T]{
		pool: sync.Pool{
			New: func() any {
				s := make([]T, 0, capacity)
				return &s
			},
		},
	}
}

// Get returns an empty buffer.
func (p *SlicePool[T]) Get() *[]T {
	s := p.pool.Get().(*[]T)
	*s = (*s)[:0]
	return s
}

// Put zeroes the buffer so it holds no references, then recycles it.
func (p *SlicePool[T]) Put(s *[]T) {
	clear(*s)
	*s = (*s)[:0]
	p.pool.Put(s)
}
