package codec

import (
	"fmt"
	"sync"
)

// Module teaches a Serializer how to encode a family of types.
//
// Every method reports handled=false for types the module does not know, which
// lets the Serializer move on to the next module. IsCountable and Read receive a
// pointer to a value of the type (the target); Write receives the value.
type Module interface {
	// IsCountable reports whether elements of the type are encoded back to back
	// in collections (true) or need a per-element length table (false).
	IsCountable(target any) (countable bool, handled bool)
	Write(v any) (Bytable, bool)
	Read(c *ByteContainer, target any) (readable bool, handled bool)
}

// Serializer dispatches writes and reads to its modules in registration order.
// The built-in primitive module is always consulted last.
type Serializer struct {
	mu      sync.RWMutex
	modules []Module
}

// NewSerializer creates a Serializer with the given modules ahead of the
// primitive module.
func NewSerializer(modules ...Module) *Serializer {
	s := &Serializer{}
	for _, m := range modules {
		s.AddModule(m)
	}
	return s
}

// AddModule registers m after the modules already present.
func (s *Serializer) AddModule(m Module) {
	if m == nil {
		return
	}
	s.mu.Lock()
	s.modules = append(s.modules, m)
	s.mu.Unlock()
}

func (s *Serializer) snapshot() []Module {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Module, 0, len(s.modules)+1)
	out = append(out, s.modules...)
	return append(out, primitives)
}

// IsCountable asks the modules about the type pointed to by target. Types no
// module claims are treated as non-countable.
func (s *Serializer) IsCountable(target any) bool {
	for _, m := range s.snapshot() {
		if countable, handled := m.IsCountable(target); handled {
			return countable
		}
	}
	return false
}

// WriteValue encodes v with the first module that handles its type.
func (s *Serializer) WriteValue(v any) (Bytable, error) {
	for _, m := range s.snapshot() {
		if b, handled := m.Write(v); handled {
			return b, nil
		}
	}
	return Bytable{}, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
}

// ReadInto decodes into target, which must be a pointer. It returns false when
// no module handles the type or the data is unreadable.
func (s *Serializer) ReadInto(c *ByteContainer, target any) bool {
	for _, m := range s.snapshot() {
		if readable, handled := m.Read(c, target); handled {
			return readable
		}
	}
	return false
}

// Write encodes v through s.
func Write[T any](s *Serializer, v T) (Bytable, error) {
	return s.WriteValue(v)
}

// Read decodes a T through s. On failure the zero value is returned.
func Read[T any](s *Serializer, c *ByteContainer) (T, bool) {
	var v T
	start := c.pos
	if !s.ReadInto(c, &v) {
		c.pos = start
		var zero T
		return zero, false
	}
	return v, true
}

// WriteSlice encodes items as a CountArray when T is countable and as an
// IndexesArray otherwise.
func WriteSlice[T any](s *Serializer, items []T) (Bytable, error) {
	var target T
	parts := make([]Bytable, len(items))
	for i, item := range items {
		b, err := s.WriteValue(item)
		if err != nil {
			return Bytable{}, fmt.Errorf("element %d: %w", i, err)
		}
		parts[i] = b
	}
	if s.IsCountable(&target) {
		return WriteCountArray(parts, func(b Bytable) Bytable { return b }), nil
	}
	return WriteIndexesArray(parts), nil
}

// ReadSlice decodes a slice written by WriteSlice for the same T.
func ReadSlice[T any](s *Serializer, c *ByteContainer) ([]T, bool) {
	var target T
	if s.IsCountable(&target) {
		return ReadCountArray(c, func(c *ByteContainer) (T, bool) { return Read[T](s, c) })
	}

	start := c.pos
	elems, ok := ReadIndexesArray(c)
	if !ok {
		return nil, false
	}
	out := make([]T, len(elems))
	for i, ec := range elems {
		v, ok := Read[T](s, ec)
		if !ok || !ec.Exhausted() {
			c.pos = start
			return nil, false
		}
		out[i] = v
	}
	return out, true
}
