package codec

// WriteCountArray encodes items as a uint32 count followed by each element.
func WriteCountArray[T any](items []T, write func(T) Bytable) Bytable {
	parts := make([]Bytable, 0, len(items)+1)
	parts = append(parts, WriteUint32(uint32(len(items))))
	for _, item := range items {
		parts = append(parts, write(item))
	}
	return Join(parts...)
}

// ReadCountArray reads the count, then exactly that many elements. Every
// element takes at least one byte, so it fails when the count exceeds the
// remaining bytes or any element is unreadable; the cursor is restored on
// failure.
func ReadCountArray[T any](c *ByteContainer, read func(*ByteContainer) (T, bool)) ([]T, bool) {
	start := c.pos
	n, ok := ReadUint32(c)
	if !ok {
		return nil, false
	}
	if int64(n) > int64(c.Remaining()) {
		c.pos = start
		return nil, false
	}
	out := make([]T, 0, n)
	for i := uint32(0); i < n; i++ {
		v, ok := read(c)
		if !ok {
			c.pos = start
			return nil, false
		}
		out = append(out, v)
	}
	return out, true
}

// WriteIndexesArray encodes variable-size elements as a uint32 count, one uint32
// byte length per element, then the elements. A reader can skip any element
// without understanding it.
func WriteIndexesArray(items []Bytable) Bytable {
	parts := make([]Bytable, 0, 2*len(items)+1)
	parts = append(parts, WriteUint32(uint32(len(items))))
	for _, item := range items {
		parts = append(parts, WriteUint32(uint32(item.Size())))
	}
	parts = append(parts, items...)
	return Join(parts...)
}

// ReadIndexesArray returns one sub-container per element. It fails when the
// declared lengths do not fit in the container.
func ReadIndexesArray(c *ByteContainer) ([]*ByteContainer, bool) {
	start := c.pos
	n, ok := ReadUint32(c)
	if !ok {
		return nil, false
	}
	if int64(n)*4 > int64(c.Remaining()) {
		c.pos = start
		return nil, false
	}
	lengths := make([]uint32, n)
	total := int64(0)
	for i := range lengths {
		lengths[i], _ = ReadUint32(c)
		total += int64(lengths[i])
	}
	if total > int64(c.Remaining()) {
		c.pos = start
		return nil, false
	}
	out := make([]*ByteContainer, n)
	for i, l := range lengths {
		out[i], _ = c.Sub(int(l))
	}
	return out, true
}

// WriteOptional writes a presence flag followed by the value when v is non-nil.
func WriteOptional[T any](v *T, write func(T) Bytable) Bytable {
	if v == nil {
		return WriteBool(false)
	}
	return WriteBool(true).Concat(write(*v))
}

func ReadOptional[T any](c *ByteContainer, read func(*ByteContainer) (T, bool)) (*T, bool) {
	start := c.pos
	present, ok := ReadBool(c)
	if !ok {
		return nil, false
	}
	if !present {
		return nil, true
	}
	v, ok := read(c)
	if !ok {
		c.pos = start
		return nil, false
	}
	return &v, true
}
