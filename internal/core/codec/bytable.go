// Package codec implements the compact binary form of the entity protocol.
//
// Values are encoded into deferred writers (Bytable) that know their exact size
// up front and compose by concatenation, then flushed into a single buffer. Reads
// go through a ByteContainer cursor and never panic on short input: every reader
// reports readable=false and returns the zero value instead.
//
// All numeric types are fixed-width little-endian. Collections are prefixed with a
// uint32 element count; strings and byte slices with a uint32 byte length.
package codec

// WriterFunc writes exactly Size bytes into buf starting at off and returns the
// offset following the last byte written.
type WriterFunc func(buf []byte, off int) int

// Bytable is a deferred binary encoding unit: a known size plus a writer.
// The zero value is an empty Bytable that writes nothing.
type Bytable struct {
	size  int
	write WriterFunc
}

// NewBytable creates a Bytable from an explicit size and writer.
func NewBytable(size int, write WriterFunc) Bytable {
	return Bytable{size: size, write: write}
}

// Size returns the number of bytes the Bytable writes.
func (b Bytable) Size() int {
	return b.size
}

// Concat returns a Bytable writing b followed by others, in order.
func (b Bytable) Concat(others ...Bytable) Bytable {
	parts := make([]Bytable, 0, len(others)+1)
	parts = append(parts, b)
	parts = append(parts, others...)
	return Join(parts...)
}

// Join concatenates parts. The resulting size is the sum of the part sizes.
func Join(parts ...Bytable) Bytable {
	size := 0
	nonEmpty := make([]Bytable, 0, len(parts))
	for _, p := range parts {
		if p.size == 0 || p.write == nil {
			continue
		}
		size += p.size
		nonEmpty = append(nonEmpty, p)
	}

	switch len(nonEmpty) {
	case 0:
		return Bytable{}
	case 1:
		return nonEmpty[0]
	}

	return Bytable{
		size: size,
		write: func(buf []byte, off int) int {
			for _, p := range nonEmpty {
				off = p.write(buf, off)
			}
			return off
		},
	}
}

// WriteAt writes b into buf at off. It returns the new offset and the number of
// bytes written, or ErrBufferTooSmall when buf cannot hold the encoding.
func (b Bytable) WriteAt(buf []byte, off int) (int, int, error) {
	if off < 0 || len(buf)-off < b.size {
		return off, 0, ErrBufferTooSmall
	}
	if b.write == nil || b.size == 0 {
		return off, 0, nil
	}
	next := b.write(buf, off)
	return next, next - off, nil
}

// ToBytes allocates a buffer of exactly Size bytes and writes b into it.
func (b Bytable) ToBytes() []byte {
	buf := make([]byte, b.size)
	if b.write != nil && b.size > 0 {
		b.write(buf, 0)
	}
	return buf
}

// AppendTo appends the encoding of b to dst.
func (b Bytable) AppendTo(dst []byte) []byte {
	start := len(dst)
	if cap(dst)-start < b.size {
		grown := make([]byte, start, start+b.size)
		copy(grown, dst)
		dst = grown
	}
	dst = dst[:start+b.size]
	if b.write != nil && b.size > 0 {
		b.write(dst, start)
	}
	return dst
}

// raw wraps an already encoded byte slice.
func raw(data []byte) Bytable {
	if len(data) == 0 {
		return Bytable{}
	}
	return Bytable{
		size: len(data),
		write: func(buf []byte, off int) int {
			return off + copy(buf[off:], data)
		},
	}
}

// Raw returns a Bytable that writes data verbatim.
func Raw(data []byte) Bytable {
	return raw(data)
}
