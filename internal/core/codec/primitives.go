package codec

import (
	"encoding/binary"
	"math"
	"unicode/utf8"
)

var le = binary.LittleEndian

func fixed(size int, put func(b []byte)) Bytable {
	return Bytable{
		size: size,
		write: func(buf []byte, off int) int {
			put(buf[off : off+size])
			return off + size
		},
	}
}

func WriteBool(v bool) Bytable {
	return fixed(1, func(b []byte) {
		if v {
			b[0] = 1
		} else {
			b[0] = 0
		}
	})
}

// ReadBool accepts only 0 and 1; any other byte is malformed.
func ReadBool(c *ByteContainer) (bool, bool) {
	b, ok := c.Next(1)
	if !ok || b[0] > 1 {
		return false, false
	}
	return b[0] == 1, true
}

func WriteUint8(v uint8) Bytable {
	return fixed(1, func(b []byte) { b[0] = v })
}

func ReadUint8(c *ByteContainer) (uint8, bool) {
	b, ok := c.Next(1)
	if !ok {
		return 0, false
	}
	return b[0], true
}

func WriteUint16(v uint16) Bytable {
	return fixed(2, func(b []byte) { le.PutUint16(b, v) })
}

func ReadUint16(c *ByteContainer) (uint16, bool) {
	b, ok := c.Next(2)
	if !ok {
		return 0, false
	}
	return le.Uint16(b), true
}

func WriteUint32(v uint32) Bytable {
	return fixed(4, func(b []byte) { le.PutUint32(b, v) })
}

func ReadUint32(c *ByteContainer) (uint32, bool) {
	b, ok := c.Next(4)
	if !ok {
		return 0, false
	}
	return le.Uint32(b), true
}

func WriteUint64(v uint64) Bytable {
	return fixed(8, func(b []byte) { le.PutUint64(b, v) })
}

func ReadUint64(c *ByteContainer) (uint64, bool) {
	b, ok := c.Next(8)
	if !ok {
		return 0, false
	}
	return le.Uint64(b), true
}

func WriteInt8(v int8) Bytable   { return WriteUint8(uint8(v)) }
func WriteInt16(v int16) Bytable { return WriteUint16(uint16(v)) }
func WriteInt32(v int32) Bytable { return WriteUint32(uint32(v)) }
func WriteInt64(v int64) Bytable { return WriteUint64(uint64(v)) }

func ReadInt8(c *ByteContainer) (int8, bool) {
	v, ok := ReadUint8(c)
	return int8(v), ok
}

func ReadInt16(c *ByteContainer) (int16, bool) {
	v, ok := ReadUint16(c)
	return int16(v), ok
}

func ReadInt32(c *ByteContainer) (int32, bool) {
	v, ok := ReadUint32(c)
	return int32(v), ok
}

func ReadInt64(c *ByteContainer) (int64, bool) {
	v, ok := ReadUint64(c)
	return int64(v), ok
}

// WriteFloat32 encodes the IEEE-754 bit pattern, so NaN payloads survive.
func WriteFloat32(v float32) Bytable {
	return WriteUint32(math.Float32bits(v))
}

func ReadFloat32(c *ByteContainer) (float32, bool) {
	v, ok := ReadUint32(c)
	if !ok {
		return 0, false
	}
	return math.Float32frombits(v), true
}

func WriteFloat64(v float64) Bytable {
	return WriteUint64(math.Float64bits(v))
}

func ReadFloat64(c *ByteContainer) (float64, bool) {
	v, ok := ReadUint64(c)
	if !ok {
		return 0, false
	}
	return math.Float64frombits(v), true
}

// WriteBytes writes a uint32 length followed by the raw bytes.
func WriteBytes(v []byte) Bytable {
	data := make([]byte, len(v))
	copy(data, v)
	return WriteUint32(uint32(len(data))).Concat(raw(data))
}

// ReadBytes returns a copy of the length-prefixed payload.
func ReadBytes(c *ByteContainer) ([]byte, bool) {
	start := c.pos
	n, ok := ReadUint32(c)
	if !ok {
		return nil, false
	}
	b, ok := c.Next(int(n))
	if !ok {
		c.pos = start
		return nil, false
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, true
}

// WriteString writes a uint32 byte length followed by UTF-8 bytes.
func WriteString(v string) Bytable {
	return WriteUint32(uint32(len(v))).Concat(raw([]byte(v)))
}

// ReadString rejects payloads that are not valid UTF-8.
func ReadString(c *ByteContainer) (string, bool) {
	start := c.pos
	n, ok := ReadUint32(c)
	if !ok {
		return "", false
	}
	b, ok := c.Next(int(n))
	if !ok || !utf8.Valid(b) {
		c.pos = start
		return "", false
	}
	return string(b), true
}

// Integer is the set of types an enumeration may be backed by.
type Integer interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// WriteEnum encodes v with the width of its underlying integer type.
func WriteEnum[E Integer](v E) Bytable {
	switch binary.Size(v) {
	case 1:
		return WriteUint8(uint8(v))
	case 2:
		return WriteUint16(uint16(v))
	case 4:
		return WriteUint32(uint32(v))
	default:
		return WriteUint64(uint64(v))
	}
}

// ReadEnum decodes a value written by WriteEnum for the same type.
func ReadEnum[E Integer](c *ByteContainer) (E, bool) {
	var zero E
	switch binary.Size(zero) {
	case 1:
		v, ok := ReadUint8(c)
		return E(v), ok
	case 2:
		v, ok := ReadUint16(c)
		return E(v), ok
	case 4:
		v, ok := ReadUint32(c)
		return E(v), ok
	default:
		v, ok := ReadUint64(c)
		return E(v), ok
	}
}

func float32bits(v float32) uint32     { return math.Float32bits(v) }
func float32frombits(v uint32) float32 { return math.Float32frombits(v) }
