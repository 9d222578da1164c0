// Package transport moves framed transactions between peers over websocket
// or QUIC connections.
package transport

import (
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/umi3d/umisync/internal/core/codec"
	"github.com/umi3d/umisync/pkg/generic"
)

const (
	// Version is the frame format version written by this build.
	Version uint8 = 1
	// HeaderSize is magic(2) + version(1) + flags(1) + length(4) + checksum(8).
	HeaderSize = 16
	// DefaultMaxFrameSize bounds the payload of a frame.
	DefaultMaxFrameSize = 4 << 20
)

var magic = [2]byte{'U', '3'}

// Flags describe the payload of a frame.
type Flags uint8

const (
	// FlagReliable marks a transaction that needs ordered, reliable delivery.
	FlagReliable Flags = 1 << iota
	// FlagObject marks a payload in JSON object form instead of binary.
	FlagObject
	// FlagControl marks a transport level frame that is never surfaced.
	FlagControl
)

func (f Flags) Reliable() bool { return f&FlagReliable != 0 }
func (f Flags) Object() bool   { return f&FlagObject != 0 }
func (f Flags) Control() bool  { return f&FlagControl != 0 }

// Frame is one transaction payload with its transport flags.
type Frame struct {
	Flags   Flags
	Payload []byte
}

// NewFrame builds a frame for a binary or object transaction payload.
func NewFrame(payload []byte, reliable, object bool) Frame {
	var flags Flags
	if reliable {
		flags |= FlagReliable
	}
	if object {
		flags |= FlagObject
	}
	return Frame{Flags: flags, Payload: payload}
}

var frameBuffers = generic.NewBufferPool(4<<10, 1<<20)

// Bytable encodes the header and the payload.
func (f Frame) Bytable() codec.Bytable {
	return codec.Join(
		codec.Raw(magic[:]),
		codec.WriteUint8(Version),
		codec.WriteEnum(f.Flags),
		codec.WriteUint32(uint32(len(f.Payload))),
		codec.WriteUint64(xxhash.Sum64(f.Payload)),
		codec.Raw(f.Payload),
	)
}

// AppendFrame appends the encoded frame to dst.
func AppendFrame(dst []byte, f Frame) []byte {
	return f.Bytable().AppendTo(dst)
}

// EncodeFrame returns the encoded frame in a fresh slice.
func EncodeFrame(f Frame) []byte {
	return f.Bytable().ToBytes()
}

// withEncoded encodes f into a pooled buffer and passes it to send. The buffer
// is only valid during the call.
func withEncoded(f Frame, send func([]byte) error) error {
	buf := frameBuffers.Get()
	defer frameBuffers.Put(buf)
	*buf = AppendFrame(*buf, f)
	return send(*buf)
}

// header is the decoded fixed part of a frame.
type header struct {
	flags    Flags
	length   uint32
	checksum uint64
}

func readHeader(data []byte, maxSize int) (header, error) {
	c := codec.NewByteContainer(data)
	m, ok := c.Next(2)
	if !ok {
		return header{}, fmt.Errorf("%w: %d bytes", ErrInvalidHeader, len(data))
	}
	if m[0] != magic[0] || m[1] != magic[1] {
		return header{}, fmt.Errorf("%w: bad magic %q", ErrInvalidHeader, m)
	}
	version, ok := codec.ReadUint8(c)
	if !ok {
		return header{}, fmt.Errorf("%w: missing version", ErrInvalidHeader)
	}
	if version != Version {
		return header{}, fmt.Errorf("%w: version %d", ErrInvalidHeader, version)
	}
	var h header
	if h.flags, ok = codec.ReadEnum[Flags](c); !ok {
		return header{}, fmt.Errorf("%w: missing flags", ErrInvalidHeader)
	}
	if h.length, ok = codec.ReadUint32(c); !ok {
		return header{}, fmt.Errorf("%w: missing length", ErrInvalidHeader)
	}
	if h.checksum, ok = codec.ReadUint64(c); !ok {
		return header{}, fmt.Errorf("%w: missing checksum", ErrInvalidHeader)
	}
	if maxSize > 0 && int64(h.length) > int64(maxSize) {
		return header{}, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, h.length, maxSize)
	}
	return h, nil
}

func (h header) frame(payload []byte) (Frame, error) {
	if xxhash.Sum64(payload) != h.checksum {
		return Frame{}, ErrChecksumMismatch
	}
	return Frame{Flags: h.flags, Payload: payload}, nil
}

// DecodeFrame decodes a frame occupying all of data. maxSize <= 0 disables the
// payload size check. The payload aliases data.
func DecodeFrame(data []byte, maxSize int) (Frame, error) {
	h, err := readHeader(data, maxSize)
	if err != nil {
		return Frame{}, err
	}
	if len(data)-HeaderSize != int(h.length) {
		return Frame{}, fmt.Errorf("%w: header announces %d payload bytes, got %d", ErrInvalidFrame, h.length, len(data)-HeaderSize)
	}
	return h.frame(data[HeaderSize:])
}
