package transport

import "errors"

var (
	ErrInvalidFrame     = errors.New("invalid frame")
	ErrInvalidHeader    = errors.New("invalid frame header")
	ErrFrameTooLarge    = errors.New("frame too large")
	ErrChecksumMismatch = errors.New("frame checksum mismatch")
	ErrConnectionClosed = errors.New("connection is closed")
	ErrUnsupportedType  = errors.New("unsupported message type")
)
