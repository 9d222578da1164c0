package codec

import "errors"

var (
	ErrBufferTooSmall   = errors.New("buffer too small for encoding")
	ErrUnsupportedType  = errors.New("no serializer module handles type")
	ErrDecodeTruncated  = errors.New("not enough bytes to decode value")
	ErrTrailingBytes    = errors.New("unexpected trailing bytes after value")
	ErrInvalidUTF8      = errors.New("string is not valid UTF-8")
	ErrCollectionLength = errors.New("collection length exceeds container")
)
