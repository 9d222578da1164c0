package operation

import "errors"

var (
	ErrDecodeTruncated = errors.New("operation truncated")
	ErrTrailingBytes   = errors.New("trailing bytes after operation")
	ErrNotTransaction  = errors.New("payload is not a transaction")
	ErrUnknownDtype    = errors.New("unknown operation dtype")
	ErrMissingField    = errors.New("operation dto is missing a required field")
)
