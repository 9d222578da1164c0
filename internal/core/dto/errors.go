package dto

import "errors"

var ErrUnknownValueKind = errors.New("unknown value kind")
