package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/umi3d/umisync/internal/core/operation"
	"github.com/umi3d/umisync/internal/core/registry"
)

var (
	ErrNilRegistry      = errors.New("dispatch: nil registry")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrRunnerClosed     = errors.New("runner is closed")
	// ErrEntityNotFound is returned in strict mode when an operation targets
	// an entity that is not registered.
	ErrEntityNotFound = registry.ErrEntityNotFound
)

// ErrorCode classifies a failed operation.
type ErrorCode int

const (
	ErrorCodeDecodeTruncated   ErrorCode = 1001
	ErrorCodeUnknownOperation  ErrorCode = 1002
	ErrorCodeInvalidOperation  ErrorCode = 1003
	ErrorCodeEntityNotFound    ErrorCode = 2001
	ErrorCodeAlreadyRegistered ErrorCode = 2002
	ErrorCodeDependencyMissing ErrorCode = 2003
	ErrorCodeInvalidList       ErrorCode = 2004
	ErrorCodeRegistryClosed    ErrorCode = 2005
	ErrorCodeCanceled          ErrorCode = 9001
	ErrorCodeInternal          ErrorCode = 9003
)

// Error reports which operation of a transaction failed and why.
type Error struct {
	Code     ErrorCode
	Kind     operation.Kind
	Index    int
	EntityID uint64
	Cause    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("operation %d (%s, entity %d): %v", e.Index, e.Kind, e.EntityID, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsTemporary reports whether replaying the same transaction may succeed.
func (e *Error) IsTemporary() bool {
	switch e.Code {
	case ErrorCodeCanceled, ErrorCodeDependencyMissing:
		return true
	default:
		return false
	}
}

func codeOf(err error) ErrorCode {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, registry.ErrWaitTimeout):
		return ErrorCodeCanceled
	case errors.Is(err, operation.ErrDecodeTruncated):
		return ErrorCodeDecodeTruncated
	case errors.Is(err, registry.ErrEntityNotFound):
		return ErrorCodeEntityNotFound
	case errors.Is(err, registry.ErrEntityAlreadyRegistered):
		return ErrorCodeAlreadyRegistered
	case errors.Is(err, registry.ErrDependencyMissing):
		return ErrorCodeDependencyMissing
	case errors.Is(err, registry.ErrNotAList), errors.Is(err, registry.ErrIndexOutOfRange):
		return ErrorCodeInvalidList
	case errors.Is(err, registry.ErrRegistryClosed):
		return ErrorCodeRegistryClosed
	case errors.Is(err, ErrInvalidOperation):
		return ErrorCodeInvalidOperation
	default:
		return ErrorCodeInternal
	}
}

func wrap(index int, op operation.Operation, err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	if op == nil {
		return &Error{Code: codeOf(err), Index: index, Cause: err}
	}
	return &Error{Code: codeOf(err), Kind: op.Kind(), Index: index, EntityID: targetOf(op), Cause: err}
}

// targetOf returns the entity an operation addresses, or zero when it
// addresses several or none.
func targetOf(op operation.Operation) uint64 {
	switch o := op.(type) {
	case *operation.LoadEntity:
		if o.Entity != nil {
			return o.Entity.ID
		}
	case *operation.DeleteEntity:
		return o.EntityID
	case *operation.SetEntityProperty:
		return o.EntityID
	case *operation.ListAdd:
		return o.EntityID
	case *operation.ListRemove:
		return o.EntityID
	case *operation.ListSet:
		return o.EntityID
	}
	return 0
}
