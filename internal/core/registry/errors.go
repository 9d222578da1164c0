package registry

import "errors"

var (
	ErrEntityNotFound          = errors.New("entity not found")
	ErrEntityAlreadyRegistered = errors.New("entity already registered")
	ErrEntityDeleted           = errors.New("entity deleted")
	ErrRegistryClosed          = errors.New("registry is closed")
	ErrWaitTimeout             = errors.New("wait for entity timed out")
	// ErrDependencyMissing is reported to waiters when the resource of an
	// entity could not be loaded.
	ErrDependencyMissing  = errors.New("entity dependency missing")
	ErrNotAList           = errors.New("property is not a list")
	ErrIndexOutOfRange    = errors.New("list index out of range")
	ErrUnknownEnvironment = errors.New("unknown environment")
	ErrInvalidArgument    = errors.New("invalid argument")
)
