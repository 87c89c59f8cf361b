package postgres

import (
	"errors"
	"fmt"
)

// Kind classifies an operational failure so callers can branch on the
// failure class without parsing messages.
type Kind int

const (
	KindConnection Kind = iota // cannot reach the remote host
	KindConfiguration          // cannot resolve or write a required config artifact
	KindCommand                // remote command ran and exited non-zero
	KindBackup                 // WAL-G backup command failure
	KindRestore                // WAL-G restore command failure
	KindPermission             // SQL grant/ownership statement rejected
	KindValidation             // malformed input, rejected before touching the host
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindConfiguration:
		return "configuration"
	case KindCommand:
		return "command"
	case KindBackup:
		return "backup"
	case KindRestore:
		return "restore"
	case KindPermission:
		return "permission"
	case KindValidation:
		return "validation"
	}
	return "unknown"
}

// OpError is the expected-failure type for every remote operation. Nothing
// in this package panics or aborts the process for an operational failure.
type OpError struct {
	Kind    Kind
	Message string
	wrapped error
}

func (e *OpError) Error() string { return e.Message }

func (e *OpError) Unwrap() error { return e.wrapped }

// ErrRestoredNotStarted marks a restore whose backup-fetch succeeded but
// whose service start failed. Callers retry only the start step.
var ErrRestoredNotStarted = errors.New("restored but not started")

func opErrorf(kind Kind, format string, args ...interface{}) *OpError {
	return &OpError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapOpError(kind Kind, wrapped error, format string, args ...interface{}) *OpError {
	return &OpError{Kind: kind, Message: fmt.Sprintf(format, args...), wrapped: wrapped}
}

// KindOf extracts the failure kind from err, or KindCommand when err is not
// an OpError.
func KindOf(err error) Kind {
	var op *OpError
	if errors.As(err, &op) {
		return op.Kind
	}
	return KindCommand
}
