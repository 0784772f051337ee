package memory

import (
	"fmt"

	"github.com/hanko-field/checkout/internal/repositories"
)

type errorKind int

const (
	kindNotFound errorKind = iota + 1
	kindConflict
)

// Error implements repositories.RepositoryError for the in-memory store.
type Error struct {
	op      string
	message string
	kind    errorKind
}

var _ repositories.RepositoryError = (*Error)(nil)

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.op, e.message)
}

func (e *Error) IsNotFound() bool    { return e != nil && e.kind == kindNotFound }
func (e *Error) IsConflict() bool    { return e != nil && e.kind == kindConflict }
func (e *Error) IsUnavailable() bool { return false }

func notFound(op, format string, args ...any) *Error {
	return &Error{op: op, message: fmt.Sprintf(format, args...), kind: kindNotFound}
}

func conflict(op, format string, args ...any) *Error {
	return &Error{op: op, message: fmt.Sprintf(format, args...), kind: kindConflict}
}
