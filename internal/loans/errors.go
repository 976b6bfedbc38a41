package loans

import (
	"errors"
	"fmt"
)

// Kind classifies a business failure. Every kind is recoverable at the API
// boundary; the handler layer maps kinds to HTTP statuses.
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindForbidden
	KindInvalidTransition
	KindLimitReached
	KindOverdueBlock
	KindItemUnavailable
	KindDuplicateReservation
	KindStillAvailable
	KindAlreadyReturned
	KindAlreadyRenewed
	KindRemoteUpdateFailed
	KindInvalidConfig
	KindUnknownItem
)

type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func Errf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of a business error, or 0 for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
