package service

import (
	"errors"
	"fmt"

	"pos-service/internal/store"
)

var (
	ErrNotFound               = store.ErrNotFound
	ErrInsufficientStock      = store.ErrInsufficientStock
	ErrInvalidInput           = errors.New("invalid input")
	ErrForbidden              = errors.New("forbidden")
	ErrUnauthenticated        = errors.New("unauthenticated")
	ErrAlreadyInTerminalState = errors.New("order already in terminal state")
	// ErrPartialFailure means some stock writes of one operation were applied
	// and others were not; the order is flagged for manual reconciliation.
	ErrPartialFailure = errors.New("partial failure")
	// ErrVoidWindowExpired is a Forbidden case surfaced to clients as a bad request
	ErrVoidWindowExpired = fmt.Errorf("%w: void window expired", ErrForbidden)
)

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
