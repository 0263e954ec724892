package state

import "errors"

var (
	// ErrOrderingViolation is returned when an event is not strictly after the last applied one.
	ErrOrderingViolation = errors.New("event ordering violation")

	// ErrReference is returned when an event names an order, account or token id that does not exist.
	ErrReference = errors.New("unknown reference")

	// ErrInsufficientAmount is returned when a withdrawal or trade exceeds what is available.
	ErrInsufficientAmount = errors.New("insufficient amount")
)
