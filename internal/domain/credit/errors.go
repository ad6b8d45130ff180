package credit

import "errors"

var (
	// ErrInsufficientBalance is returned when eligible packs cannot cover a spend
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidAmount is returned when an amount fails validation before any write
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidReference is returned when a grant carries no source reference
	ErrInvalidReference = errors.New("invalid source reference")

	// ErrBalanceOutOfRange is returned when an adjustment would push the balance
	// below zero or above the configured ceiling
	ErrBalanceOutOfRange = errors.New("balance out of range")

	// ErrConflict is returned when a source reference was already granted with
	// a different user or amount. An identical redelivery is not a conflict.
	ErrConflict = errors.New("conflicting source reference")

	// ErrNotFound is returned when the referenced user or pack doesn't exist
	ErrNotFound = errors.New("not found")

	// ErrStorageUnavailable is returned on storage I/O failure or timeout;
	// transient, the caller may retry
	ErrStorageUnavailable = errors.New("storage unavailable")
)
