package payment

import "errors"

var (
	// ErrInvalidSignature is returned when webhook authentication fails;
	// terminal, never retried
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrMalformedEvent is returned when a verified payload is missing
	// required fields; terminal
	ErrMalformedEvent = errors.New("malformed event")

	// ErrAmountMismatch is returned when the webhook amount disagrees with
	// the pending payment
	ErrAmountMismatch = errors.New("amount mismatch")

	// ErrUnsupportedGateway is returned for an unknown gateway name
	ErrUnsupportedGateway = errors.New("unsupported gateway")

	// ErrPaymentNotFound is returned when no payment matches the reference
	ErrPaymentNotFound = errors.New("payment not found")
)
