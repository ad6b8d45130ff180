package credit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Limits bounds admin adjustments.
type Limits struct {
	AdjustMaxMagnitude int // largest |amount| a single adjust call may carry
	BalanceCeiling     int // max balance any user may hold
}

// Service defines the credit operations exposed to the rest of the system.
// Every balance-affecting operation is a single atomic unit against the
// ledger store; callers never see partial state.
type Service interface {
	// GrantFromPayment credits a user from a confirmed payment. Idempotent on
	// sourceReference: a redelivered confirmation returns the pack created by
	// the first delivery and writes nothing.
	GrantFromPayment(ctx context.Context, userID uuid.UUID, amount int, sourceReference, description string, expiresAt *time.Time) (*CreditPack, error)

	// Spend debits amount across the user's packs, soonest-to-expire first.
	// Returns one spend transaction per pack touched; their amounts sum to
	// -amount. Fails with ErrInsufficientBalance leaving no partial spend.
	Spend(ctx context.Context, userID uuid.UUID, amount int, reason string) ([]LedgerTransaction, error)

	// Adjust applies a signed admin correction within the configured limits
	// and writes an audit entry in the same transaction.
	Adjust(ctx context.Context, actorID, userID uuid.UUID, amount int, reason string) (*LedgerTransaction, error)

	// RefundFromPayment revokes the pack granted for sourceReference and
	// reverses its unspent credits. Safe to call repeatedly.
	RefundFromPayment(ctx context.Context, sourceReference, reason string) error

	// ExpireStalePacks writes off packs whose expiry has passed and returns
	// how many were flipped. Idempotent and safe to run concurrently.
	ExpireStalePacks(ctx context.Context, now time.Time) (int, error)

	// GetBalance returns the spendable balance for a user.
	GetBalance(ctx context.Context, userID uuid.UUID) (int, error)

	// GetTransactionHistory returns the user's ledger, newest first.
	GetTransactionHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]LedgerTransaction, error)
}
