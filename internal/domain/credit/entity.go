package credit

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// PackStatus defines the lifecycle state of a credit pack.
type PackStatus string

const (
	PackStatusActive  PackStatus = "active"
	PackStatusExpired PackStatus = "expired"
	PackStatusRevoked PackStatus = "revoked"
)

// TxKind defines supported ledger transaction kinds.
type TxKind string

const (
	TxKindPurchaseGrant      TxKind = "purchase_grant"
	TxKindSpend              TxKind = "spend"
	TxKindAdminAdjustment    TxKind = "admin_adjustment"
	TxKindRefundReversal     TxKind = "refund_reversal"
	TxKindExpirationWriteoff TxKind = "expiration_writeoff"
)

// CreditPack is one batch of credits with a single origin and its own expiry.
// CreditsRemaining only ever decreases; a pack is never deleted, only flipped
// to expired or revoked.
type CreditPack struct {
	ID               uuid.UUID    `db:"id" json:"id"`
	UserID           uuid.UUID    `db:"user_id" json:"user_id"`
	CreditsGranted   int          `db:"credits_granted" json:"credits_granted"`
	CreditsRemaining int          `db:"credits_remaining" json:"credits_remaining"`
	SourceReference  string       `db:"source_reference" json:"source_reference"`
	IssuedAt         time.Time    `db:"issued_at" json:"issued_at"`
	ExpiresAt        sql.NullTime `db:"expires_at" json:"expires_at,omitempty"`
	Status           PackStatus   `db:"status" json:"status"`
}

// LedgerTransaction is an immutable record of a balance-affecting event.
// Positive amounts are grants, negative amounts are spends and writeoffs.
type LedgerTransaction struct {
	ID          uuid.UUID     `db:"id" json:"id"`
	UserID      uuid.UUID     `db:"user_id" json:"user_id"`
	PackID      uuid.NullUUID `db:"pack_id" json:"pack_id,omitempty"`
	Amount      int           `db:"amount" json:"amount"`
	Kind        TxKind        `db:"kind" json:"kind"`
	Description string        `db:"description" json:"description"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
}

// Pagination controls simple list pagination.
type Pagination struct {
	Limit  int
	Offset int
}
