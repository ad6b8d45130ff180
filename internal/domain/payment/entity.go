package payment

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Status represents payment status
type Status string

const (
	StatusPending  Status = "pending"
	StatusPaid     Status = "paid"
	StatusFailed   Status = "failed"
	StatusRefunded Status = "refunded"
)

// Gateway names; also the prefix of the ledger source reference.
const (
	GatewayKaspi     = "kaspi"
	GatewayRobokassa = "robokassa"
)

// Payment is one checkout attempt. The row is advisory context for
// reconciliation; the credit ledger is the source of truth for what was
// actually granted.
type Payment struct {
	ID          uuid.UUID      `db:"id" json:"id"`
	UserID      uuid.UUID      `db:"user_id" json:"user_id"`
	Gateway     string         `db:"gateway" json:"gateway"`
	ExternalRef string         `db:"external_ref" json:"external_ref"`
	Credits     int            `db:"credits" json:"credits"`
	Amount      string         `db:"amount" json:"amount"`
	Currency    string         `db:"currency" json:"currency"`
	Status      Status         `db:"status" json:"status"`
	Description sql.NullString `db:"description" json:"description,omitempty"`
	InvID       sql.NullInt64  `db:"robokassa_inv_id" json:"robokassa_inv_id,omitempty"`
	PaidAt      sql.NullTime   `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

// IsPaid checks if the payment has been confirmed
func (p *Payment) IsPaid() bool {
	return p.Status == StatusPaid
}
