package admin

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditEntry records one administrative action against a user's balance.
// Entries are append-only; the ledger explains what changed, the audit
// trail explains who asked for it and why.
type AuditEntry struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	ActorID      uuid.UUID       `db:"actor_id" json:"actor_id"`
	TargetUserID uuid.UUID       `db:"target_user_id" json:"target_user_id"`
	Action       string          `db:"action" json:"action"`
	Details      json.RawMessage `db:"details" json:"details,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// AuditFilter narrows audit queries
type AuditFilter struct {
	ActorID      *uuid.UUID
	TargetUserID *uuid.UUID
	Action       *string
	Limit        int
	Offset       int
}
