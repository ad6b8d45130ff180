package plan

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// GeneratedPlan is one plan produced for a user. Generation is the only
// credit sink in the system; each row cost a fixed number of credits.
type GeneratedPlan struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	UserID      uuid.UUID       `db:"user_id" json:"user_id"`
	Title       string          `db:"title" json:"title"`
	Parameters  json.RawMessage `db:"parameters" json:"parameters"`
	Content     json.RawMessage `db:"content" json:"content"`
	CreditsCost int             `db:"credits_cost" json:"credits_cost"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}
