package admin

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const queryTimeout = 3 * time.Second

// AuditRepository persists the audit trail. RecordTx participates in a
// caller-owned transaction so an adjustment and its audit entry commit as
// one unit.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates audit repository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// RecordTx writes an audit entry using the given transaction
func (r *AuditRepository) RecordTx(ctx context.Context, tx *sqlx.Tx, actorID, targetUserID uuid.UUID, action string, details []byte) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_entries (id, actor_id, target_user_id, action, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New(), actorID, targetUserID, action, details, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// List returns audit entries matching the filter, newest first
func (r *AuditRepository) List(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		SELECT id, actor_id, target_user_id, action, details, created_at
		FROM audit_entries
		WHERE 1=1`
	args := []interface{}{}
	n := 0

	if filter.ActorID != nil {
		n++
		query += " AND actor_id = $" + strconv.Itoa(n)
		args = append(args, *filter.ActorID)
	}
	if filter.TargetUserID != nil {
		n++
		query += " AND target_user_id = $" + strconv.Itoa(n)
		args = append(args, *filter.TargetUserID)
	}
	if filter.Action != nil {
		n++
		query += " AND action = $" + strconv.Itoa(n)
		args = append(args, *filter.Action)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", n+1, n+2)
	args = append(args, limit, offset)

	entries := make([]*AuditEntry, 0)
	if err := r.db.SelectContext(ctx2, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return entries, nil
}
