package credit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const queryTimeout = 3 * time.Second

// AuditWriter records an audit entry inside an externally managed transaction.
// Implemented by the admin package; every manual adjustment goes through it.
type AuditWriter interface {
	RecordTx(ctx context.Context, tx *sqlx.Tx, actorID, targetUserID uuid.UUID, action string, details []byte) error
}

// LedgerRepository is the source of truth for credit packs and ledger
// transactions. Every write that changes credits_remaining inserts the
// corresponding ledger row in the same database transaction; there is no
// single-row write path for balance-affecting changes.
type LedgerRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// GrantFromPayment inserts a pack plus its purchase_grant ledger row in one
// transaction. The unique index on source_reference is the idempotency
// mechanism: a duplicate insert aborts the transaction and the existing pack
// is returned with created=false. There is no check-then-insert window.
func (r *LedgerRepository) GrantFromPayment(ctx context.Context, userID uuid.UUID, amount int, sourceRef, description string, expiresAt *time.Time) (*CreditPack, bool, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	pack := &CreditPack{
		ID:               uuid.New(),
		UserID:           userID,
		CreditsGranted:   amount,
		CreditsRemaining: amount,
		SourceReference:  sourceRef,
		IssuedAt:         time.Now().UTC(),
		Status:           PackStatusActive,
	}
	if expiresAt != nil {
		pack.ExpiresAt = sql.NullTime{Time: expiresAt.UTC(), Valid: true}
	}

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return nil, false, storageErr("begin tx", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx2, `
		INSERT INTO credit_packs (id, user_id, credits_granted, credits_remaining, source_reference, issued_at, expires_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, pack.ID, pack.UserID, pack.CreditsGranted, pack.CreditsRemaining, pack.SourceReference, pack.IssuedAt, pack.ExpiresAt, pack.Status)
	if err != nil {
		if isUniqueViolation(err) {
			// Duplicate delivery. The aborted transaction is rolled back and
			// the already-granted pack is returned unchanged.
			_ = tx.Rollback()
			existing, lookupErr := r.GetPackBySourceReference(ctx, sourceRef)
			if lookupErr != nil {
				return nil, false, lookupErr
			}
			if existing.UserID != userID || existing.CreditsGranted != amount {
				return nil, false, fmt.Errorf("%w: %s", ErrConflict, sourceRef)
			}
			return existing, false, nil
		}
		return nil, false, storageErr("insert pack", err)
	}

	if _, err := insertLedgerTx(ctx2, tx, LedgerTransaction{
		UserID:      userID,
		PackID:      uuid.NullUUID{UUID: pack.ID, Valid: true},
		Amount:      amount,
		Kind:        TxKindPurchaseGrant,
		Description: description,
	}); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, storageErr("commit tx", err)
	}
	return pack, true, nil
}

// Spend debits eligible packs in expiration order, all-or-nothing. Packs are
// locked FOR UPDATE so two concurrent spends serialize on the same rows and
// the balance check can never pass against a stale read.
func (r *LedgerRepository) Spend(ctx context.Context, userID uuid.UUID, amount int, reason string) ([]LedgerTransaction, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return nil, storageErr("begin tx", err)
	}
	defer tx.Rollback()

	packs, err := lockActivePacks(ctx2, tx, userID)
	if err != nil {
		return nil, err
	}

	plan, err := selectDebitPlan(packs, amount)
	if err != nil {
		return nil, err
	}

	txns := make([]LedgerTransaction, 0, len(plan))
	for _, d := range plan {
		if err := debitPack(ctx2, tx, d.PackID, d.Amount); err != nil {
			return nil, err
		}
		txn, err := insertLedgerTx(ctx2, tx, LedgerTransaction{
			UserID:      userID,
			PackID:      uuid.NullUUID{UUID: d.PackID, Valid: true},
			Amount:      -d.Amount,
			Kind:        TxKindSpend,
			Description: reason,
		})
		if err != nil {
			return nil, err
		}
		txns = append(txns, *txn)
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit tx", err)
	}
	return txns, nil
}

// Adjust applies an admin balance correction. The user's packs are locked
// first so the range check, the pack writes, the ledger row and the audit
// entry all commit or abort as one unit.
func (r *LedgerRepository) Adjust(ctx context.Context, actorID, userID uuid.UUID, amount int, reason string, ceiling int, audit AuditWriter) (*LedgerTransaction, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return nil, storageErr("begin tx", err)
	}
	defer tx.Rollback()

	packs, err := lockActivePacks(ctx2, tx, userID)
	if err != nil {
		return nil, err
	}

	balance := availableCredits(packs)
	if balance+amount < 0 || balance+amount > ceiling {
		return nil, ErrBalanceOutOfRange
	}

	var txn *LedgerTransaction
	if amount > 0 {
		pack := &CreditPack{
			ID:               uuid.New(),
			UserID:           userID,
			CreditsGranted:   amount,
			CreditsRemaining: amount,
			SourceReference:  "adjust:" + uuid.New().String(),
			IssuedAt:         time.Now().UTC(),
			Status:           PackStatusActive,
		}
		_, err = tx.ExecContext(ctx2, `
			INSERT INTO credit_packs (id, user_id, credits_granted, credits_remaining, source_reference, issued_at, expires_at, status)
			VALUES ($1, $2, $3, $4, $5, $6, NULL, $7)
		`, pack.ID, pack.UserID, pack.CreditsGranted, pack.CreditsRemaining, pack.SourceReference, pack.IssuedAt, pack.Status)
		if err != nil {
			return nil, storageErr("insert adjustment pack", err)
		}
		txn, err = insertLedgerTx(ctx2, tx, LedgerTransaction{
			UserID:      userID,
			PackID:      uuid.NullUUID{UUID: pack.ID, Valid: true},
			Amount:      amount,
			Kind:        TxKindAdminAdjustment,
			Description: reason,
		})
		if err != nil {
			return nil, err
		}
	} else {
		// Range check above guarantees the plan covers the debit.
		plan, err := selectDebitPlan(packs, -amount)
		if err != nil {
			return nil, err
		}
		for _, d := range plan {
			if err := debitPack(ctx2, tx, d.PackID, d.Amount); err != nil {
				return nil, err
			}
		}
		txn, err = insertLedgerTx(ctx2, tx, LedgerTransaction{
			UserID:      userID,
			Amount:      amount,
			Kind:        TxKindAdminAdjustment,
			Description: reason,
		})
		if err != nil {
			return nil, err
		}
	}

	details, _ := json.Marshal(map[string]interface{}{
		"amount": amount,
		"reason": reason,
	})
	if err := audit.RecordTx(ctx2, tx, actorID, userID, "credit.adjust", details); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit tx", err)
	}
	return txn, nil
}

// ExpireStale flips active packs whose expiry has passed and writes one
// expiration_writeoff for the unspent remainder. Each pack is handled in its
// own transaction with a conditional update, so concurrent sweeps race
// harmlessly: whichever update wins writes the single writeoff row.
func (r *LedgerRepository) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var ids []uuid.UUID
	err := r.db.SelectContext(ctx2, &ids, `
		SELECT id FROM credit_packs
		WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at <= $1
	`, now.UTC())
	if err != nil {
		return 0, storageErr("list stale packs", err)
	}

	count := 0
	for _, id := range ids {
		expired, err := r.expirePack(ctx, id, now)
		if err != nil {
			return count, err
		}
		if expired {
			count++
		}
	}
	return count, nil
}

func (r *LedgerRepository) expirePack(ctx context.Context, packID uuid.UUID, now time.Time) (bool, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return false, storageErr("begin tx", err)
	}
	defer tx.Rollback()

	// The status guard makes re-runs no-ops; the update blocks behind any
	// in-flight spend holding the row lock.
	var userID uuid.UUID
	var remaining int
	err = tx.QueryRowContext(ctx2, `
		UPDATE credit_packs SET status = 'expired'
		WHERE id = $1 AND status = 'active' AND expires_at <= $2
		RETURNING user_id, credits_remaining
	`, packID, now.UTC()).Scan(&userID, &remaining)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, storageErr("expire pack", err)
	}

	if remaining > 0 {
		if _, err := insertLedgerTx(ctx2, tx, LedgerTransaction{
			UserID:      userID,
			PackID:      uuid.NullUUID{UUID: packID, Valid: true},
			Amount:      -remaining,
			Kind:        TxKindExpirationWriteoff,
			Description: "credits expired unspent",
		}); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, storageErr("commit tx", err)
	}
	return true, nil
}

// RevokeBySourceReference marks the pack behind a refunded payment as revoked
// and reverses its unspent credits. Re-delivery of the same refund event is a
// no-op because the status guard finds nothing to flip.
func (r *LedgerRepository) RevokeBySourceReference(ctx context.Context, sourceRef, reason string) (bool, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return false, storageErr("begin tx", err)
	}
	defer tx.Rollback()

	var packID, userID uuid.UUID
	var remaining int
	err = tx.QueryRowContext(ctx2, `
		UPDATE credit_packs SET status = 'revoked'
		WHERE source_reference = $1 AND status = 'active'
		RETURNING id, user_id, credits_remaining
	`, sourceRef).Scan(&packID, &userID, &remaining)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Already revoked or expired is a no-op; never granted is an error.
			if _, lookupErr := r.GetPackBySourceReference(ctx, sourceRef); lookupErr != nil {
				return false, lookupErr
			}
			return false, nil
		}
		return false, storageErr("revoke pack", err)
	}

	if remaining > 0 {
		if _, err := insertLedgerTx(ctx2, tx, LedgerTransaction{
			UserID:      userID,
			PackID:      uuid.NullUUID{UUID: packID, Valid: true},
			Amount:      -remaining,
			Kind:        TxKindRefundReversal,
			Description: reason,
		}); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, storageErr("commit tx", err)
	}
	return true, nil
}

// GetBalance sums remaining credits over active, unexpired packs. Read-only
// and safe to call concurrently with any writer.
func (r *LedgerRepository) GetBalance(ctx context.Context, userID uuid.UUID) (int, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var balance int
	err := r.db.GetContext(ctx2, &balance, `
		SELECT COALESCE(SUM(credits_remaining), 0)
		FROM credit_packs
		WHERE user_id = $1 AND status = 'active' AND (expires_at IS NULL OR expires_at > NOW())
	`, userID)
	if err != nil {
		return 0, storageErr("get balance", err)
	}
	return balance, nil
}

func (r *LedgerRepository) GetPackBySourceReference(ctx context.Context, sourceRef string) (*CreditPack, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var pack CreditPack
	err := r.db.GetContext(ctx2, &pack, `
		SELECT id, user_id, credits_granted, credits_remaining, source_reference, issued_at, expires_at, status
		FROM credit_packs
		WHERE source_reference = $1
	`, sourceRef)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageErr("get pack", err)
	}
	return &pack, nil
}

func (r *LedgerRepository) ListTransactions(ctx context.Context, userID uuid.UUID, pagination Pagination) ([]LedgerTransaction, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	limit := pagination.Limit
	if limit <= 0 {
		limit = 20
	}

	txns := make([]LedgerTransaction, 0)
	err := r.db.SelectContext(ctx2, &txns, `
		SELECT id, user_id, pack_id, amount, kind, description, created_at
		FROM ledger_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, pagination.Offset)
	if err != nil {
		return nil, storageErr("list transactions", err)
	}
	return txns, nil
}

// lockActivePacks fetches the user's eligible packs FOR UPDATE, soonest to
// expire first, never-expiring last, ties broken by issue time.
func lockActivePacks(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) ([]CreditPack, error) {
	packs := make([]CreditPack, 0)
	err := tx.SelectContext(ctx, &packs, `
		SELECT id, user_id, credits_granted, credits_remaining, source_reference, issued_at, expires_at, status
		FROM credit_packs
		WHERE user_id = $1 AND status = 'active' AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY expires_at ASC NULLS LAST, issued_at ASC
		FOR UPDATE
	`, userID)
	if err != nil {
		return nil, storageErr("lock packs", err)
	}
	return packs, nil
}

func debitPack(ctx context.Context, tx *sqlx.Tx, packID uuid.UUID, amount int) error {
	// The remaining >= amount guard is a backstop; the rows are already
	// locked and the plan was computed from them.
	result, err := tx.ExecContext(ctx, `
		UPDATE credit_packs SET credits_remaining = credits_remaining - $2
		WHERE id = $1 AND credits_remaining >= $2
	`, packID, amount)
	if err != nil {
		return storageErr("debit pack", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return storageErr("rows affected", err)
	}
	if rows == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

func insertLedgerTx(ctx context.Context, tx *sqlx.Tx, txn LedgerTransaction) (*LedgerTransaction, error) {
	txn.ID = uuid.New()
	txn.CreatedAt = time.Now().UTC()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_transactions (id, user_id, pack_id, amount, kind, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, txn.ID, txn.UserID, txn.PackID, txn.Amount, txn.Kind, txn.Description, txn.CreatedAt)
	if err != nil {
		return nil, storageErr("insert ledger transaction", err)
	}
	return &txn, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}
