package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const queryTimeout = 3 * time.Second

// Repository defines payment data access
type Repository interface {
	Create(ctx context.Context, p *Payment) error
	GetByReference(ctx context.Context, gateway, externalRef string) (*Payment, error)
	UpdateStatusByReference(ctx context.Context, gateway, externalRef string, status Status) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Payment, error)
	NextInvoiceID(ctx context.Context) (int64, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates payment repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, p *Payment) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := r.db.ExecContext(ctx2, `
		INSERT INTO payments (id, user_id, gateway, external_ref, credits, amount, currency, status, description, robokassa_inv_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, p.ID, p.UserID, p.Gateway, p.ExternalRef, p.Credits, p.Amount, p.Currency, p.Status, p.Description, p.InvID, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (r *repository) GetByReference(ctx context.Context, gateway, externalRef string) (*Payment, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var p Payment
	err := r.db.GetContext(ctx2, &p, `
		SELECT id, user_id, gateway, external_ref, credits, amount, currency, status, description, robokassa_inv_id, paid_at, created_at, updated_at
		FROM payments
		WHERE gateway = $1 AND external_ref = $2
	`, gateway, externalRef)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &p, nil
}

func (r *repository) UpdateStatusByReference(ctx context.Context, gateway, externalRef string, status Status) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var query string
	switch status {
	case StatusPaid:
		query = `UPDATE payments SET status = $3, paid_at = NOW(), updated_at = NOW() WHERE gateway = $1 AND external_ref = $2`
	default:
		query = `UPDATE payments SET status = $3, updated_at = NOW() WHERE gateway = $1 AND external_ref = $2`
	}

	result, err := r.db.ExecContext(ctx2, query, gateway, externalRef, status)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Payment, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	payments := make([]*Payment, 0)
	err := r.db.SelectContext(ctx2, &payments, `
		SELECT id, user_id, gateway, external_ref, credits, amount, currency, status, description, robokassa_inv_id, paid_at, created_at, updated_at
		FROM payments
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, nil
}

// NextInvoiceID allocates the next RoboKassa invoice id from a database
// sequence, falling back to max+1 if the sequence is missing.
func (r *repository) NextInvoiceID(ctx context.Context) (int64, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var invoiceID int64
	err := r.db.QueryRowContext(ctx2, `SELECT nextval('robokassa_invoice_seq')`).Scan(&invoiceID)
	if err != nil {
		return r.nextInvoiceIDFallback(ctx2)
	}
	return invoiceID, nil
}

func (r *repository) nextInvoiceIDFallback(ctx context.Context) (int64, error) {
	var invoiceID int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(robokassa_inv_id), 0) + 1
		FROM payments
		WHERE robokassa_inv_id IS NOT NULL
	`).Scan(&invoiceID)
	if err != nil {
		return 0, fmt.Errorf("failed to generate invoice id: %w", err)
	}
	if invoiceID < 1000 {
		invoiceID = 1000
	}
	return invoiceID, nil
}
