package plan

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

// ErrPlanNotFound is returned when no plan matches the id
var ErrPlanNotFound = errors.New("plan not found")

// Repository defines plan data access
type Repository interface {
	Create(ctx context.Context, p *GeneratedPlan) error
	GetByID(ctx context.Context, id uuid.UUID) (*GeneratedPlan, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*GeneratedPlan, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates plan repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, p *GeneratedPlan) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	p.CreatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx2, `
		INSERT INTO generated_plans (id, user_id, title, parameters, content, credits_cost, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.UserID, p.Title, p.Parameters, p.Content, p.CreditsCost, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create plan: %w", err)
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*GeneratedPlan, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var p GeneratedPlan
	err := r.db.GetContext(ctx2, &p, `
		SELECT id, user_id, title, parameters, content, credits_cost, created_at
		FROM generated_plans
		WHERE id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return &p, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*GeneratedPlan, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	plans := make([]*GeneratedPlan, 0)
	err := r.db.SelectContext(ctx2, &plans, `
		SELECT id, user_id, title, parameters, content, credits_cost, created_at
		FROM generated_plans
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	return plans, nil
}
