package credit

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

// service implements the Service interface
type service struct {
	repo   *LedgerRepository
	audit  AuditWriter
	limits Limits
}

// NewService creates a new credit service
func NewService(db *sqlx.DB, audit AuditWriter, limits Limits) Service {
	if limits.AdjustMaxMagnitude <= 0 {
		limits.AdjustMaxMagnitude = 10000
	}
	if limits.BalanceCeiling <= 0 {
		limits.BalanceCeiling = 1000000
	}
	return &service{
		repo:   NewRepository(db),
		audit:  audit,
		limits: limits,
	}
}

func (s *service) GrantFromPayment(ctx context.Context, userID uuid.UUID, amount int, sourceReference, description string, expiresAt *time.Time) (*CreditPack, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if strings.TrimSpace(sourceReference) == "" {
		return nil, ErrInvalidReference
	}
	if strings.TrimSpace(description) == "" {
		description = "credit purchase"
	}

	pack, created, err := s.repo.GrantFromPayment(ctx, userID, amount, sourceReference, description, expiresAt)
	if err != nil {
		return nil, err
	}
	if !created {
		log.Debug().
			Str("user_id", userID.String()).
			Str("source_reference", sourceReference).
			Msg("grant already applied, returning existing pack")
	}
	return pack, nil
}

func (s *service) Spend(ctx context.Context, userID uuid.UUID, amount int, reason string) ([]LedgerTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if strings.TrimSpace(reason) == "" {
		reason = "credit spend"
	}
	return s.repo.Spend(ctx, userID, amount, reason)
}

func (s *service) Adjust(ctx context.Context, actorID, userID uuid.UUID, amount int, reason string) (*LedgerTransaction, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	magnitude := amount
	if magnitude < 0 {
		magnitude = -magnitude
	}
	if magnitude > s.limits.AdjustMaxMagnitude {
		return nil, ErrInvalidAmount
	}
	if strings.TrimSpace(reason) == "" {
		return nil, ErrInvalidAmount
	}

	txn, err := s.repo.Adjust(ctx, actorID, userID, amount, reason, s.limits.BalanceCeiling, s.audit)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("actor_id", actorID.String()).
		Str("user_id", userID.String()).
		Int("amount", amount).
		Msg("admin balance adjustment applied")
	return txn, nil
}

func (s *service) RefundFromPayment(ctx context.Context, sourceReference, reason string) error {
	if strings.TrimSpace(reason) == "" {
		reason = "payment refunded"
	}
	revoked, err := s.repo.RevokeBySourceReference(ctx, sourceReference, reason)
	if err != nil {
		return err
	}
	if revoked {
		log.Info().
			Str("source_reference", sourceReference).
			Msg("credit pack revoked after refund")
	}
	return nil
}

func (s *service) ExpireStalePacks(ctx context.Context, now time.Time) (int, error) {
	count, err := s.repo.ExpireStale(ctx, now)
	if err != nil {
		return count, err
	}
	if count > 0 {
		log.Info().Int("packs", count).Msg("stale credit packs written off")
	}
	return count, nil
}

func (s *service) GetBalance(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.GetBalance(ctx, userID)
}

func (s *service) GetTransactionHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]LedgerTransaction, error) {
	return s.repo.ListTransactions(ctx, userID, Pagination{Limit: limit, Offset: offset})
}
