package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/planforge/planforge-api/internal/domain/credit"
	"github.com/planforge/planforge-api/internal/pkg/kaspi"
	"github.com/planforge/planforge-api/internal/pkg/robokassa"
)

// Config holds payment service configuration
type Config struct {
	FrontendURL string
	BackendURL  string
	CreditTTL   time.Duration // purchased packs expire after this, 0 = never
	Robokassa   robokassa.Config
}

// Service maps gateway events onto idempotent ledger operations and owns
// the checkout initiation flows.
type Service struct {
	repo        Repository
	creditSvc   credit.Service
	kaspiClient *kaspi.Client
	gateways    map[string]Gateway
	dedup       *dedupCache
	cfg         Config
}

// NewService creates a payment service wired to both gateways
func NewService(repo Repository, creditSvc credit.Service, kaspiClient *kaspi.Client, rdb *redis.Client, cfg Config, gateways ...Gateway) *Service {
	byName := make(map[string]Gateway, len(gateways))
	for _, gw := range gateways {
		byName[gw.Name()] = gw
	}
	return &Service{
		repo:        repo,
		creditSvc:   creditSvc,
		kaspiClient: kaspiClient,
		gateways:    byName,
		dedup:       newDedupCache(rdb),
		cfg:         cfg,
	}
}

// InitPaymentRequest holds common checkout parameters
type InitPaymentRequest struct {
	UserID      uuid.UUID
	Credits     int
	Amount      string // decimal money string
	Description string
}

// InitPaymentResponse is returned to the client for gateway redirect
type InitPaymentResponse struct {
	PaymentID  uuid.UUID `json:"payment_id"`
	PaymentURL string    `json:"payment_url"`
	Status     string    `json:"status"`
}

// InitKaspiPayment creates a pending payment and asks Kaspi for a checkout URL
func (s *Service) InitKaspiPayment(ctx context.Context, req InitPaymentRequest) (*InitPaymentResponse, error) {
	amount, err := strconv.ParseFloat(req.Amount, 64)
	if err != nil || amount <= 0 {
		return nil, fmt.Errorf("invalid amount")
	}
	if req.Credits <= 0 {
		return nil, fmt.Errorf("invalid credits")
	}

	orderID := "ord_" + uuid.New().String()
	p := &Payment{
		ID:          uuid.New(),
		UserID:      req.UserID,
		Gateway:     GatewayKaspi,
		ExternalRef: orderID,
		Credits:     req.Credits,
		Amount:      req.Amount,
		Currency:    "KZT",
		Status:      StatusPending,
		Description: sql.NullString{String: req.Description, Valid: req.Description != ""},
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}

	out, err := s.kaspiClient.CreatePayment(ctx, kaspi.CreatePaymentRequest{
		Amount:      amount,
		OrderID:     orderID,
		Description: req.Description,
		ReturnURL:   s.cfg.FrontendURL + "/credits",
		CallbackURL: s.cfg.BackendURL + "/api/v1/webhooks/kaspi",
	})
	if err != nil {
		return nil, fmt.Errorf("kaspi init failed: %w", err)
	}

	return &InitPaymentResponse{PaymentID: p.ID, PaymentURL: out.PaymentURL, Status: string(StatusPending)}, nil
}

// InitRobokassaPayment creates a pending payment and builds the signed
// RoboKassa redirect link. User id and credits ride in signed Shp_ params
// so the webhook carries them back tamper-proof.
func (s *Service) InitRobokassaPayment(ctx context.Context, req InitPaymentRequest) (*InitPaymentResponse, error) {
	amountRat, err := robokassa.ParseAmount(req.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount")
	}
	if req.Credits <= 0 {
		return nil, fmt.Errorf("invalid credits")
	}

	invID, err := s.repo.NextInvoiceID(ctx)
	if err != nil {
		return nil, err
	}

	outSum := amountRat.FloatString(2)
	p := &Payment{
		ID:          uuid.New(),
		UserID:      req.UserID,
		Gateway:     GatewayRobokassa,
		ExternalRef: strconv.FormatInt(invID, 10),
		Credits:     req.Credits,
		Amount:      outSum,
		Currency:    "KZT",
		Status:      StatusPending,
		Description: sql.NullString{String: req.Description, Valid: req.Description != ""},
		InvID:       sql.NullInt64{Int64: invID, Valid: true},
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}

	link, err := robokassa.PaymentLink(s.cfg.Robokassa, outSum, invID, req.Description, map[string]string{
		"user_id": req.UserID.String(),
		"credits": strconv.Itoa(req.Credits),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build robokassa payment link: %w", err)
	}

	return &InitPaymentResponse{PaymentID: p.ID, PaymentURL: link, Status: string(StatusPending)}, nil
}

// HandleWebhook runs one gateway delivery through the reconciliation path:
// verify, extract, grant (idempotent on the source reference), acknowledge.
// It is safe to invoke any number of times for the same event.
func (s *Service) HandleWebhook(ctx context.Context, gatewayName string, rawBody []byte, signatureHeader string) (*Event, error) {
	gw, ok := s.gateways[gatewayName]
	if !ok {
		return nil, ErrUnsupportedGateway
	}

	ev, err := gw.Verify(rawBody, signatureHeader)
	if err != nil {
		log.Warn().Err(err).Str("gateway", gatewayName).Msg("webhook rejected")
		return nil, err
	}

	logger := log.With().
		Str("gateway", gatewayName).
		Str("reference", ev.Reference).
		Str("event", string(ev.Type)).
		Logger()
	logger.Debug().Msg("webhook verified")

	switch ev.Type {
	case EventPaid:
		if err := s.reconcilePaid(ctx, gw, ev, &logger); err != nil {
			return nil, err
		}
	case EventRefunded:
		if err := s.reconcileRefund(ctx, gw, ev, &logger); err != nil {
			return nil, err
		}
	case EventFailed:
		if err := s.repo.UpdateStatusByReference(ctx, gw.Name(), ev.Reference, StatusFailed); err != nil && !errors.Is(err, ErrPaymentNotFound) {
			return nil, err
		}
		logger.Info().Msg("payment marked failed")
	}

	return ev, nil
}

func (s *Service) reconcilePaid(ctx context.Context, gw Gateway, ev *Event, logger *zerolog.Logger) error {
	sourceRef := gw.Name() + ":" + ev.Reference

	if s.dedup.Seen(ctx, sourceRef) {
		logger.Debug().Msg("duplicate webhook short-circuited by cache")
		return nil
	}

	userID := ev.UserID
	credits := ev.Credits

	// The pending payment row, when present, is authoritative for who gets
	// how many credits, and guards against a tampered or truncated amount.
	pending, err := s.repo.GetByReference(ctx, gw.Name(), ev.Reference)
	if err != nil {
		return err
	}
	if pending != nil {
		if !amountsMatch(pending.Amount, ev.Amount) {
			logger.Warn().
				Str("expected", pending.Amount).
				Str("got", ev.Amount).
				Msg("webhook amount mismatch")
			return ErrAmountMismatch
		}
		userID = pending.UserID
		credits = pending.Credits
	}

	if userID == uuid.Nil || credits <= 0 {
		return fmt.Errorf("%w: no user or credits resolvable", ErrMalformedEvent)
	}

	var expiresAt *time.Time
	if s.cfg.CreditTTL > 0 {
		t := time.Now().UTC().Add(s.cfg.CreditTTL)
		expiresAt = &t
	}

	description := fmt.Sprintf("purchase via %s (%s)", gw.Name(), ev.Reference)
	if _, err := s.creditSvc.GrantFromPayment(ctx, userID, credits, sourceRef, description, expiresAt); err != nil {
		// An identical redelivery returns the existing pack without error;
		// anything surfacing here is a real failure.
		return err
	}
	logger.Info().Int("credits", credits).Str("user_id", userID.String()).Msg("payment reconciled")

	// Ledger is already consistent; a stale payment row self-heals on the
	// next delivery or stays advisory.
	if err := s.repo.UpdateStatusByReference(ctx, gw.Name(), ev.Reference, StatusPaid); err != nil && !errors.Is(err, ErrPaymentNotFound) {
		logger.Warn().Err(err).Msg("failed to mark payment paid")
	}

	s.dedup.Mark(ctx, sourceRef)
	return nil
}

func (s *Service) reconcileRefund(ctx context.Context, gw Gateway, ev *Event, logger *zerolog.Logger) error {
	sourceRef := gw.Name() + ":" + ev.Reference

	err := s.creditSvc.RefundFromPayment(ctx, sourceRef, "refunded by "+gw.Name())
	if err != nil {
		if errors.Is(err, credit.ErrNotFound) {
			// Refund for a payment that never granted credits; nothing to
			// reverse.
			logger.Warn().Msg("refund for unknown reference ignored")
			return nil
		}
		return err
	}

	if err := s.repo.UpdateStatusByReference(ctx, gw.Name(), ev.Reference, StatusRefunded); err != nil && !errors.Is(err, ErrPaymentNotFound) {
		logger.Warn().Err(err).Msg("failed to mark payment refunded")
	}
	logger.Info().Msg("refund reconciled")
	return nil
}

// GetPaymentHistory returns the user's payments, newest first
func (s *Service) GetPaymentHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Payment, error) {
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

func amountsMatch(expected, actual string) bool {
	e, err := robokassa.ParseAmount(expected)
	if err != nil {
		return false
	}
	a, err := robokassa.ParseAmount(actual)
	if err != nil {
		return false
	}
	return robokassa.AmountsEqual(e, a)
}
