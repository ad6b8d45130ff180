package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/planforge/planforge-api/internal/domain/credit"
	"github.com/planforge/planforge-api/internal/pkg/kaspi"
	"github.com/planforge/planforge-api/internal/pkg/robokassa"
)

type fakeCreditService struct {
	grants  map[string]*credit.CreditPack
	refunds []string
}

func newFakeCreditService() *fakeCreditService {
	return &fakeCreditService{grants: map[string]*credit.CreditPack{}}
}

func (f *fakeCreditService) GrantFromPayment(ctx context.Context, userID uuid.UUID, amount int, sourceReference, description string, expiresAt *time.Time) (*credit.CreditPack, error) {
	if existing, ok := f.grants[sourceReference]; ok {
		return existing, nil
	}
	pack := &credit.CreditPack{
		ID:               uuid.New(),
		UserID:           userID,
		CreditsGranted:   amount,
		CreditsRemaining: amount,
		SourceReference:  sourceReference,
		Status:           credit.PackStatusActive,
	}
	f.grants[sourceReference] = pack
	return pack, nil
}
func (f *fakeCreditService) Spend(ctx context.Context, userID uuid.UUID, amount int, reason string) ([]credit.LedgerTransaction, error) {
	return nil, nil
}
func (f *fakeCreditService) Adjust(ctx context.Context, actorID, userID uuid.UUID, amount int, reason string) (*credit.LedgerTransaction, error) {
	return nil, nil
}
func (f *fakeCreditService) RefundFromPayment(ctx context.Context, sourceReference, reason string) error {
	if _, ok := f.grants[sourceReference]; !ok {
		return credit.ErrNotFound
	}
	f.refunds = append(f.refunds, sourceReference)
	return nil
}
func (f *fakeCreditService) ExpireStalePacks(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}
func (f *fakeCreditService) GetBalance(ctx context.Context, userID uuid.UUID) (int, error) {
	return 0, nil
}
func (f *fakeCreditService) GetTransactionHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]credit.LedgerTransaction, error) {
	return nil, nil
}

type fakePaymentRepo struct {
	payments map[string]*Payment // keyed gateway:ref
	nextInv  int64
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{payments: map[string]*Payment{}, nextInv: 1000}
}

func (f *fakePaymentRepo) key(gateway, ref string) string { return gateway + ":" + ref }

func (f *fakePaymentRepo) Create(ctx context.Context, p *Payment) error {
	f.payments[f.key(p.Gateway, p.ExternalRef)] = p
	return nil
}
func (f *fakePaymentRepo) GetByReference(ctx context.Context, gateway, externalRef string) (*Payment, error) {
	return f.payments[f.key(gateway, externalRef)], nil
}
func (f *fakePaymentRepo) UpdateStatusByReference(ctx context.Context, gateway, externalRef string, status Status) error {
	p, ok := f.payments[f.key(gateway, externalRef)]
	if !ok {
		return ErrPaymentNotFound
	}
	p.Status = status
	return nil
}
func (f *fakePaymentRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Payment, error) {
	return nil, nil
}
func (f *fakePaymentRepo) NextInvoiceID(ctx context.Context) (int64, error) {
	f.nextInv++
	return f.nextInv, nil
}

func newTestService(repo Repository, creditSvc credit.Service) *Service {
	return NewService(repo, creditSvc, kaspi.NewClient(kaspi.Config{}), nil,
		Config{CreditTTL: 0, Robokassa: robokassa.Config{MerchantLogin: "shop", Password1: "p1", Password2: robokassaPassword2}},
		NewKaspiGateway(kaspiSecret),
		NewRobokassaGateway(robokassaPassword2, robokassa.HashSHA256),
	)
}

func TestHandleWebhookGrantsOnce(t *testing.T) {
	repo := newFakePaymentRepo()
	creditSvc := newFakeCreditService()
	service := newTestService(repo, creditSvc)
	userID := uuid.New()

	repo.Create(context.Background(), &Payment{
		ID:          uuid.New(),
		UserID:      userID,
		Gateway:     GatewayKaspi,
		ExternalRef: "ord_100",
		Credits:     50,
		Amount:      "4990.00",
		Status:      StatusPending,
	})

	body, sig := signedKaspiBody(t, fmt.Sprintf(
		`{"order_id":"ord_100","status":"completed","amount":4990.00,"user_id":"%s","credits":50}`, userID))

	// Deliver the same event three times.
	for i := 0; i < 3; i++ {
		if _, err := service.HandleWebhook(context.Background(), GatewayKaspi, body, sig); err != nil {
			t.Fatalf("delivery %d: unexpected error: %v", i, err)
		}
	}

	pack, ok := creditSvc.grants["kaspi:ord_100"]
	if !ok {
		t.Fatal("no grant recorded")
	}
	if pack.UserID != userID || pack.CreditsGranted != 50 {
		t.Fatalf("unexpected grant: %+v", pack)
	}
	if len(creditSvc.grants) != 1 {
		t.Fatalf("expected exactly 1 grant, got %d", len(creditSvc.grants))
	}

	p, _ := repo.GetByReference(context.Background(), GatewayKaspi, "ord_100")
	if p.Status != StatusPaid {
		t.Fatalf("payment should be marked paid, got %s", p.Status)
	}
}

func TestHandleWebhookAmountMismatch(t *testing.T) {
	repo := newFakePaymentRepo()
	creditSvc := newFakeCreditService()
	service := newTestService(repo, creditSvc)
	userID := uuid.New()

	repo.Create(context.Background(), &Payment{
		ID:          uuid.New(),
		UserID:      userID,
		Gateway:     GatewayKaspi,
		ExternalRef: "ord_101",
		Credits:     50,
		Amount:      "4990.00",
		Status:      StatusPending,
	})

	body, sig := signedKaspiBody(t, fmt.Sprintf(
		`{"order_id":"ord_101","status":"completed","amount":1.00,"user_id":"%s","credits":50}`, userID))

	_, err := service.HandleWebhook(context.Background(), GatewayKaspi, body, sig)
	if !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}
	if len(creditSvc.grants) != 0 {
		t.Fatal("mismatched payment must not grant credits")
	}
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	service := newTestService(newFakePaymentRepo(), newFakeCreditService())

	_, err := service.HandleWebhook(context.Background(), GatewayKaspi, []byte(`{"order_id":"x","status":"completed"}`), "bad")
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestHandleWebhookUnknownGateway(t *testing.T) {
	service := newTestService(newFakePaymentRepo(), newFakeCreditService())

	if _, err := service.HandleWebhook(context.Background(), "paypal", nil, ""); !errors.Is(err, ErrUnsupportedGateway) {
		t.Fatalf("expected ErrUnsupportedGateway, got %v", err)
	}
}

func TestHandleWebhookRefund(t *testing.T) {
	repo := newFakePaymentRepo()
	creditSvc := newFakeCreditService()
	service := newTestService(repo, creditSvc)
	userID := uuid.New()

	repo.Create(context.Background(), &Payment{
		ID:          uuid.New(),
		UserID:      userID,
		Gateway:     GatewayKaspi,
		ExternalRef: "ord_102",
		Credits:     10,
		Amount:      "1000.00",
		Status:      StatusPending,
	})

	paidBody, paidSig := signedKaspiBody(t, fmt.Sprintf(
		`{"order_id":"ord_102","status":"completed","amount":1000.00,"user_id":"%s","credits":10}`, userID))
	if _, err := service.HandleWebhook(context.Background(), GatewayKaspi, paidBody, paidSig); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	refundBody, refundSig := signedKaspiBody(t, `{"order_id":"ord_102","status":"refunded","amount":1000.00}`)
	if _, err := service.HandleWebhook(context.Background(), GatewayKaspi, refundBody, refundSig); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(creditSvc.refunds) != 1 || creditSvc.refunds[0] != "kaspi:ord_102" {
		t.Fatalf("unexpected refunds: %v", creditSvc.refunds)
	}

	p, _ := repo.GetByReference(context.Background(), GatewayKaspi, "ord_102")
	if p.Status != StatusRefunded {
		t.Fatalf("payment should be marked refunded, got %s", p.Status)
	}
}

func TestHandleWebhookRefundForUnknownReference(t *testing.T) {
	service := newTestService(newFakePaymentRepo(), newFakeCreditService())

	body, sig := signedKaspiBody(t, `{"order_id":"ghost","status":"refunded","amount":1.00}`)
	if _, err := service.HandleWebhook(context.Background(), GatewayKaspi, body, sig); err != nil {
		t.Fatalf("refund for unknown reference should be ignored, got %v", err)
	}
}

func TestHandleWebhookNoPendingRowUsesEventFields(t *testing.T) {
	repo := newFakePaymentRepo()
	creditSvc := newFakeCreditService()
	service := newTestService(repo, creditSvc)
	userID := uuid.New()

	// No pending payment row; the signed payload itself carries user and
	// credits.
	body, sig := signedKaspiBody(t, fmt.Sprintf(
		`{"order_id":"ord_103","status":"completed","amount":500.00,"user_id":"%s","credits":5}`, userID))

	if _, err := service.HandleWebhook(context.Background(), GatewayKaspi, body, sig); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pack, ok := creditSvc.grants["kaspi:ord_103"]
	if !ok || pack.UserID != userID || pack.CreditsGranted != 5 {
		t.Fatalf("unexpected grant state: %+v", pack)
	}
}

func TestHandleWebhookFailedEvent(t *testing.T) {
	repo := newFakePaymentRepo()
	creditSvc := newFakeCreditService()
	service := newTestService(repo, creditSvc)

	repo.Create(context.Background(), &Payment{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		Gateway:     GatewayKaspi,
		ExternalRef: "ord_104",
		Credits:     10,
		Amount:      "100.00",
		Status:      StatusPending,
		Description: sql.NullString{},
	})

	body, sig := signedKaspiBody(t, `{"order_id":"ord_104","status":"failed","amount":100.00}`)
	if _, err := service.HandleWebhook(context.Background(), GatewayKaspi, body, sig); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(creditSvc.grants) != 0 {
		t.Fatal("failed payment must not grant credits")
	}
	p, _ := repo.GetByReference(context.Background(), GatewayKaspi, "ord_104")
	if p.Status != StatusFailed {
		t.Fatalf("payment should be marked failed, got %s", p.Status)
	}
}
