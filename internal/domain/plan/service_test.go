package plan

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/planforge/planforge-api/internal/domain/credit"
)

type fakeCreditService struct {
	balance    int
	spendCalls []int
	spendErr   error
}

func (f *fakeCreditService) GrantFromPayment(ctx context.Context, userID uuid.UUID, amount int, sourceReference, description string, expiresAt *time.Time) (*credit.CreditPack, error) {
	return nil, nil
}
func (f *fakeCreditService) Spend(ctx context.Context, userID uuid.UUID, amount int, reason string) ([]credit.LedgerTransaction, error) {
	if f.spendErr != nil {
		return nil, f.spendErr
	}
	if amount > f.balance {
		return nil, credit.ErrInsufficientBalance
	}
	f.balance -= amount
	f.spendCalls = append(f.spendCalls, amount)
	return []credit.LedgerTransaction{{Amount: -amount, Kind: credit.TxKindSpend}}, nil
}
func (f *fakeCreditService) Adjust(ctx context.Context, actorID, userID uuid.UUID, amount int, reason string) (*credit.LedgerTransaction, error) {
	return nil, nil
}
func (f *fakeCreditService) RefundFromPayment(ctx context.Context, sourceReference, reason string) error {
	return nil
}
func (f *fakeCreditService) ExpireStalePacks(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}
func (f *fakeCreditService) GetBalance(ctx context.Context, userID uuid.UUID) (int, error) {
	return f.balance, nil
}
func (f *fakeCreditService) GetTransactionHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]credit.LedgerTransaction, error) {
	return nil, nil
}

type fakePlanRepo struct {
	created []*GeneratedPlan
}

func (f *fakePlanRepo) Create(ctx context.Context, p *GeneratedPlan) error {
	f.created = append(f.created, p)
	return nil
}
func (f *fakePlanRepo) GetByID(ctx context.Context, id uuid.UUID) (*GeneratedPlan, error) {
	for _, p := range f.created {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, ErrPlanNotFound
}
func (f *fakePlanRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*GeneratedPlan, error) {
	out := make([]*GeneratedPlan, 0)
	for _, p := range f.created {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func TestGenerateSpendsCredits(t *testing.T) {
	creditSvc := &fakeCreditService{balance: 5}
	repo := &fakePlanRepo{}
	service := NewService(repo, creditSvc, 2)

	userID := uuid.New()
	p, err := service.Generate(context.Background(), userID, "Marathon prep", json.RawMessage(`{"weeks":3,"goal":"run a marathon"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if creditSvc.balance != 3 {
		t.Fatalf("expected 3 credits left, got %d", creditSvc.balance)
	}
	if len(creditSvc.spendCalls) != 1 || creditSvc.spendCalls[0] != 2 {
		t.Fatalf("unexpected spend calls: %v", creditSvc.spendCalls)
	}
	if p.CreditsCost != 2 || p.UserID != userID {
		t.Fatalf("unexpected plan: %+v", p)
	}

	var content struct {
		Sections []struct {
			Week int `json:"week"`
		} `json:"sections"`
	}
	if err := json.Unmarshal(p.Content, &content); err != nil {
		t.Fatalf("content is not valid JSON: %v", err)
	}
	if len(content.Sections) != 3 {
		t.Fatalf("expected 3 sections, got %d", len(content.Sections))
	}
}

func TestGenerateInsufficientBalance(t *testing.T) {
	creditSvc := &fakeCreditService{balance: 1}
	repo := &fakePlanRepo{}
	service := NewService(repo, creditSvc, 2)

	_, err := service.Generate(context.Background(), uuid.New(), "Plan", nil)
	if !errors.Is(err, credit.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if len(repo.created) != 0 {
		t.Fatal("no plan should be created when the spend fails")
	}
}

func TestGenerateRejectsBadParameters(t *testing.T) {
	creditSvc := &fakeCreditService{balance: 10}
	repo := &fakePlanRepo{}
	service := NewService(repo, creditSvc, 1)

	_, err := service.Generate(context.Background(), uuid.New(), "Plan", json.RawMessage(`{broken`))
	if err == nil {
		t.Fatal("expected error for invalid parameters")
	}
	if len(repo.created) != 0 {
		t.Fatal("no plan should be created for invalid parameters")
	}
}

func TestGetPlanScopedToOwner(t *testing.T) {
	creditSvc := &fakeCreditService{balance: 10}
	repo := &fakePlanRepo{}
	service := NewService(repo, creditSvc, 1)

	owner := uuid.New()
	p, err := service.Generate(context.Background(), owner, "Plan", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := service.GetPlan(context.Background(), owner, p.ID); err != nil {
		t.Fatalf("owner should see the plan: %v", err)
	}
	if _, err := service.GetPlan(context.Background(), uuid.New(), p.ID); !errors.Is(err, ErrPlanNotFound) {
		t.Fatalf("stranger should get ErrPlanNotFound, got %v", err)
	}
}
