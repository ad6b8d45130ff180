package credit

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func pack(remaining int, expiresAt *time.Time) CreditPack {
	p := CreditPack{
		ID:               uuid.New(),
		UserID:           uuid.New(),
		CreditsGranted:   remaining,
		CreditsRemaining: remaining,
		Status:           PackStatusActive,
		IssuedAt:         time.Now().UTC(),
	}
	if expiresAt != nil {
		p.ExpiresAt = sql.NullTime{Time: *expiresAt, Valid: true}
	}
	return p
}

func TestSelectDebitPlanSinglePack(t *testing.T) {
	packs := []CreditPack{pack(10, nil)}

	plan, err := selectDebitPlan(packs, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan) != 1 {
		t.Fatalf("expected 1 debit, got %d", len(plan))
	}
	if plan[0].PackID != packs[0].ID || plan[0].Amount != 4 {
		t.Fatalf("unexpected debit: %+v", plan[0])
	}
}

func TestSelectDebitPlanSpansPacks(t *testing.T) {
	soon := time.Now().Add(time.Hour)
	later := time.Now().Add(48 * time.Hour)
	packs := []CreditPack{pack(3, &soon), pack(5, &later), pack(10, nil)}

	plan, err := selectDebitPlan(packs, 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan) != 3 {
		t.Fatalf("expected 3 debits, got %d", len(plan))
	}

	want := []int{3, 5, 1}
	total := 0
	for i, d := range plan {
		if d.PackID != packs[i].ID {
			t.Fatalf("debit %d hit wrong pack", i)
		}
		if d.Amount != want[i] {
			t.Fatalf("debit %d: expected %d, got %d", i, want[i], d.Amount)
		}
		total += d.Amount
	}
	if total != 9 {
		t.Fatalf("debits sum to %d, expected 9", total)
	}
}

func TestSelectDebitPlanSkipsEmptyPacks(t *testing.T) {
	packs := []CreditPack{pack(0, nil), pack(5, nil)}

	plan, err := selectDebitPlan(packs, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan) != 1 {
		t.Fatalf("expected 1 debit, got %d", len(plan))
	}
	if plan[0].PackID != packs[1].ID {
		t.Fatal("debit hit the empty pack")
	}
}

func TestSelectDebitPlanInsufficient(t *testing.T) {
	packs := []CreditPack{pack(2, nil), pack(2, nil)}

	_, err := selectDebitPlan(packs, 5)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestSelectDebitPlanInvalidAmount(t *testing.T) {
	packs := []CreditPack{pack(10, nil)}

	for _, amount := range []int{0, -1} {
		if _, err := selectDebitPlan(packs, amount); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("amount %d: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestAvailableCredits(t *testing.T) {
	packs := []CreditPack{pack(3, nil), pack(0, nil), pack(7, nil)}
	if got := availableCredits(packs); got != 10 {
		t.Fatalf("expected 10, got %d", got)
	}
	if got := availableCredits(nil); got != 0 {
		t.Fatalf("expected 0 for no packs, got %d", got)
	}
}
