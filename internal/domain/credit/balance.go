package credit

import "github.com/google/uuid"

// PackDebit is one pack's share of a planned spend.
type PackDebit struct {
	PackID uuid.UUID
	Amount int
}

// selectDebitPlan walks packs in the order they were fetched (soonest-to-expire
// first, never-expiring last) and accumulates per-pack debits until amount is
// covered. It never mutates anything; the caller applies the plan inside the
// same transaction that locked the packs.
func selectDebitPlan(packs []CreditPack, amount int) ([]PackDebit, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	plan := make([]PackDebit, 0, len(packs))
	left := amount
	for _, p := range packs {
		if left == 0 {
			break
		}
		if p.CreditsRemaining <= 0 {
			continue
		}
		debit := p.CreditsRemaining
		if debit > left {
			debit = left
		}
		plan = append(plan, PackDebit{PackID: p.ID, Amount: debit})
		left -= debit
	}

	if left > 0 {
		return nil, ErrInsufficientBalance
	}
	return plan, nil
}

func availableCredits(packs []CreditPack) int {
	total := 0
	for _, p := range packs {
		total += p.CreditsRemaining
	}
	return total
}
