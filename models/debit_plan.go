package models

import (
	"cmp"
	"slices"
	"time"

	"github.com/google/uuid"

	"palomas/apperror"
)

// DebitStep is the change to one ledger entry during a debit.
// Remaining == 0 means the entry is fully consumed and gets deleted.
type DebitStep struct {
	EntryID   uuid.UUID
	Taken     int64
	Remaining int64
}

// Consumed reports whether the step removes the entry
func (s DebitStep) Consumed() bool {
	return s.Remaining == 0
}

// DebitPlan lists the entry changes needed to take an amount, oldest first
type DebitPlan struct {
	Amount    int64
	Available int64
	Steps     []DebitStep
}

// EntryIDs returns the ids of every touched entry in walk order
func (p *DebitPlan) EntryIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(p.Steps))
	for i, s := range p.Steps {
		ids[i] = s.EntryID
	}
	return ids
}

// PlanDebit walks active entries oldest first (received_at, then id) and
// takes min(remaining, entry.Amount) from each until amount is covered.
// It does not modify the entries.
func PlanDebit(entries []*PalomaTransaction, amount int64, now time.Time) (*DebitPlan, error) {
	const op = "ledger.debit"

	if amount <= 0 {
		return nil, apperror.Validation(op, "amount must be positive, got %d", amount)
	}

	active := make([]*PalomaTransaction, 0, len(entries))
	var available int64
	for _, e := range entries {
		if e.IsActive(now) && e.Amount > 0 {
			active = append(active, e)
			available += e.Amount
		}
	}

	if available < amount {
		return nil, apperror.InsufficientBalance(op, available, amount)
	}

	slices.SortStableFunc(active, func(a, b *PalomaTransaction) int {
		if c := a.ReceivedAt.Compare(b.ReceivedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})

	plan := &DebitPlan{Amount: amount, Available: available}
	remaining := amount
	for _, e := range active {
		if remaining == 0 {
			break
		}
		take := min(remaining, e.Amount)
		plan.Steps = append(plan.Steps, DebitStep{
			EntryID:   e.ID,
			Taken:     take,
			Remaining: e.Amount - take,
		})
		remaining -= take
	}

	return plan, nil
}
