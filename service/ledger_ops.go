package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"palomas/events"
	"palomas/models"
)

// The helpers below run inside a unit of work whose profile locks are
// already held by the caller.

// lockProfiles row-locks ids in a single ordered statement
func lockProfiles(ctx context.Context, uow UnitOfWork, ids ...uuid.UUID) (map[uuid.UUID]*models.Profile, error) {
	profiles, err := uow.ProfileRepository().LockForUpdate(ctx, ids...)
	if err != nil {
		return nil, fmt.Errorf("failed to lock profiles: %w", err)
	}
	return profiles, nil
}

// debitLedger takes amount from the user's active entries, oldest first.
// Fully consumed entries are deleted and the last one touched is reduced in place.
func debitLedger(ctx context.Context, uow UnitOfWork, userID uuid.UUID, amount int64, now time.Time) (*models.DebitPlan, error) {
	ledger := uow.LedgerRepository()

	entries, err := ledger.ActiveEntriesOrderedByAge(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger entries: %w", err)
	}

	plan, err := models.PlanDebit(entries, amount, now)
	if err != nil {
		return nil, err
	}

	for _, step := range plan.Steps {
		if step.Consumed() {
			if err := ledger.Delete(ctx, step.EntryID); err != nil {
				return nil, fmt.Errorf("failed to delete consumed entry: %w", err)
			}
			continue
		}
		if err := ledger.UpdateAmount(ctx, step.EntryID, step.Remaining); err != nil {
			return nil, fmt.Errorf("failed to reduce entry: %w", err)
		}
	}

	return plan, nil
}

// creditLedger inserts a fresh entry received at now
func creditLedger(ctx context.Context, uow UnitOfWork, userID uuid.UUID, amount int64, now time.Time, lifetime time.Duration, metadata models.EntryMetadata) (*models.PalomaTransaction, error) {
	entry := models.NewPalomaTransaction(userID, amount, now, lifetime, metadata)
	if err := insertEntry(ctx, uow, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func insertEntry(ctx context.Context, uow UnitOfWork, entry *models.PalomaTransaction) error {
	if err := entry.Metadata.Validate(); err != nil {
		return err
	}
	if err := uow.LedgerRepository().Insert(ctx, entry); err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}

// syncCachedBalance re-derives dov_balance from the ledger sum and publishes
// the change. profile is updated in place.
func syncCachedBalance(ctx context.Context, uow UnitOfWork, profile *models.Profile, now time.Time, reason events.ChangeReason) (int64, error) {
	balance, err := uow.LedgerRepository().ActiveBalance(ctx, profile.ID, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sum ledger: %w", err)
	}

	old := profile.DovBalance
	if balance == old {
		return balance, nil
	}

	if err := uow.ProfileRepository().SetDovBalance(ctx, profile.ID, balance); err != nil {
		return 0, fmt.Errorf("failed to update cached balance: %w", err)
	}
	profile.DovBalance = balance

	uow.EventBus().Publish(events.BalanceChangeEvent{
		UserID:       profile.ID,
		OldBalance:   old,
		NewBalance:   balance,
		ChangeAmount: balance - old,
		Reason:       reason,
	})

	return balance, nil
}

func utcNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
