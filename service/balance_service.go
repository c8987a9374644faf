package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"palomas/apperror"
	"palomas/config"
	"palomas/events"
	"palomas/infrastructure/metrics"
	"palomas/models"
)

type balanceService struct {
	tx     txRunner
	config *config.Config
	now    func() time.Time
}

// NewBalanceService creates a new balance service
func NewBalanceService(uowFactory UnitOfWorkFactory, cfg *config.Config) BalanceService {
	return &balanceService{
		tx:     newTxRunner(uowFactory, cfg.MaxTxAttempts),
		config: cfg,
		now:    utcNow,
	}
}

func (s *balanceService) GetActiveBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	const op = "balance.get"

	var balance int64
	err := s.tx.run(ctx, op, func(uow UnitOfWork) error {
		if err := requireProfile(ctx, uow, op, userID); err != nil {
			return err
		}
		var err error
		balance, err = uow.LedgerRepository().ActiveBalance(ctx, userID, s.now())
		if err != nil {
			return fmt.Errorf("failed to sum ledger: %w", err)
		}
		return nil
	})
	return balance, err
}

func (s *balanceService) GetBalanceBreakdown(ctx context.Context, userID uuid.UUID) (*models.BalanceBreakdown, error) {
	entries, err := s.activeEntries(ctx, "balance.breakdown", userID)
	if err != nil {
		return nil, err
	}
	breakdown := models.ComputeBreakdown(entries, s.now())
	return &breakdown, nil
}

func (s *balanceService) ListEntries(ctx context.Context, userID uuid.UUID) ([]*models.PalomaTransaction, error) {
	return s.activeEntries(ctx, "balance.entries", userID)
}

func (s *balanceService) activeEntries(ctx context.Context, op string, userID uuid.UUID) ([]*models.PalomaTransaction, error) {
	var entries []*models.PalomaTransaction
	err := s.tx.run(ctx, op, func(uow UnitOfWork) error {
		if err := requireProfile(ctx, uow, op, userID); err != nil {
			return err
		}
		var err error
		entries, err = uow.LedgerRepository().ActiveEntriesOrderedByAge(ctx, userID, s.now())
		if err != nil {
			return fmt.Errorf("failed to load ledger entries: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Reconcile takes the same profile lock as every balance mutation, so it is
// safe to run at any time and a second run finds nothing to fix.
func (s *balanceService) Reconcile(ctx context.Context, userID uuid.UUID) (*ReconcileResult, error) {
	const op = "balance.reconcile"

	var result *ReconcileResult
	err := s.tx.run(ctx, op, func(uow UnitOfWork) error {
		profiles, err := lockProfiles(ctx, uow, userID)
		if err != nil {
			return err
		}
		profile, ok := profiles[userID]
		if !ok {
			return apperror.NotFound(op, "user %s not found", userID)
		}

		cached := profile.DovBalance
		balance, err := syncCachedBalance(ctx, uow, profile, s.now(), events.ReasonReconcile)
		if err != nil {
			return err
		}

		result = &ReconcileResult{
			UserID:        userID,
			CachedBalance: cached,
			LedgerBalance: balance,
			Corrected:     cached != balance,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Corrected {
		metrics.RecordReconcileCorrection()
		log.WithFields(log.Fields{
			"user":   userID,
			"cached": result.CachedBalance,
			"ledger": result.LedgerBalance,
		}).Warn("Cached balance drifted from ledger, corrected")
	}
	return result, nil
}

func (s *balanceService) ReconcileAll(ctx context.Context) ([]*ReconcileResult, error) {
	var ids []uuid.UUID
	err := s.tx.run(ctx, "balance.reconcile_all", func(uow UnitOfWork) error {
		var err error
		ids, err = uow.ProfileRepository().ListIDs(ctx)
		if err != nil {
			return fmt.Errorf("failed to list profiles: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var corrected []*ReconcileResult
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return corrected, err
		}
		result, err := s.Reconcile(ctx, id)
		if err != nil {
			return corrected, fmt.Errorf("failed to reconcile %s: %w", id, err)
		}
		if result.Corrected {
			corrected = append(corrected, result)
		}
	}

	log.WithFields(log.Fields{
		"profiles":    len(ids),
		"corrections": len(corrected),
	}).Info("Reconciliation finished")
	return corrected, nil
}

func requireProfile(ctx context.Context, uow UnitOfWork, op string, userID uuid.UUID) error {
	profile, err := uow.ProfileRepository().GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get profile: %w", err)
	}
	if profile == nil {
		return apperror.NotFound(op, "user %s not found", userID)
	}
	return nil
}
