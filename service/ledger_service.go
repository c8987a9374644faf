package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"palomas/config"
	"palomas/events"
	"palomas/infrastructure/metrics"
)

const sweepBatchSize = 500

type ledgerService struct {
	tx     txRunner
	config *config.Config
}

// NewLedgerService creates a new ledger maintenance service
func NewLedgerService(uowFactory UnitOfWorkFactory, cfg *config.Config) LedgerService {
	return &ledgerService{
		tx:     newTxRunner(uowFactory, cfg.MaxTxAttempts),
		config: cfg,
	}
}

// SweepExpired flags entries whose expires_at has passed. Those entries
// already stopped counting toward the balance, so the sweep only tidies the
// is_expired flag and brings each owner's cached balance back in line.
func (s *ledgerService) SweepExpired(ctx context.Context, now time.Time) (*SweepResult, error) {
	result := &SweepResult{}

	for {
		var users []uuid.UUID
		err := s.tx.run(ctx, "ledger.sweep_scan", func(uow UnitOfWork) error {
			var err error
			users, err = uow.LedgerRepository().UsersWithLapsedEntries(ctx, now, sweepBatchSize)
			if err != nil {
				return fmt.Errorf("failed to find lapsed entries: %w", err)
			}
			return nil
		})
		if err != nil {
			return result, err
		}
		if len(users) == 0 {
			break
		}

		var flaggedInBatch int64
		for _, userID := range users {
			flagged, corrected, err := s.sweepUser(ctx, userID, now)
			if err != nil {
				return result, err
			}
			result.UsersSwept++
			result.EntriesFlagged += flagged
			flaggedInBatch += flagged
			if corrected {
				result.Corrections++
			}
		}

		if flaggedInBatch == 0 || len(users) < sweepBatchSize {
			break
		}
	}

	metrics.RecordExpiredEntries(result.EntriesFlagged)
	log.WithFields(log.Fields{
		"users":       result.UsersSwept,
		"flagged":     result.EntriesFlagged,
		"corrections": result.Corrections,
	}).Info("Expiry sweep finished")

	return result, nil
}

func (s *ledgerService) sweepUser(ctx context.Context, userID uuid.UUID, now time.Time) (int64, bool, error) {
	var flagged int64
	var corrected bool

	err := s.tx.run(ctx, "ledger.sweep_user", func(uow UnitOfWork) error {
		profiles, err := lockProfiles(ctx, uow, userID)
		if err != nil {
			return err
		}
		profile, ok := profiles[userID]
		if !ok {
			return nil
		}

		flagged, err = uow.LedgerRepository().FlagExpired(ctx, userID, now)
		if err != nil {
			return fmt.Errorf("failed to flag expired entries: %w", err)
		}

		before := profile.DovBalance
		after, err := syncCachedBalance(ctx, uow, profile, now, events.ReasonExpiry)
		if err != nil {
			return err
		}
		corrected = before != after
		return nil
	})
	return flagged, corrected, err
}
