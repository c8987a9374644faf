package jobs

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"palomas/service"
)

const jobTimeout = 10 * time.Minute

// ExpirySweeper flags lapsed ledger entries and re-syncs the affected cached balances
type ExpirySweeper struct {
	ledger service.LedgerService
	now    func() time.Time
}

func NewExpirySweeper(ledger service.LedgerService) *ExpirySweeper {
	return &ExpirySweeper{
		ledger: ledger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run implements cron.Job
func (j *ExpirySweeper) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if _, err := j.RunOnce(ctx); err != nil {
		log.WithError(err).Error("Expiry sweep failed")
	}
}

// RunOnce sweeps entries that lapsed before now
func (j *ExpirySweeper) RunOnce(ctx context.Context) (*service.SweepResult, error) {
	started := j.now()
	result, err := j.ledger.SweepExpired(ctx, started)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"usersSwept":     result.UsersSwept,
		"entriesFlagged": result.EntriesFlagged,
		"corrections":    result.Corrections,
		"duration":       time.Since(started),
	}).Info("Expiry sweep complete")
	return result, nil
}
