package jobs

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"palomas/service"
)

// BalanceReconciler overwrites cached balances that drifted from the ledger sum
type BalanceReconciler struct {
	balances service.BalanceService
}

func NewBalanceReconciler(balances service.BalanceService) *BalanceReconciler {
	return &BalanceReconciler{balances: balances}
}

// Run implements cron.Job
func (j *BalanceReconciler) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if _, err := j.RunOnce(ctx); err != nil {
		log.WithError(err).Error("Balance reconciliation failed")
	}
}

// RunOnce reconciles every profile and returns the corrections made.
// Corrections made before a failure are still returned.
func (j *BalanceReconciler) RunOnce(ctx context.Context) ([]*service.ReconcileResult, error) {
	started := time.Now()
	corrected, err := j.balances.ReconcileAll(ctx)

	for _, c := range corrected {
		log.WithFields(log.Fields{
			"userID":        c.UserID,
			"cachedBalance": c.CachedBalance,
			"ledgerBalance": c.LedgerBalance,
		}).Warn("Cached balance drifted from ledger")
	}
	if err != nil {
		return corrected, err
	}

	log.WithFields(log.Fields{
		"corrections": len(corrected),
		"duration":    time.Since(started),
	}).Info("Balance reconciliation complete")
	return corrected, nil
}
