package jobs

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"palomas/models"
	"palomas/service"
)

// OverdueNotifier receives escrows past their expected delivery date
type OverdueNotifier interface {
	NotifyOverdue(ctx context.Context, escrows []*models.EggsTransaction) error
}

// OverdueMonitor reports open escrows whose delivery date has passed.
// Overdue escrows are never transitioned automatically.
type OverdueMonitor struct {
	escrows  service.EscrowService
	notifier OverdueNotifier
	now      func() time.Time
}

func NewOverdueMonitor(escrows service.EscrowService, notifier OverdueNotifier) *OverdueMonitor {
	return &OverdueMonitor{
		escrows:  escrows,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run implements cron.Job
func (j *OverdueMonitor) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if _, err := j.RunOnce(ctx); err != nil {
		log.WithError(err).Error("Overdue escrow check failed")
	}
}

// RunOnce lists overdue escrows and hands them to the notifier, returning how many were found
func (j *OverdueMonitor) RunOnce(ctx context.Context) (int, error) {
	overdue, err := j.escrows.ListOverdue(ctx, j.now())
	if err != nil {
		return 0, fmt.Errorf("failed to list overdue escrows: %w", err)
	}
	if len(overdue) == 0 {
		log.Debug("No overdue escrows")
		return 0, nil
	}

	log.WithField("count", len(overdue)).Info("Found overdue escrows")
	if j.notifier == nil {
		return len(overdue), nil
	}
	if err := j.notifier.NotifyOverdue(ctx, overdue); err != nil {
		return len(overdue), err
	}
	return len(overdue), nil
}
