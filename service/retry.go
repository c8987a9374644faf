package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	log "github.com/sirupsen/logrus"

	"palomas/apperror"
	"palomas/infrastructure/metrics"
)

// txRunner executes a function inside a unit of work and retries the whole
// attempt on lock contention or transient storage failures. Each attempt gets
// a fresh unit of work that is rolled back unless fn and Commit both succeed.
type txRunner struct {
	uowFactory  UnitOfWorkFactory
	maxAttempts int
	newBackOff  func() backoff.BackOff
}

func newTxRunner(uowFactory UnitOfWorkFactory, maxAttempts int) txRunner {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return txRunner{
		uowFactory:  uowFactory,
		maxAttempts: maxAttempts,
		newBackOff:  defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second
	return b
}

func (r txRunner) run(ctx context.Context, op string, fn func(uow UnitOfWork) error) error {
	start := time.Now()
	attempt := 0

	policy := backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), uint64(r.maxAttempts-1)), ctx)

	err := backoff.RetryNotify(func() error {
		attempt++
		err := r.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		classified, retry := classifyError(op, err)
		if !retry {
			return backoff.Permanent(classified)
		}
		return classified
	}, policy, func(err error, wait time.Duration) {
		kind := apperror.KindOf(err)
		metrics.RecordRetry(op, string(kind))
		log.WithFields(log.Fields{
			"operation": op,
			"attempt":   attempt,
			"kind":      kind,
			"wait":      wait,
		}).WithError(err).Warn("Retrying ledger transaction")
	})

	outcome := "ok"
	if err != nil {
		outcome = string(apperror.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	metrics.RecordOperation(op, outcome, time.Since(start))

	return err
}

func (r txRunner) attempt(ctx context.Context, fn func(uow UnitOfWork) error) error {
	uow := r.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback() // No-op if already committed

	if err := fn(uow); err != nil {
		return err
	}

	if err := uow.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// classifyError maps an attempt's failure onto the error taxonomy and
// reports whether another attempt may succeed.
func classifyError(op string, err error) (error, bool) {
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return err, apperror.IsRetryable(err)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err, false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03": // serialization_failure, deadlock_detected, lock_not_available
			return apperror.Conflict(op, err), true
		case "57P01", "53300": // admin_shutdown, too_many_connections
			return apperror.Storage(op, err), true
		}
		if strings.HasPrefix(pgErr.Code, "08") {
			return apperror.Storage(op, err), true
		}
		return apperror.Storage(op, err), false
	}

	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return apperror.Storage(op, err), true
	}

	return apperror.Storage(op, err), false
}
