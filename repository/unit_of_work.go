package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"palomas/database"
	"palomas/events"
	"palomas/service"
)

// unitOfWork implements the UnitOfWork interface
type unitOfWork struct {
	db               *database.DB
	tx               pgx.Tx
	ctx              context.Context
	lockTimeout      time.Duration
	transactionalBus *events.TransactionalBus
	profileRepo      service.ProfileRepository
	ledgerRepo       service.LedgerRepository
	escrowRepo       service.EscrowRepository
	paymentRepo      service.ExternalPaymentRepository
	levelCostRepo    service.LevelCostRepository
	meritRepo        service.MeritRepository
}

// NewUnitOfWorkFactory creates a new UnitOfWork factory. Every transaction
// it begins waits at most lockTimeout for a row lock.
func NewUnitOfWorkFactory(db *database.DB, eventBus *events.Bus, lockTimeout time.Duration) service.UnitOfWorkFactory {
	return &unitOfWorkFactory{
		db:          db,
		eventBus:    eventBus,
		lockTimeout: lockTimeout,
	}
}

type unitOfWorkFactory struct {
	db          *database.DB
	eventBus    *events.Bus
	lockTimeout time.Duration
}

func (f *unitOfWorkFactory) Create() service.UnitOfWork {
	return &unitOfWork{
		db:               f.db,
		lockTimeout:      f.lockTimeout,
		transactionalBus: events.NewTransactionalBus(f.eventBus),
	}
}

// Begin starts a new transaction
func (u *unitOfWork) Begin(ctx context.Context) error {
	if u.tx != nil {
		return fmt.Errorf("transaction already started")
	}

	tx, err := u.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := database.SetLockTimeout(ctx, tx, u.lockTimeout); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	u.tx = tx
	u.ctx = ctx

	// Create repositories with the transaction
	u.profileRepo = newProfileRepositoryWithTx(tx)
	u.ledgerRepo = newLedgerRepositoryWithTx(tx)
	u.escrowRepo = newEscrowRepositoryWithTx(tx)
	u.paymentRepo = newExternalPaymentRepositoryWithTx(tx)
	u.levelCostRepo = newLevelCostRepositoryWithTx(tx)
	u.meritRepo = newMeritRepositoryWithTx(tx)

	return nil
}

// Commit commits the transaction
func (u *unitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("no transaction to commit")
	}

	err := u.tx.Commit(u.ctx)
	u.tx = nil
	if err != nil {
		if u.transactionalBus != nil {
			u.transactionalBus.Discard()
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	// Flush pending events after successful commit
	if u.transactionalBus != nil {
		u.transactionalBus.Flush(u.ctx)
	}

	return nil
}

// Rollback rolls back the transaction
func (u *unitOfWork) Rollback() error {
	if u.tx == nil {
		return nil // Nothing to rollback
	}

	err := u.tx.Rollback(u.ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}

	u.tx = nil

	// Discard pending events on rollback
	if u.transactionalBus != nil {
		u.transactionalBus.Discard()
	}

	return nil
}

// ProfileRepository returns the profile repository for this unit of work
func (u *unitOfWork) ProfileRepository() service.ProfileRepository {
	if u.profileRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.profileRepo
}

// LedgerRepository returns the ledger repository for this unit of work
func (u *unitOfWork) LedgerRepository() service.LedgerRepository {
	if u.ledgerRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.ledgerRepo
}

// EscrowRepository returns the escrow repository for this unit of work
func (u *unitOfWork) EscrowRepository() service.EscrowRepository {
	if u.escrowRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.escrowRepo
}

// ExternalPaymentRepository returns the external payment repository for this unit of work
func (u *unitOfWork) ExternalPaymentRepository() service.ExternalPaymentRepository {
	if u.paymentRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.paymentRepo
}

// LevelCostRepository returns the level cost repository for this unit of work
func (u *unitOfWork) LevelCostRepository() service.LevelCostRepository {
	if u.levelCostRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.levelCostRepo
}

// MeritRepository returns the merit repository for this unit of work
func (u *unitOfWork) MeritRepository() service.MeritRepository {
	if u.meritRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.meritRepo
}

// EventBus returns the transactional event bus for this unit of work
func (u *unitOfWork) EventBus() service.EventPublisher {
	if u.transactionalBus == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.transactionalBus
}
