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
	"palomas/models"
)

type transferService struct {
	tx     txRunner
	config *config.Config
	now    func() time.Time
}

// NewTransferService creates a new transfer service
func NewTransferService(uowFactory UnitOfWorkFactory, cfg *config.Config) TransferService {
	return &transferService{
		tx:     newTxRunner(uowFactory, cfg.MaxTxAttempts),
		config: cfg,
		now:    utcNow,
	}
}

func (s *transferService) TransferDoves(ctx context.Context, senderID uuid.UUID, recipientUsername string, amount int64) (*TransferResult, error) {
	const op = "transfer"

	username := models.NormalizeUsername(recipientUsername)
	if username == "" {
		return nil, apperror.Validation(op, "recipient username is required")
	}
	if amount <= 0 {
		return nil, apperror.Validation(op, "amount must be positive, got %d", amount)
	}

	var result *TransferResult
	err := s.tx.run(ctx, op, func(uow UnitOfWork) error {
		recipient, err := uow.ProfileRepository().GetByUsername(ctx, username)
		if err != nil {
			return fmt.Errorf("failed to look up recipient: %w", err)
		}
		if recipient == nil {
			return apperror.NotFound(op, "recipient %s not found", username)
		}

		result, err = s.transfer(ctx, uow, senderID, recipient.ID, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *transferService) Transfer(ctx context.Context, senderID, recipientID uuid.UUID, amount int64) (*TransferResult, error) {
	const op = "transfer"

	if amount <= 0 {
		return nil, apperror.Validation(op, "amount must be positive, got %d", amount)
	}

	var result *TransferResult
	err := s.tx.run(ctx, op, func(uow UnitOfWork) error {
		var err error
		result, err = s.transfer(ctx, uow, senderID, recipientID, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// transfer debits the sender FIFO, credits the recipient with one new entry
// and re-derives both cached balances, all inside uow.
func (s *transferService) transfer(ctx context.Context, uow UnitOfWork, senderID, recipientID uuid.UUID, amount int64) (*TransferResult, error) {
	const op = "transfer"

	if senderID == recipientID {
		return nil, apperror.SelfTransfer(op)
	}

	now := s.now()

	profiles, err := lockProfiles(ctx, uow, senderID, recipientID)
	if err != nil {
		return nil, err
	}
	sender, ok := profiles[senderID]
	if !ok {
		return nil, apperror.NotFound(op, "sender %s not found", senderID)
	}
	recipient, ok := profiles[recipientID]
	if !ok {
		return nil, apperror.NotFound(op, "recipient %s not found", recipientID)
	}

	plan, err := debitLedger(ctx, uow, senderID, amount, now)
	if err != nil {
		return nil, err
	}

	if _, err := creditLedger(ctx, uow, recipientID, amount, now, s.config.EntryLifetime, models.TransferMetadata(senderID)); err != nil {
		return nil, err
	}

	newSenderBalance, err := syncCachedBalance(ctx, uow, sender, now, events.ReasonTransferOut)
	if err != nil {
		return nil, err
	}
	if _, err := syncCachedBalance(ctx, uow, recipient, now, events.ReasonTransferIn); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"sender":         senderID,
		"recipient":      recipientID,
		"amount":         amount,
		"entriesTouched": len(plan.Steps),
		"senderBalance":  newSenderBalance,
	}).Info("Doves transferred")

	return &TransferResult{
		SenderID:         senderID,
		RecipientID:      recipientID,
		RecipientName:    recipient.Username,
		Amount:           amount,
		NewSenderBalance: newSenderBalance,
		ConsumedEntryIDs: plan.EntryIDs(),
	}, nil
}
