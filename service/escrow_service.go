package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"palomas/apperror"
	"palomas/config"
	"palomas/events"
	"palomas/models"
)

const (
	maxDeliveryWindowDays = 365
	escrowListLimit       = 100
)

type escrowService struct {
	tx     txRunner
	config *config.Config
	now    func() time.Time
}

// NewEscrowService creates a new escrow service
func NewEscrowService(uowFactory UnitOfWorkFactory, cfg *config.Config) EscrowService {
	return &escrowService{
		tx:     newTxRunner(uowFactory, cfg.MaxTxAttempts),
		config: cfg,
		now:    utcNow,
	}
}

func (s *escrowService) SendEggs(ctx context.Context, senderID uuid.UUID, recipientUsername string, totalAmount int64, workDescription string, deliveryWindowDays int) (*SendEggsResult, error) {
	const op = "escrow.send"

	username := models.NormalizeUsername(recipientUsername)
	workDescription = strings.TrimSpace(workDescription)

	if username == "" {
		return nil, apperror.Validation(op, "recipient username is required")
	}
	if totalAmount <= 0 {
		return nil, apperror.Validation(op, "amount must be positive, got %d", totalAmount)
	}
	if workDescription == "" {
		return nil, apperror.Validation(op, "work description is required")
	}
	if deliveryWindowDays <= 0 || deliveryWindowDays > maxDeliveryWindowDays {
		return nil, apperror.Validation(op, "delivery window must be between 1 and %d days, got %d", maxDeliveryWindowDays, deliveryWindowDays)
	}

	var result *SendEggsResult
	err := s.tx.run(ctx, op, func(uow UnitOfWork) error {
		now := s.now()

		recipientRef, err := uow.ProfileRepository().GetByUsername(ctx, username)
		if err != nil {
			return fmt.Errorf("failed to look up recipient: %w", err)
		}
		if recipientRef == nil {
			return apperror.NotFound(op, "recipient %s not found", username)
		}
		recipientID := recipientRef.ID
		if recipientID == senderID {
			return apperror.SelfTransfer(op)
		}

		profiles, err := lockProfiles(ctx, uow, senderID, recipientID)
		if err != nil {
			return err
		}
		sender, ok := profiles[senderID]
		if !ok {
			return apperror.NotFound(op, "sender %s not found", senderID)
		}
		recipient, ok := profiles[recipientID]
		if !ok {
			return apperror.NotFound(op, "recipient %s not found", username)
		}

		escrow := models.NewEggsTransaction(senderID, recipientID, totalAmount, workDescription, deliveryWindowDays, now)

		plan, err := debitLedger(ctx, uow, senderID, totalAmount, now)
		if err != nil {
			return err
		}
		escrow.SourceTransactionIDs = plan.EntryIDs()

		if err := uow.EscrowRepository().Create(ctx, escrow); err != nil {
			return fmt.Errorf("failed to create escrow: %w", err)
		}

		// A one-Paloma escrow hatches nothing
		if escrow.HatchedAmount > 0 {
			meta := models.EscrowHatchMetadata(senderID, escrow.ID)
			if _, err := creditLedger(ctx, uow, recipientID, escrow.HatchedAmount, now, s.config.EntryLifetime, meta); err != nil {
				return err
			}
		}

		if err := uow.ProfileRepository().ApplyCounters(ctx, senderID, models.ProfileCounters{EggsPendingSent: escrow.PendingAmount}); err != nil {
			return fmt.Errorf("failed to update sender pending eggs: %w", err)
		}
		if err := uow.ProfileRepository().ApplyCounters(ctx, recipientID, models.ProfileCounters{EggsPendingReceived: escrow.PendingAmount}); err != nil {
			return fmt.Errorf("failed to update recipient pending eggs: %w", err)
		}

		senderBalance, err := syncCachedBalance(ctx, uow, sender, now, events.ReasonEscrowHold)
		if err != nil {
			return err
		}
		if _, err := syncCachedBalance(ctx, uow, recipient, now, events.ReasonEscrowHatch); err != nil {
			return err
		}

		uow.EventBus().Publish(events.EscrowStateChangeEvent{
			EscrowID:      escrow.ID,
			SenderID:      senderID,
			RecipientID:   recipientID,
			NewStatus:     escrow.Status,
			PendingAmount: escrow.PendingAmount,
		})

		log.WithFields(log.Fields{
			"escrowID":  escrow.ID,
			"sender":    senderID,
			"recipient": recipientID,
			"total":     totalAmount,
			"hatched":   escrow.HatchedAmount,
			"pending":   escrow.PendingAmount,
		}).Info("Eggs sent")

		result = &SendEggsResult{
			EscrowID:         escrow.ID,
			HatchedAmount:    escrow.HatchedAmount,
			PendingAmount:    escrow.PendingAmount,
			NewSenderBalance: senderBalance,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *escrowService) UploadEggWork(ctx context.Context, escrowID, actorID uuid.UUID, deliveryURL string) (*models.EggsTransaction, error) {
	const op = "escrow.upload_work"

	deliveryURL = strings.TrimSpace(deliveryURL)
	if deliveryURL == "" {
		return nil, apperror.Validation(op, "delivery url is required")
	}
	if u, err := url.ParseRequestURI(deliveryURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, apperror.Validation(op, "delivery url must be an http(s) url")
	}

	var updated *models.EggsTransaction
	err := s.tx.run(ctx, op, func(uow UnitOfWork) error {
		escrow, err := s.lockEscrow(ctx, uow, op, escrowID)
		if err != nil {
			return err
		}
		if !escrow.CanUploadWork(actorID) {
			return transitionError(op, escrow, actorID, "upload work", "recipient", models.EscrowStatusPending)
		}

		now := s.now()
		oldStatus := escrow.Status
		escrow.Status = models.EscrowStatusWorkUploaded
		escrow.WorkDeliveryURL = &deliveryURL
		escrow.WorkUploadedAt = &now

		if err := uow.EscrowRepository().Update(ctx, escrow); err != nil {
			return fmt.Errorf("failed to update escrow: %w", err)
		}

		s.publishTransition(uow, escrow, oldStatus, "")
		updated = escrow
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *escrowService) ApproveEgg(ctx context.Context, escrowID, actorID uuid.UUID) (*models.EggsTransaction, error) {
	const op = "escrow.approve"

	var updated *models.EggsTransaction
	err := s.tx.run(ctx, op, func(uow UnitOfWork) error {
		escrow, err := s.lockEscrow(ctx, uow, op, escrowID)
		if err != nil {
			return err
		}
		if !escrow.CanApprove(actorID) {
			return transitionError(op, escrow, actorID, "approve", "sender", models.EscrowStatusWorkUploaded)
		}

		now := s.now()
		oldStatus := escrow.Status
		if err := s.releaseHeld(ctx, uow, escrow, escrow.RecipientID, models.EscrowApprovedMetadata(escrow.SenderID, escrow.ID), events.ReasonEscrowApproved, now); err != nil {
			return err
		}

		escrow.Status = models.EscrowStatusApproved
		escrow.ReviewedAt = &now
		escrow.ResolvedAt = &now
		if err := uow.EscrowRepository().Update(ctx, escrow); err != nil {
			return fmt.Errorf("failed to update escrow: %w", err)
		}

		s.publishTransition(uow, escrow, oldStatus, "")

		log.WithFields(log.Fields{
			"escrowID":  escrow.ID,
			"recipient": escrow.RecipientID,
			"released":  escrow.PendingAmount,
		}).Info("Eggs approved")

		updated = escrow
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *escrowService) DisputeEgg(ctx context.Context, escrowID, actorID uuid.UUID, notes string) (*models.EggsTransaction, error) {
	const op = "escrow.dispute"

	notes = strings.TrimSpace(notes)
	if notes == "" {
		return nil, apperror.Validation(op, "dispute notes are required")
	}

	var updated *models.EggsTransaction
	err := s.tx.run(ctx, op, func(uow UnitOfWork) error {
		escrow, err := s.lockEscrow(ctx, uow, op, escrowID)
		if err != nil {
			return err
		}
		if !escrow.CanDispute(actorID) {
			return transitionError(op, escrow, actorID, "dispute", "sender", models.EscrowStatusWorkUploaded)
		}

		now := s.now()
		oldStatus := escrow.Status
		escrow.Status = models.EscrowStatusDisputed
		escrow.DisputeNotes = &notes
		escrow.DisputeOpenedAt = &now
		escrow.ReviewedAt = &now

		if err := uow.EscrowRepository().Update(ctx, escrow); err != nil {
			return fmt.Errorf("failed to update escrow: %w", err)
		}

		s.publishTransition(uow, escrow, oldStatus, notes)

		log.WithFields(log.Fields{
			"escrowID": escrow.ID,
			"sender":   escrow.SenderID,
			"held":     escrow.PendingAmount,
		}).Warn("Eggs disputed, awaiting facilitation")

		updated = escrow
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *escrowService) ResolveDispute(ctx context.Context, escrowID, actorID uuid.UUID, outcome models.DisputeResolution) (*models.EggsTransaction, error) {
	const op = "escrow.resolve"

	if !outcome.IsValid() {
		return nil, apperror.Validation(op, "outcome must be %q or %q, got %q", models.ResolutionRelease, models.ResolutionRefund, outcome)
	}
	if !s.config.IsAdmin(actorID) {
		return nil, apperror.InvalidTransition(op, "only a facilitator may resolve disputes")
	}

	var updated *models.EggsTransaction
	err := s.tx.run(ctx, op, func(uow UnitOfWork) error {
		escrow, err := s.lockEscrow(ctx, uow, op, escrowID)
		if err != nil {
			return err
		}
		if !escrow.CanBeResolved() {
			return apperror.InvalidTransition(op, "escrow is %s, only disputed escrows can be resolved", escrow.Status)
		}
		facilitator, err := uow.ProfileRepository().GetByID(ctx, actorID)
		if err != nil {
			return fmt.Errorf("failed to get facilitator: %w", err)
		}
		if facilitator == nil {
			return apperror.NotFound(op, "facilitator %s has no profile", actorID)
		}

		now := s.now()
		oldStatus := escrow.Status

		switch outcome {
		case models.ResolutionRelease:
			meta := models.EscrowApprovedMetadata(escrow.SenderID, escrow.ID)
			if err := s.releaseHeld(ctx, uow, escrow, escrow.RecipientID, meta, events.ReasonEscrowApproved, now); err != nil {
				return err
			}
			escrow.Status = models.EscrowStatusApproved
		case models.ResolutionRefund:
			meta := models.EscrowRefundMetadata(escrow.ID)
			if err := s.releaseHeld(ctx, uow, escrow, escrow.SenderID, meta, events.ReasonEscrowRefund, now); err != nil {
				return err
			}
			escrow.Status = models.EscrowStatusRefunded
		}

		escrow.Resolution = &outcome
		escrow.ResolvedBy = &actorID
		escrow.ResolvedAt = &now
		if err := uow.EscrowRepository().Update(ctx, escrow); err != nil {
			return fmt.Errorf("failed to update escrow: %w", err)
		}

		s.publishTransition(uow, escrow, oldStatus, "")

		log.WithFields(log.Fields{
			"escrowID":    escrow.ID,
			"outcome":     outcome,
			"facilitator": actorID,
			"amount":      escrow.PendingAmount,
		}).Info("Dispute resolved")

		updated = escrow
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *escrowService) GetEscrow(ctx context.Context, escrowID uuid.UUID) (*models.EggsTransaction, error) {
	const op = "escrow.get"

	var escrow *models.EggsTransaction
	err := s.tx.run(ctx, op, func(uow UnitOfWork) error {
		var err error
		escrow, err = uow.EscrowRepository().GetByID(ctx, escrowID)
		if err != nil {
			return fmt.Errorf("failed to get escrow: %w", err)
		}
		if escrow == nil {
			return apperror.NotFound(op, "escrow %s not found", escrowID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return escrow, nil
}

func (s *escrowService) ListEscrowsForUser(ctx context.Context, userID uuid.UUID) ([]*models.EggsTransaction, error) {
	var escrows []*models.EggsTransaction
	err := s.tx.run(ctx, "escrow.list", func(uow UnitOfWork) error {
		var err error
		escrows, err = uow.EscrowRepository().ListByUser(ctx, userID, escrowListLimit)
		if err != nil {
			return fmt.Errorf("failed to list escrows: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return escrows, nil
}

func (s *escrowService) ListOverdue(ctx context.Context, now time.Time) ([]*models.EggsTransaction, error) {
	var escrows []*models.EggsTransaction
	err := s.tx.run(ctx, "escrow.list_overdue", func(uow UnitOfWork) error {
		var err error
		escrows, err = uow.EscrowRepository().ListOverdue(ctx, now)
		if err != nil {
			return fmt.Errorf("failed to list overdue escrows: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return escrows, nil
}

func (s *escrowService) lockEscrow(ctx context.Context, uow UnitOfWork, op string, escrowID uuid.UUID) (*models.EggsTransaction, error) {
	escrow, err := uow.EscrowRepository().GetByIDForUpdate(ctx, escrowID)
	if err != nil {
		return nil, fmt.Errorf("failed to get escrow: %w", err)
	}
	if escrow == nil {
		return nil, apperror.NotFound(op, "escrow %s not found", escrowID)
	}
	return escrow, nil
}

// releaseHeld credits the held amount to beneficiary and clears both
// pending counters. The escrow row lock is already held.
func (s *escrowService) releaseHeld(ctx context.Context, uow UnitOfWork, escrow *models.EggsTransaction, beneficiaryID uuid.UUID, meta models.EntryMetadata, reason events.ChangeReason, now time.Time) error {
	profiles, err := lockProfiles(ctx, uow, escrow.SenderID, escrow.RecipientID)
	if err != nil {
		return err
	}
	beneficiary, ok := profiles[beneficiaryID]
	if !ok {
		return apperror.NotFound("escrow.release", "profile %s not found", beneficiaryID)
	}

	if _, err := creditLedger(ctx, uow, beneficiaryID, escrow.PendingAmount, now, s.config.EntryLifetime, meta); err != nil {
		return err
	}

	if err := uow.ProfileRepository().ApplyCounters(ctx, escrow.SenderID, models.ProfileCounters{EggsPendingSent: -escrow.PendingAmount}); err != nil {
		return fmt.Errorf("failed to update sender pending eggs: %w", err)
	}
	if err := uow.ProfileRepository().ApplyCounters(ctx, escrow.RecipientID, models.ProfileCounters{EggsPendingReceived: -escrow.PendingAmount}); err != nil {
		return fmt.Errorf("failed to update recipient pending eggs: %w", err)
	}

	if _, err := syncCachedBalance(ctx, uow, beneficiary, now, reason); err != nil {
		return err
	}
	return nil
}

func (s *escrowService) publishTransition(uow UnitOfWork, escrow *models.EggsTransaction, oldStatus models.EscrowStatus, notes string) {
	uow.EventBus().Publish(events.EscrowStateChangeEvent{
		EscrowID:      escrow.ID,
		SenderID:      escrow.SenderID,
		RecipientID:   escrow.RecipientID,
		OldStatus:     oldStatus,
		NewStatus:     escrow.Status,
		PendingAmount: escrow.PendingAmount,
		Notes:         notes,
	})
}

// transitionError distinguishes a wrong actor from a wrong state
func transitionError(op string, escrow *models.EggsTransaction, actorID uuid.UUID, action, role string, required models.EscrowStatus) error {
	isRole := (role == "sender" && escrow.SenderID == actorID) || (role == "recipient" && escrow.RecipientID == actorID)
	if !isRole {
		return apperror.InvalidTransition(op, "only the %s may %s", role, action)
	}
	return apperror.InvalidTransition(op, "cannot %s an escrow that is %s, must be %s", action, escrow.Status, required)
}
