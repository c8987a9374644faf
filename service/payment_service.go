package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"palomas/apperror"
	"palomas/config"
	"palomas/events"
	"palomas/models"
)

const maxSourceRefLength = 255

var errPaymentRecordedConcurrently = errors.New("payment recorded by a concurrent delivery")

type paymentService struct {
	tx     txRunner
	config *config.Config
	now    func() time.Time
}

// NewPaymentService creates a new payment service
func NewPaymentService(uowFactory UnitOfWorkFactory, cfg *config.Config) PaymentService {
	return &paymentService{
		tx:     newTxRunner(uowFactory, cfg.MaxTxAttempts),
		config: cfg,
		now:    utcNow,
	}
}

// CreditExternalPayment is the single entry point for verified payment
// webhooks. A sourceRef is credited at most once; later deliveries return
// the original payment with Duplicate set.
func (s *paymentService) CreditExternalPayment(ctx context.Context, userID uuid.UUID, amountUSD string, sourceRef string) (*PaymentResult, error) {
	const op = "payment.credit"

	sourceRef = strings.TrimSpace(sourceRef)
	if sourceRef == "" {
		return nil, apperror.Validation(op, "source reference is required")
	}
	if len(sourceRef) > maxSourceRefLength {
		return nil, apperror.Validation(op, "source reference longer than %d characters", maxSourceRefLength)
	}

	usd, err := models.ParseUSD(amountUSD)
	if err != nil {
		return nil, err
	}
	palomas, err := models.PalomasForUSD(usd)
	if err != nil {
		return nil, err
	}

	var result *PaymentResult
	err = s.tx.run(ctx, op, func(uow UnitOfWork) error {
		existing, err := uow.ExternalPaymentRepository().GetBySourceRef(ctx, sourceRef)
		if err != nil {
			return fmt.Errorf("failed to check payment reference: %w", err)
		}
		if existing != nil {
			if existing.UserID != userID {
				return apperror.Validation(op, "source reference %s belongs to another user", sourceRef)
			}
			log.WithFields(log.Fields{
				"sourceRef": sourceRef,
				"user":      userID,
			}).Info("Duplicate payment delivery ignored")
			result = &PaymentResult{Payment: existing, Duplicate: true}
			return nil
		}

		now := s.now()
		profile, referrer, _, err := lockWithReferrer(ctx, uow, op, userID)
		if err != nil {
			return err
		}

		entry := models.NewPalomaTransaction(userID, palomas, now, s.config.EntryLifetime,
			models.ExternalPaymentMetadata(sourceRef, usd.StringFixed(2)))

		payment := &models.ExternalPayment{
			SourceRef: sourceRef,
			UserID:    userID,
			AmountUSD: usd,
			Palomas:   palomas,
			EntryID:   entry.ID,
			CreatedAt: now,
		}
		inserted, err := uow.ExternalPaymentRepository().Create(ctx, payment)
		if err != nil {
			return fmt.Errorf("failed to record payment: %w", err)
		}
		if !inserted {
			// The retry sees the committed row and reports a duplicate
			return apperror.Conflict(op, errPaymentRecordedConcurrently)
		}

		if err := insertEntry(ctx, uow, entry); err != nil {
			return err
		}

		counters := models.ProfileCounters{PalomasPurchased: palomas, TotalPalomasCollected: palomas}
		if err := uow.ProfileRepository().ApplyCounters(ctx, userID, counters); err != nil {
			return fmt.Errorf("failed to update purchase counters: %w", err)
		}
		profile.PalomasPurchased += palomas
		profile.TotalPalomasCollected += palomas

		if _, err := syncCachedBalance(ctx, uow, profile, now, events.ReasonExternalPayment); err != nil {
			return err
		}

		levelUps, err := applyLevelUps(ctx, uow, s.config, profile, referrer, now)
		if err != nil {
			return err
		}

		uow.EventBus().Publish(events.ExternalPaymentEvent{
			UserID:    userID,
			SourceRef: sourceRef,
			AmountUSD: usd.StringFixed(2),
			Palomas:   palomas,
		})

		log.WithFields(log.Fields{
			"sourceRef": sourceRef,
			"user":      userID,
			"palomas":   palomas,
			"levelUps":  len(levelUps),
		}).Info("External payment credited")

		result = &PaymentResult{Payment: payment, LevelUps: levelUps}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
