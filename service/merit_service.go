package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"palomas/apperror"
	"palomas/config"
	"palomas/models"
)

type meritService struct {
	tx     txRunner
	config *config.Config
	now    func() time.Time
}

// NewMeritService creates a new merit service
func NewMeritService(uowFactory UnitOfWorkFactory, cfg *config.Config) MeritService {
	return &meritService{
		tx:     newTxRunner(uowFactory, cfg.MaxTxAttempts),
		config: cfg,
		now:    utcNow,
	}
}

func (s *meritService) AwardMerit(ctx context.Context, actorID, targetID uuid.UUID, reason string) (*MeritResult, error) {
	const op = "merit.award"

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperror.Validation(op, "reason is required")
	}
	if actorID == targetID {
		return nil, apperror.Validation(op, "cannot award a merit to yourself")
	}
	if !s.config.IsAdmin(actorID) {
		return nil, apperror.Validation(op, "only admins may award merits")
	}

	var result *MeritResult
	err := s.tx.run(ctx, op, func(uow UnitOfWork) error {
		now := s.now()
		// The award row references the actor, so the actor is locked in the
		// same ordered statement as the target.
		profile, referrer, locked, err := lockWithReferrer(ctx, uow, op, targetID, actorID)
		if err != nil {
			return err
		}
		if _, ok := locked[actorID]; !ok {
			return apperror.NotFound(op, "actor %s not found", actorID)
		}

		award := &models.MeritAward{ActorID: actorID, TargetID: targetID, Reason: reason}
		if err := uow.MeritRepository().RecordAward(ctx, award); err != nil {
			return fmt.Errorf("failed to record merit: %w", err)
		}
		if err := uow.ProfileRepository().ApplyCounters(ctx, targetID, models.ProfileCounters{MeritCount: 1}); err != nil {
			return fmt.Errorf("failed to increment merit count: %w", err)
		}
		profile.MeritCount++

		levelUps, err := applyLevelUps(ctx, uow, s.config, profile, referrer, now)
		if err != nil {
			return err
		}

		log.WithFields(log.Fields{
			"actor":      actorID,
			"target":     targetID,
			"meritCount": profile.MeritCount,
			"levelUps":   len(levelUps),
		}).Info("Merit awarded")

		result = &MeritResult{Award: award, Profile: profile, LevelUps: levelUps}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *meritService) GetLevelProgress(ctx context.Context, userID uuid.UUID) (*models.LevelProgress, error) {
	const op = "merit.progress"

	maxLevel := s.config.MaxTarotLevel
	if maxLevel <= 0 {
		maxLevel = models.DefaultMaxTarotLevel
	}

	var progress *models.LevelProgress
	err := s.tx.run(ctx, op, func(uow UnitOfWork) error {
		profile, err := uow.ProfileRepository().GetByID(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to get profile: %w", err)
		}
		if profile == nil {
			return apperror.NotFound(op, "user %s not found", userID)
		}

		progress = &models.LevelProgress{
			Level:     profile.TarotLevel,
			Purchased: profile.PalomasPurchased,
			Percent:   100,
			MaxLevel:  true,
		}
		if profile.TarotLevel >= maxLevel {
			return nil
		}

		cost, err := uow.LevelCostRepository().Get(ctx, profile.TarotLevel+1)
		if err != nil {
			return fmt.Errorf("failed to get level cost: %w", err)
		}
		if cost == nil {
			return nil
		}

		progress.NextLevel = cost.TargetLevel
		progress.Cost = cost.Cost
		progress.Percent = models.ProgressPercent(profile.PalomasPurchased, cost.Cost)
		progress.MaxLevel = false
		return nil
	})
	if err != nil {
		return nil, err
	}
	return progress, nil
}
