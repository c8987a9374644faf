package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"palomas/apperror"
	"palomas/config"
	"palomas/events"
	"palomas/models"
)

// lockWithReferrer locks the user's profile together with the referrer's and
// any extra profiles in also, all in one id-ordered statement, so a level-up
// bonus can be credited in the same transaction. Every locked profile is
// returned in locked; callers check that the extras exist.
// referred_by never changes after creation, so reading it unlocked is safe.
func lockWithReferrer(ctx context.Context, uow UnitOfWork, op string, userID uuid.UUID, also ...uuid.UUID) (profile, referrer *models.Profile, locked map[uuid.UUID]*models.Profile, err error) {
	peek, err := uow.ProfileRepository().GetByID(ctx, userID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to get profile: %w", err)
	}
	if peek == nil {
		return nil, nil, nil, apperror.NotFound(op, "user %s not found", userID)
	}

	ids := []uuid.UUID{userID}
	if peek.ReferredBy != nil {
		ids = append(ids, *peek.ReferredBy)
	}
	for _, id := range also {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}

	locked, err = lockProfiles(ctx, uow, ids...)
	if err != nil {
		return nil, nil, nil, err
	}
	profile, ok := locked[userID]
	if !ok {
		return nil, nil, nil, apperror.NotFound(op, "user %s not found", userID)
	}

	if profile.ReferredBy != nil {
		referrer = locked[*profile.ReferredBy]
	}
	return profile, referrer, locked, nil
}

// applyLevelUps promotes profile while its purchased Palomas cover the next
// level's cost. Each promotion consumes the cost, bumps the shared level
// counter and pays the referrer's bonus. Both profiles must be locked.
func applyLevelUps(ctx context.Context, uow UnitOfWork, cfg *config.Config, profile, referrer *models.Profile, now time.Time) ([]*models.LevelUp, error) {
	maxLevel := cfg.MaxTarotLevel
	if maxLevel <= 0 {
		maxLevel = models.DefaultMaxTarotLevel
	}

	var levelUps []*models.LevelUp
	for profile.TarotLevel < maxLevel {
		target := profile.TarotLevel + 1

		cost, err := uow.LevelCostRepository().GetForUpdate(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("failed to get level cost: %w", err)
		}
		if cost == nil || profile.PalomasPurchased < cost.Cost {
			break
		}

		counters := models.ProfileCounters{
			TarotLevel:          1,
			PalomasPurchased:    -cost.Cost,
			TransformationCount: 1,
		}
		if err := uow.ProfileRepository().ApplyCounters(ctx, profile.ID, counters); err != nil {
			return nil, fmt.Errorf("failed to apply level up: %w", err)
		}
		profile.TarotLevel++
		profile.PalomasPurchased -= cost.Cost
		profile.TransformationCount++

		if err := uow.LevelCostRepository().RecordUse(ctx, target, cfg.LevelCostStep); err != nil {
			return nil, fmt.Errorf("failed to record level cost use: %w", err)
		}

		levelUp := &models.LevelUp{
			UserID:    profile.ID,
			FromLevel: target - 1,
			ToLevel:   target,
			Cost:      cost.Cost,
		}

		if referrer != nil {
			bonus := models.ReferralBonus(target)
			if err := payReferralBonus(ctx, uow, cfg, referrer, profile.ID, target, bonus, now); err != nil {
				return nil, err
			}
			levelUp.ReferrerID = &referrer.ID
			levelUp.ReferralBonus = bonus
		}

		if err := uow.MeritRepository().RecordLevelUp(ctx, levelUp); err != nil {
			return nil, fmt.Errorf("failed to record level up: %w", err)
		}

		uow.EventBus().Publish(events.LevelUpEvent{
			UserID:        profile.ID,
			FromLevel:     levelUp.FromLevel,
			ToLevel:       levelUp.ToLevel,
			Cost:          levelUp.Cost,
			ReferrerID:    levelUp.ReferrerID,
			ReferralBonus: levelUp.ReferralBonus,
		})

		log.WithFields(log.Fields{
			"user":          profile.ID,
			"level":         target,
			"cost":          cost.Cost,
			"referralBonus": levelUp.ReferralBonus,
		}).Info("Tarot level up")

		levelUps = append(levelUps, levelUp)
	}

	return levelUps, nil
}

func payReferralBonus(ctx context.Context, uow UnitOfWork, cfg *config.Config, referrer *models.Profile, referredID uuid.UUID, level int, bonus int64, now time.Time) error {
	if bonus <= 0 {
		return nil
	}

	meta := models.ReferralBonusMetadata(referredID, level)
	if _, err := creditLedger(ctx, uow, referrer.ID, bonus, now, cfg.EntryLifetime, meta); err != nil {
		return err
	}
	if err := uow.ProfileRepository().ApplyCounters(ctx, referrer.ID, models.ProfileCounters{TotalPalomasCollected: bonus}); err != nil {
		return fmt.Errorf("failed to update referrer total: %w", err)
	}
	referrer.TotalPalomasCollected += bonus

	if _, err := syncCachedBalance(ctx, uow, referrer, now, events.ReasonReferralBonus); err != nil {
		return err
	}
	return nil
}
