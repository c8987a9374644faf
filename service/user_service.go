package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"palomas/apperror"
	"palomas/config"
	"palomas/models"
)

// ErrProfileConflict is returned by ProfileRepository.Create when the id or
// username is already taken
var ErrProfileConflict = errors.New("profile id or username already exists")

const maxUsernameAttempts = 8

// userService implements the UserService interface
type userService struct {
	tx          txRunner
	now         func() time.Time
	newUsername func() (string, error)
}

// NewUserService creates a new user service
func NewUserService(uowFactory UnitOfWorkFactory, cfg *config.Config) UserService {
	return &userService{
		tx:          newTxRunner(uowFactory, cfg.MaxTxAttempts),
		now:         utcNow,
		newUsername: models.GenerateUsername,
	}
}

// GetOrCreateProfile retrieves an existing profile or creates one with a
// generated username. referredByUsername is only used on creation.
func (s *userService) GetOrCreateProfile(ctx context.Context, userID uuid.UUID, referredByUsername string) (*models.Profile, error) {
	const op = "user.get_or_create"

	if userID == uuid.Nil {
		return nil, apperror.Validation(op, "user id is required")
	}

	var profile *models.Profile
	err := s.tx.run(ctx, op, func(uow UnitOfWork) error {
		repo := uow.ProfileRepository()

		existing, err := repo.GetByID(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to check existing profile: %w", err)
		}
		if existing != nil {
			profile = existing
			return nil
		}

		var referredBy *uuid.UUID
		if referredByUsername != "" {
			referrer, err := repo.GetByUsername(ctx, models.NormalizeUsername(referredByUsername))
			if err != nil {
				return fmt.Errorf("failed to look up referrer: %w", err)
			}
			if referrer == nil {
				return apperror.NotFound(op, "referrer %s not found", models.NormalizeUsername(referredByUsername))
			}
			referredBy = &referrer.ID
		}

		now := s.now()
		for attempt := 0; attempt < maxUsernameAttempts; attempt++ {
			username, err := s.newUsername()
			if err != nil {
				return err
			}

			candidate := &models.Profile{
				ID:         userID,
				Username:   username,
				ReferredBy: referredBy,
				IsActive:   true,
				CreatedAt:  now,
				UpdatedAt:  now,
			}

			err = repo.Create(ctx, candidate)
			if err == nil {
				log.WithFields(log.Fields{
					"user":     userID,
					"username": username,
					"referred": referredBy != nil,
				}).Info("Profile created")
				profile = candidate
				return nil
			}
			if !errors.Is(err, ErrProfileConflict) {
				return fmt.Errorf("failed to create profile: %w", err)
			}

			// Either the username collided or a concurrent request created this user
			existing, err := repo.GetByID(ctx, userID)
			if err != nil {
				return fmt.Errorf("failed to check existing profile: %w", err)
			}
			if existing != nil {
				profile = existing
				return nil
			}
		}

		return apperror.Conflict(op, fmt.Errorf("no free username after %d attempts", maxUsernameAttempts))
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

func (s *userService) GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	const op = "user.get"

	var profile *models.Profile
	err := s.tx.run(ctx, op, func(uow UnitOfWork) error {
		var err error
		profile, err = uow.ProfileRepository().GetByID(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to get profile: %w", err)
		}
		if profile == nil {
			return apperror.NotFound(op, "user %s not found", userID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

func (s *userService) GetProfileByUsername(ctx context.Context, username string) (*models.Profile, error) {
	const op = "user.get_by_username"

	username = models.NormalizeUsername(username)
	if !models.IsValidUsername(username) {
		return nil, apperror.Validation(op, "username must be three letters followed by three digits")
	}

	var profile *models.Profile
	err := s.tx.run(ctx, op, func(uow UnitOfWork) error {
		var err error
		profile, err = uow.ProfileRepository().GetByUsername(ctx, username)
		if err != nil {
			return fmt.Errorf("failed to get profile: %w", err)
		}
		if profile == nil {
			return apperror.NotFound(op, "user %s not found", username)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}
