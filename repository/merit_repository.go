package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"palomas/database"
	"palomas/models"
)

// MeritRepository implements the MeritRepository interface
type MeritRepository struct {
	q queryable
}

// NewMeritRepository creates a new merit repository
func NewMeritRepository(db *database.DB) *MeritRepository {
	return &MeritRepository{q: db.Pool}
}

// newMeritRepositoryWithTx creates a new merit repository with a transaction
func newMeritRepositoryWithTx(tx queryable) *MeritRepository {
	return &MeritRepository{q: tx}
}

// RecordAward stores a merit award
func (r *MeritRepository) RecordAward(ctx context.Context, award *models.MeritAward) error {
	query := `
		INSERT INTO merit_awards (actor_id, target_id, reason)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`

	err := r.q.QueryRow(ctx, query, award.ActorID, award.TargetID, award.Reason).
		Scan(&award.ID, &award.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record merit award: %w", err)
	}
	return nil
}

// RecordLevelUp stores a transformation
func (r *MeritRepository) RecordLevelUp(ctx context.Context, levelUp *models.LevelUp) error {
	query := `
		INSERT INTO level_ups (user_id, from_level, to_level, cost, referrer_id, referral_bonus)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	err := r.q.QueryRow(ctx, query,
		levelUp.UserID,
		levelUp.FromLevel,
		levelUp.ToLevel,
		levelUp.Cost,
		levelUp.ReferrerID,
		levelUp.ReferralBonus,
	).Scan(&levelUp.ID, &levelUp.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record level up: %w", err)
	}
	return nil
}

// ListLevelUps returns the user's transformations, newest first
func (r *MeritRepository) ListLevelUps(ctx context.Context, userID uuid.UUID) ([]*models.LevelUp, error) {
	query := `
		SELECT id, user_id, from_level, to_level, cost, referrer_id, referral_bonus, created_at
		FROM level_ups
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`

	rows, err := r.q.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query level ups: %w", err)
	}
	defer rows.Close()

	var levelUps []*models.LevelUp
	for rows.Next() {
		var l models.LevelUp
		if err := rows.Scan(
			&l.ID,
			&l.UserID,
			&l.FromLevel,
			&l.ToLevel,
			&l.Cost,
			&l.ReferrerID,
			&l.ReferralBonus,
			&l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan level up: %w", err)
		}
		levelUps = append(levelUps, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate level ups: %w", err)
	}
	return levelUps, nil
}
