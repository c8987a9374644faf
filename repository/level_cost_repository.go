package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"palomas/database"
	"palomas/models"
)

// LevelCostRepository implements the LevelCostRepository interface
type LevelCostRepository struct {
	q queryable
}

// NewLevelCostRepository creates a new level cost repository
func NewLevelCostRepository(db *database.DB) *LevelCostRepository {
	return &LevelCostRepository{q: db.Pool}
}

// newLevelCostRepositoryWithTx creates a new level cost repository with a transaction
func newLevelCostRepositoryWithTx(tx queryable) *LevelCostRepository {
	return &LevelCostRepository{q: tx}
}

// Get reads the cost of reaching targetLevel
func (r *LevelCostRepository) Get(ctx context.Context, targetLevel int) (*models.LevelCost, error) {
	return r.get(ctx, `SELECT target_level, cost, uses, updated_at FROM level_costs WHERE target_level = $1`, targetLevel)
}

// GetForUpdate reads and row-locks the cost of reaching targetLevel
func (r *LevelCostRepository) GetForUpdate(ctx context.Context, targetLevel int) (*models.LevelCost, error) {
	return r.get(ctx, `SELECT target_level, cost, uses, updated_at FROM level_costs WHERE target_level = $1 FOR UPDATE`, targetLevel)
}

func (r *LevelCostRepository) get(ctx context.Context, query string, targetLevel int) (*models.LevelCost, error) {
	var cost models.LevelCost
	err := r.q.QueryRow(ctx, query, targetLevel).Scan(
		&cost.TargetLevel,
		&cost.Cost,
		&cost.Uses,
		&cost.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cost of level %d: %w", targetLevel, err)
	}
	return &cost, nil
}

// RecordUse counts a transformation into targetLevel and raises its cost by step
func (r *LevelCostRepository) RecordUse(ctx context.Context, targetLevel int, step int64) error {
	query := `
		UPDATE level_costs
		SET uses = uses + 1, cost = cost + $2, updated_at = NOW()
		WHERE target_level = $1
	`

	result, err := r.q.Exec(ctx, query, targetLevel, step)
	if err != nil {
		return fmt.Errorf("failed to record use of level %d: %w", targetLevel, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("level %d not configured", targetLevel)
	}
	return nil
}
