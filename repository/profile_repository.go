package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"palomas/database"
	"palomas/models"
	"palomas/service"
)

const profileColumns = `
	id, username, dov_balance, total_palomas_collected, eggs_pending_sent,
	eggs_pending_received, tarot_level, merit_count, cup_count, palomas_purchased,
	transformation_count, referred_by, is_active, created_at, updated_at`

// ProfileRepository implements the ProfileRepository interface
type ProfileRepository struct {
	q queryable
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *database.DB) *ProfileRepository {
	return &ProfileRepository{q: db.Pool}
}

// newProfileRepositoryWithTx creates a new profile repository with a transaction
func newProfileRepositoryWithTx(tx queryable) *ProfileRepository {
	return &ProfileRepository{q: tx}
}

func scanProfile(row rowScanner) (*models.Profile, error) {
	var p models.Profile
	err := row.Scan(
		&p.ID,
		&p.Username,
		&p.DovBalance,
		&p.TotalPalomasCollected,
		&p.EggsPendingSent,
		&p.EggsPendingReceived,
		&p.TarotLevel,
		&p.MeritCount,
		&p.CupCount,
		&p.PalomasPurchased,
		&p.TransformationCount,
		&p.ReferredBy,
		&p.IsActive,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByID retrieves a profile by id
func (r *ProfileRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`

	profile, err := scanProfile(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile %s: %w", id, err)
	}
	return profile, nil
}

// GetByUsername retrieves a profile by its username
func (r *ProfileRepository) GetByUsername(ctx context.Context, username string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE username = $1`

	profile, err := scanProfile(r.q.QueryRow(ctx, query, username))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile by username %s: %w", username, err)
	}
	return profile, nil
}

// Create inserts a new profile. Conflicts on id or username insert nothing
// and return service.ErrProfileConflict without aborting the transaction.
func (r *ProfileRepository) Create(ctx context.Context, profile *models.Profile) error {
	query := `
		INSERT INTO profiles (id, username, referred_by, is_active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING
		RETURNING created_at, updated_at
	`

	err := r.q.QueryRow(ctx, query, profile.ID, profile.Username, profile.ReferredBy, profile.IsActive).
		Scan(&profile.CreatedAt, &profile.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return service.ErrProfileConflict
	}
	if err != nil {
		return fmt.Errorf("failed to create profile %s: %w", profile.ID, err)
	}
	return nil
}

// LockForUpdate locks the profiles in ascending id order. Callers locking
// several users therefore always acquire row locks in the same global order.
func (r *ProfileRepository) LockForUpdate(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]*models.Profile, error) {
	unique := slices.Clone(ids)
	slices.SortFunc(unique, func(a, b uuid.UUID) int {
		return compareUUID(a, b)
	})
	unique = slices.Compact(unique)

	query := `
		SELECT ` + profileColumns + `
		FROM profiles
		WHERE id = ANY($1::uuid[])
		ORDER BY id
		FOR UPDATE
	`

	rows, err := r.q.Query(ctx, query, unique)
	if err != nil {
		return nil, fmt.Errorf("failed to lock profiles: %w", err)
	}
	defer rows.Close()

	profiles := make(map[uuid.UUID]*models.Profile, len(unique))
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles[profile.ID] = profile
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to lock profiles: %w", err)
	}

	return profiles, nil
}

// SetDovBalance overwrites the cached spendable balance
func (r *ProfileRepository) SetDovBalance(ctx context.Context, id uuid.UUID, balance int64) error {
	query := `
		UPDATE profiles
		SET dov_balance = $2, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.q.Exec(ctx, query, id, balance)
	if err != nil {
		return fmt.Errorf("failed to set balance for profile %s: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("profile %s not found", id)
	}
	return nil
}

// ApplyCounters adds signed deltas to the counter columns. CHECK constraints
// reject any change that would make a counter negative.
func (r *ProfileRepository) ApplyCounters(ctx context.Context, id uuid.UUID, c models.ProfileCounters) error {
	if c.IsZero() {
		return nil
	}

	query := `
		UPDATE profiles
		SET total_palomas_collected = total_palomas_collected + $2,
		    eggs_pending_sent = eggs_pending_sent + $3,
		    eggs_pending_received = eggs_pending_received + $4,
		    palomas_purchased = palomas_purchased + $5,
		    merit_count = merit_count + $6,
		    tarot_level = tarot_level + $7,
		    transformation_count = transformation_count + $8,
		    updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.q.Exec(ctx, query, id,
		c.TotalPalomasCollected,
		c.EggsPendingSent,
		c.EggsPendingReceived,
		c.PalomasPurchased,
		c.MeritCount,
		c.TarotLevel,
		c.TransformationCount,
	)
	if err != nil {
		return fmt.Errorf("failed to update counters for profile %s: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("profile %s not found", id)
	}
	return nil
}

// ListIDs returns every profile id in ascending order
func (r *ProfileRepository) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.q.Query(ctx, `SELECT id FROM profiles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan profile id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profiles: %w", err)
	}
	return ids, nil
}

// compareUUID orders ids the way Postgres orders the uuid type
func compareUUID(a, b uuid.UUID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
