package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"palomas/database"
	"palomas/models"
)

const ledgerColumns = `id, user_id, amount, received_at, expires_at, is_expired, source, metadata`

// LedgerRepository implements the LedgerRepository interface over paloma_transactions
type LedgerRepository struct {
	q queryable
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *database.DB) *LedgerRepository {
	return &LedgerRepository{q: db.Pool}
}

// newLedgerRepositoryWithTx creates a new ledger repository with a transaction
func newLedgerRepositoryWithTx(tx queryable) *LedgerRepository {
	return &LedgerRepository{q: tx}
}

func scanEntry(row rowScanner) (*models.PalomaTransaction, error) {
	var (
		entry        models.PalomaTransaction
		source       string
		metadataJSON []byte
	)
	err := row.Scan(
		&entry.ID,
		&entry.UserID,
		&entry.Amount,
		&entry.ReceivedAt,
		&entry.ExpiresAt,
		&entry.IsExpired,
		&source,
		&metadataJSON,
	)
	if err != nil {
		return nil, err
	}
	entry.Source = models.EntryKind(source)
	if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata of entry %s: %w", entry.ID, err)
	}
	return &entry, nil
}

// ActiveBalance sums the user's unflagged entries that have not lapsed at now
func (r *LedgerRepository) ActiveBalance(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)::BIGINT
		FROM paloma_transactions
		WHERE user_id = $1 AND NOT is_expired AND expires_at >= $2
	`

	var balance int64
	if err := r.q.QueryRow(ctx, query, userID, now).Scan(&balance); err != nil {
		return 0, fmt.Errorf("failed to sum active entries for %s: %w", userID, err)
	}
	return balance, nil
}

// ActiveEntriesOrderedByAge returns the user's active entries oldest first
func (r *LedgerRepository) ActiveEntriesOrderedByAge(ctx context.Context, userID uuid.UUID, now time.Time) ([]*models.PalomaTransaction, error) {
	query := `
		SELECT ` + ledgerColumns + `
		FROM paloma_transactions
		WHERE user_id = $1 AND NOT is_expired AND expires_at >= $2
		ORDER BY received_at, id
	`

	rows, err := r.q.Query(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries for %s: %w", userID, err)
	}
	defer rows.Close()

	var entries []*models.PalomaTransaction
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entries: %w", err)
	}
	return entries, nil
}

// Insert stores a new entry. Entries whose metadata does not match their kind are refused.
func (r *LedgerRepository) Insert(ctx context.Context, entry *models.PalomaTransaction) error {
	if err := entry.Metadata.Validate(); err != nil {
		return fmt.Errorf("refusing entry for %s: %w", entry.UserID, err)
	}

	metadataJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal entry metadata: %w", err)
	}

	query := `
		INSERT INTO paloma_transactions
		(id, user_id, amount, received_at, expires_at, is_expired, source, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.q.Exec(ctx, query,
		entry.ID,
		entry.UserID,
		entry.Amount,
		entry.ReceivedAt,
		entry.ExpiresAt,
		entry.IsExpired,
		string(entry.Source),
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert entry for %s: %w", entry.UserID, err)
	}
	return nil
}

// UpdateAmount sets the remaining amount of a partially consumed entry
func (r *LedgerRepository) UpdateAmount(ctx context.Context, id uuid.UUID, amount int64) error {
	result, err := r.q.Exec(ctx, `UPDATE paloma_transactions SET amount = $2 WHERE id = $1`, id, amount)
	if err != nil {
		return fmt.Errorf("failed to update entry %s: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("entry %s not found", id)
	}
	return nil
}

// Delete removes a fully consumed entry
func (r *LedgerRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.q.Exec(ctx, `DELETE FROM paloma_transactions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete entry %s: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("entry %s not found", id)
	}
	return nil
}

// UsersWithLapsedEntries lists users owning unflagged entries that lapsed before now
func (r *LedgerRepository) UsersWithLapsedEntries(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT DISTINCT user_id
		FROM paloma_transactions
		WHERE NOT is_expired AND expires_at < $1
		ORDER BY user_id
		LIMIT $2
	`

	rows, err := r.q.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query lapsed entries: %w", err)
	}
	defer rows.Close()

	var userIDs []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		userIDs = append(userIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate lapsed entries: %w", err)
	}
	return userIDs, nil
}

// FlagExpired marks the user's lapsed entries as expired
func (r *LedgerRepository) FlagExpired(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	query := `
		UPDATE paloma_transactions
		SET is_expired = TRUE
		WHERE user_id = $1 AND NOT is_expired AND expires_at < $2
	`

	result, err := r.q.Exec(ctx, query, userID, now)
	if err != nil {
		return 0, fmt.Errorf("failed to flag expired entries for %s: %w", userID, err)
	}
	return result.RowsAffected(), nil
}
