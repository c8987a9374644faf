package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"palomas/database"
	"palomas/models"
)

const escrowColumns = `
	id, sender_id, recipient_id, total_amount, hatched_amount, pending_amount,
	status, work_description, delivery_window_days, expected_delivery_date,
	work_delivery_url, dispute_notes, resolution, resolved_by, source_transaction_ids,
	created_at, work_uploaded_at, reviewed_at, dispute_opened_at, resolved_at`

// EscrowRepository implements the EscrowRepository interface over eggs_transactions
type EscrowRepository struct {
	q queryable
}

// NewEscrowRepository creates a new escrow repository
func NewEscrowRepository(db *database.DB) *EscrowRepository {
	return &EscrowRepository{q: db.Pool}
}

// newEscrowRepositoryWithTx creates a new escrow repository with a transaction
func newEscrowRepositoryWithTx(tx queryable) *EscrowRepository {
	return &EscrowRepository{q: tx}
}

func scanEscrow(row rowScanner) (*models.EggsTransaction, error) {
	var (
		e          models.EggsTransaction
		status     string
		resolution *string
	)
	err := row.Scan(
		&e.ID,
		&e.SenderID,
		&e.RecipientID,
		&e.TotalAmount,
		&e.HatchedAmount,
		&e.PendingAmount,
		&status,
		&e.WorkDescription,
		&e.DeliveryWindowDays,
		&e.ExpectedDeliveryDate,
		&e.WorkDeliveryURL,
		&e.DisputeNotes,
		&resolution,
		&e.ResolvedBy,
		&e.SourceTransactionIDs,
		&e.CreatedAt,
		&e.WorkUploadedAt,
		&e.ReviewedAt,
		&e.DisputeOpenedAt,
		&e.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Status = models.EscrowStatus(status)
	if resolution != nil {
		r := models.DisputeResolution(*resolution)
		e.Resolution = &r
	}
	return &e, nil
}

func resolutionValue(r *models.DisputeResolution) *string {
	if r == nil {
		return nil
	}
	s := string(*r)
	return &s
}

// Create inserts a new eggs transaction
func (r *EscrowRepository) Create(ctx context.Context, escrow *models.EggsTransaction) error {
	sourceIDs := escrow.SourceTransactionIDs
	if sourceIDs == nil {
		sourceIDs = []uuid.UUID{}
	}

	query := `
		INSERT INTO eggs_transactions
		(id, sender_id, recipient_id, total_amount, hatched_amount, pending_amount,
		 status, work_description, delivery_window_days, expected_delivery_date,
		 source_transaction_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.q.Exec(ctx, query,
		escrow.ID,
		escrow.SenderID,
		escrow.RecipientID,
		escrow.TotalAmount,
		escrow.HatchedAmount,
		escrow.PendingAmount,
		string(escrow.Status),
		escrow.WorkDescription,
		escrow.DeliveryWindowDays,
		escrow.ExpectedDeliveryDate,
		sourceIDs,
		escrow.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create escrow: %w", err)
	}
	return nil
}

// GetByID retrieves an eggs transaction
func (r *EscrowRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.EggsTransaction, error) {
	return r.get(ctx, `SELECT `+escrowColumns+` FROM eggs_transactions WHERE id = $1`, id)
}

// GetByIDForUpdate retrieves and row-locks an eggs transaction
func (r *EscrowRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.EggsTransaction, error) {
	return r.get(ctx, `SELECT `+escrowColumns+` FROM eggs_transactions WHERE id = $1 FOR UPDATE`, id)
}

func (r *EscrowRepository) get(ctx context.Context, query string, id uuid.UUID) (*models.EggsTransaction, error) {
	escrow, err := scanEscrow(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get escrow %s: %w", id, err)
	}
	return escrow, nil
}

// Update persists the mutable lifecycle fields
func (r *EscrowRepository) Update(ctx context.Context, escrow *models.EggsTransaction) error {
	query := `
		UPDATE eggs_transactions
		SET status = $2,
		    work_delivery_url = $3,
		    dispute_notes = $4,
		    resolution = $5,
		    resolved_by = $6,
		    work_uploaded_at = $7,
		    reviewed_at = $8,
		    dispute_opened_at = $9,
		    resolved_at = $10
		WHERE id = $1
	`

	result, err := r.q.Exec(ctx, query,
		escrow.ID,
		string(escrow.Status),
		escrow.WorkDeliveryURL,
		escrow.DisputeNotes,
		resolutionValue(escrow.Resolution),
		escrow.ResolvedBy,
		escrow.WorkUploadedAt,
		escrow.ReviewedAt,
		escrow.DisputeOpenedAt,
		escrow.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update escrow %s: %w", escrow.ID, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("escrow %s not found", escrow.ID)
	}
	return nil
}

// ListByUser returns escrows the user sent or received, newest first
func (r *EscrowRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.EggsTransaction, error) {
	query := `
		SELECT ` + escrowColumns + `
		FROM eggs_transactions
		WHERE sender_id = $1 OR recipient_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`
	return r.list(ctx, query, userID, limit)
}

// ListOverdue returns open escrows whose expected delivery date has passed
func (r *EscrowRepository) ListOverdue(ctx context.Context, now time.Time) ([]*models.EggsTransaction, error) {
	query := `
		SELECT ` + escrowColumns + `
		FROM eggs_transactions
		WHERE status IN ('pending', 'work_uploaded') AND expected_delivery_date < $1
		ORDER BY expected_delivery_date
	`
	return r.list(ctx, query, now)
}

func (r *EscrowRepository) list(ctx context.Context, query string, args ...any) ([]*models.EggsTransaction, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query escrows: %w", err)
	}
	defer rows.Close()

	var escrows []*models.EggsTransaction
	for rows.Next() {
		escrow, err := scanEscrow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan escrow: %w", err)
		}
		escrows = append(escrows, escrow)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate escrows: %w", err)
	}
	return escrows, nil
}
