package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"palomas/database"
	"palomas/models"
)

// ExternalPaymentRepository implements the ExternalPaymentRepository interface
type ExternalPaymentRepository struct {
	q queryable
}

// NewExternalPaymentRepository creates a new external payment repository
func NewExternalPaymentRepository(db *database.DB) *ExternalPaymentRepository {
	return &ExternalPaymentRepository{q: db.Pool}
}

// newExternalPaymentRepositoryWithTx creates a new external payment repository with a transaction
func newExternalPaymentRepositoryWithTx(tx queryable) *ExternalPaymentRepository {
	return &ExternalPaymentRepository{q: tx}
}

// GetBySourceRef retrieves a processed payment by its provider reference
func (r *ExternalPaymentRepository) GetBySourceRef(ctx context.Context, sourceRef string) (*models.ExternalPayment, error) {
	query := `
		SELECT source_ref, user_id, amount_usd::TEXT, palomas, entry_id, created_at
		FROM external_payments
		WHERE source_ref = $1
	`

	var (
		payment   models.ExternalPayment
		amountUSD string
	)
	err := r.q.QueryRow(ctx, query, sourceRef).Scan(
		&payment.SourceRef,
		&payment.UserID,
		&amountUSD,
		&payment.Palomas,
		&payment.EntryID,
		&payment.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment %s: %w", sourceRef, err)
	}

	payment.AmountUSD, err = decimal.NewFromString(amountUSD)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount of payment %s: %w", sourceRef, err)
	}
	return &payment, nil
}

// Create records a payment. It returns false without error when the
// source reference is already recorded.
func (r *ExternalPaymentRepository) Create(ctx context.Context, payment *models.ExternalPayment) (bool, error) {
	query := `
		INSERT INTO external_payments (source_ref, user_id, amount_usd, palomas, entry_id)
		VALUES ($1, $2, $3::NUMERIC, $4, $5)
		ON CONFLICT (source_ref) DO NOTHING
		RETURNING created_at
	`

	err := r.q.QueryRow(ctx, query,
		payment.SourceRef,
		payment.UserID,
		payment.AmountUSD.StringFixed(2),
		payment.Palomas,
		payment.EntryID,
	).Scan(&payment.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to record payment %s: %w", payment.SourceRef, err)
	}
	return true, nil
}
