package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"palomas/apperror"
)

// ExternalPayment records a processed payment so redeliveries of the
// same SourceRef are recognized.
type ExternalPayment struct {
	SourceRef string          `db:"source_ref"`
	UserID    uuid.UUID       `db:"user_id"`
	AmountUSD decimal.Decimal `db:"amount_usd"`
	Palomas   int64           `db:"palomas"`
	EntryID   uuid.UUID       `db:"entry_id"`
	CreatedAt time.Time       `db:"created_at"`
}

// MaxUSD is the largest payment amount_usd NUMERIC(12,2) can hold
var MaxUSD = decimal.RequireFromString("9999999999.99")

// ParseUSD parses a positive dollar amount with at most two decimal places
// and no larger than MaxUSD
func ParseUSD(amount string) (decimal.Decimal, error) {
	const op = "payment.parse_usd"

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero, apperror.Validation(op, "invalid amount %q", amount)
	}
	if !d.IsPositive() {
		return decimal.Zero, apperror.Validation(op, "amount must be positive, got %s", d.String())
	}
	if d.GreaterThan(MaxUSD) {
		return decimal.Zero, apperror.Validation(op, "amount %s exceeds %s", d.String(), MaxUSD.String())
	}
	if !d.Equal(d.Round(2)) {
		return decimal.Zero, apperror.Validation(op, "amount %s has more than two decimal places", d.String())
	}
	return d, nil
}

// PalomasForUSD converts dollars to Palomas at one Paloma per dollar.
// Cents do not buy a fraction of a Paloma.
func PalomasForUSD(amount decimal.Decimal) (int64, error) {
	if amount.GreaterThan(MaxUSD) {
		return 0, apperror.Validation("payment.convert", "amount %s exceeds %s", amount.String(), MaxUSD.String())
	}
	palomas := amount.Floor().IntPart()
	if palomas <= 0 {
		return 0, apperror.Validation("payment.convert", "amount %s is below one Paloma", amount.String())
	}
	return palomas, nil
}
