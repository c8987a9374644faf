package models

import (
	"time"

	"github.com/google/uuid"
)

// PalomaTransaction is one grant of Palomas to a user. Amount is the
// remaining unspent part: debits shrink it and delete the row once it
// reaches zero.
type PalomaTransaction struct {
	ID         uuid.UUID     `db:"id"`
	UserID     uuid.UUID     `db:"user_id"`
	Amount     int64         `db:"amount"`
	ReceivedAt time.Time     `db:"received_at"`
	ExpiresAt  time.Time     `db:"expires_at"`
	IsExpired  bool          `db:"is_expired"`
	Source     EntryKind     `db:"source"`
	Metadata   EntryMetadata `db:"metadata"`
}

// EntryExpiry returns when an entry received at receivedAt stops being spendable.
// A non-positive lifetime means one calendar year, so an entry received on
// March 1st expires on March 1st of the next year even across a leap day.
func EntryExpiry(receivedAt time.Time, lifetime time.Duration) time.Time {
	if lifetime <= 0 {
		return receivedAt.AddDate(1, 0, 0)
	}
	return receivedAt.Add(lifetime)
}

// NewPalomaTransaction builds a fresh credit received at now
func NewPalomaTransaction(userID uuid.UUID, amount int64, now time.Time, lifetime time.Duration, metadata EntryMetadata) *PalomaTransaction {
	return &PalomaTransaction{
		ID:         uuid.New(),
		UserID:     userID,
		Amount:     amount,
		ReceivedAt: now,
		ExpiresAt:  EntryExpiry(now, lifetime),
		Source:     metadata.Kind,
		Metadata:   metadata,
	}
}

// IsActive reports whether the entry still counts toward the spendable
// balance. An entry past expires_at is inactive even if never flagged.
func (t *PalomaTransaction) IsActive(now time.Time) bool {
	return !t.IsExpired && !t.ExpiresAt.Before(now)
}

// BalanceBreakdown partitions the active balance by time to expiry
type BalanceBreakdown struct {
	Expiring30 int64 `json:"expiring_30"`
	Expiring90 int64 `json:"expiring_90"`
	Active     int64 `json:"active"`
	Total      int64 `json:"total"`
}

// ComputeBreakdown buckets active entries by expires_at against now+30d
// and now+90d. Inactive entries are ignored.
func ComputeBreakdown(entries []*PalomaTransaction, now time.Time) BalanceBreakdown {
	in30 := now.Add(30 * 24 * time.Hour)
	in90 := now.Add(90 * 24 * time.Hour)

	var b BalanceBreakdown
	for _, e := range entries {
		if !e.IsActive(now) {
			continue
		}
		switch {
		case !e.ExpiresAt.After(in30):
			b.Expiring30 += e.Amount
		case !e.ExpiresAt.After(in90):
			b.Expiring90 += e.Amount
		default:
			b.Active += e.Amount
		}
		b.Total += e.Amount
	}
	return b
}
