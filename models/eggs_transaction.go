package models

import (
	"time"

	"github.com/google/uuid"
)

// EscrowStatus represents the state of an eggs transaction
type EscrowStatus string

const (
	EscrowStatusPending      EscrowStatus = "pending"
	EscrowStatusWorkUploaded EscrowStatus = "work_uploaded"
	EscrowStatusApproved     EscrowStatus = "approved"
	EscrowStatusDisputed     EscrowStatus = "disputed"
	EscrowStatusRefunded     EscrowStatus = "refunded"
)

// DisputeResolution is the outcome chosen when a facilitator closes a dispute
type DisputeResolution string

const (
	ResolutionRelease DisputeResolution = "release"
	ResolutionRefund  DisputeResolution = "refund"
)

// IsValid checks the resolution is one of the known outcomes
func (r DisputeResolution) IsValid() bool {
	return r == ResolutionRelease || r == ResolutionRefund
}

// EggsTransaction is a conditional transfer: HatchedAmount is released to the
// recipient on creation and PendingAmount is held until approval.
type EggsTransaction struct {
	ID                   uuid.UUID          `db:"id"`
	SenderID             uuid.UUID          `db:"sender_id"`
	RecipientID          uuid.UUID          `db:"recipient_id"`
	TotalAmount          int64              `db:"total_amount"`
	HatchedAmount        int64              `db:"hatched_amount"`
	PendingAmount        int64              `db:"pending_amount"`
	Status               EscrowStatus       `db:"status"`
	WorkDescription      string             `db:"work_description"`
	DeliveryWindowDays   int                `db:"delivery_window_days"`
	ExpectedDeliveryDate time.Time          `db:"expected_delivery_date"`
	WorkDeliveryURL      *string            `db:"work_delivery_url"`
	DisputeNotes         *string            `db:"dispute_notes"`
	Resolution           *DisputeResolution `db:"resolution"`
	ResolvedBy           *uuid.UUID         `db:"resolved_by"`
	SourceTransactionIDs []uuid.UUID        `db:"source_transaction_ids"`
	CreatedAt            time.Time          `db:"created_at"`
	WorkUploadedAt       *time.Time         `db:"work_uploaded_at"`
	ReviewedAt           *time.Time         `db:"reviewed_at"`
	DisputeOpenedAt      *time.Time         `db:"dispute_opened_at"`
	ResolvedAt           *time.Time         `db:"resolved_at"`
}

// SplitEggs returns the immediately released and held parts of total.
// hatched is floor(total/2) and hatched + pending == total.
func SplitEggs(total int64) (hatched, pending int64) {
	hatched = total / 2
	pending = total - hatched
	return hatched, pending
}

// NewEggsTransaction builds a pending escrow created at now
func NewEggsTransaction(senderID, recipientID uuid.UUID, total int64, description string, windowDays int, now time.Time) *EggsTransaction {
	hatched, pending := SplitEggs(total)
	return &EggsTransaction{
		ID:                   uuid.New(),
		SenderID:             senderID,
		RecipientID:          recipientID,
		TotalAmount:          total,
		HatchedAmount:        hatched,
		PendingAmount:        pending,
		Status:               EscrowStatusPending,
		WorkDescription:      description,
		DeliveryWindowDays:   windowDays,
		ExpectedDeliveryDate: now.AddDate(0, 0, windowDays),
		CreatedAt:            now,
	}
}

// IsParticipant checks if a user is the sender or recipient
func (e *EggsTransaction) IsParticipant(userID uuid.UUID) bool {
	return e.SenderID == userID || e.RecipientID == userID
}

// CanUploadWork checks if the given user may deliver work
func (e *EggsTransaction) CanUploadWork(userID uuid.UUID) bool {
	return e.Status == EscrowStatusPending && e.RecipientID == userID
}

// CanApprove checks if the given user may release the held amount
func (e *EggsTransaction) CanApprove(userID uuid.UUID) bool {
	return e.Status == EscrowStatusWorkUploaded && e.SenderID == userID
}

// CanDispute checks if the given user may dispute the delivered work
func (e *EggsTransaction) CanDispute(userID uuid.UUID) bool {
	return e.Status == EscrowStatusWorkUploaded && e.SenderID == userID
}

// CanBeResolved checks if the escrow is awaiting manual resolution
func (e *EggsTransaction) CanBeResolved() bool {
	return e.Status == EscrowStatusDisputed
}

// IsOpen checks if the escrow is still waiting on delivery or review
func (e *EggsTransaction) IsOpen() bool {
	return e.Status == EscrowStatusPending || e.Status == EscrowStatusWorkUploaded
}

// IsTerminal checks if no further transitions are possible
func (e *EggsTransaction) IsTerminal() bool {
	return e.Status == EscrowStatusApproved || e.Status == EscrowStatusRefunded
}

// IsOverdue is advisory only; nothing transitions on it
func (e *EggsTransaction) IsOverdue(now time.Time) bool {
	return e.IsOpen() && now.After(e.ExpectedDeliveryDate)
}
