package models

import (
	"github.com/google/uuid"

	"palomas/apperror"
)

// EntryKind identifies why a ledger entry was credited
type EntryKind string

const (
	EntryKindTransfer           EntryKind = "transfer"
	EntryKindEscrowHatch        EntryKind = "escrow_hatch"
	EntryKindEscrowApproved     EntryKind = "escrow_approved"
	EntryKindEscrowRefund       EntryKind = "escrow_refund"
	EntryKindExternalPayment    EntryKind = "external_payment"
	EntryKindMeritReferralBonus EntryKind = "merit_referral_bonus"
)

// EntryMetadata is the audit payload stored with each ledger entry.
// Which fields are set depends on Kind; see Validate.
type EntryMetadata struct {
	Kind          EntryKind  `json:"kind"`
	SenderID      *uuid.UUID `json:"sender_id,omitempty"`
	EscrowID      *uuid.UUID `json:"escrow_id,omitempty"`
	SourceRef     string     `json:"source_ref,omitempty"`
	AmountUSD     string     `json:"amount_usd,omitempty"`
	LevelUpUserID *uuid.UUID `json:"level_up_user_id,omitempty"`
	TargetLevel   int        `json:"target_level,omitempty"`
}

func TransferMetadata(senderID uuid.UUID) EntryMetadata {
	return EntryMetadata{Kind: EntryKindTransfer, SenderID: &senderID}
}

func EscrowHatchMetadata(senderID, escrowID uuid.UUID) EntryMetadata {
	return EntryMetadata{Kind: EntryKindEscrowHatch, SenderID: &senderID, EscrowID: &escrowID}
}

func EscrowApprovedMetadata(senderID, escrowID uuid.UUID) EntryMetadata {
	return EntryMetadata{Kind: EntryKindEscrowApproved, SenderID: &senderID, EscrowID: &escrowID}
}

func EscrowRefundMetadata(escrowID uuid.UUID) EntryMetadata {
	return EntryMetadata{Kind: EntryKindEscrowRefund, EscrowID: &escrowID}
}

func ExternalPaymentMetadata(sourceRef, amountUSD string) EntryMetadata {
	return EntryMetadata{Kind: EntryKindExternalPayment, SourceRef: sourceRef, AmountUSD: amountUSD}
}

func ReferralBonusMetadata(levelUpUserID uuid.UUID, targetLevel int) EntryMetadata {
	return EntryMetadata{Kind: EntryKindMeritReferralBonus, LevelUpUserID: &levelUpUserID, TargetLevel: targetLevel}
}

// Validate checks that the fields required by Kind are present
func (m EntryMetadata) Validate() error {
	const op = "metadata.validate"

	switch m.Kind {
	case EntryKindTransfer:
		if m.SenderID == nil {
			return apperror.Validation(op, "transfer metadata requires sender_id")
		}
	case EntryKindEscrowHatch, EntryKindEscrowApproved:
		if m.SenderID == nil || m.EscrowID == nil {
			return apperror.Validation(op, "%s metadata requires sender_id and escrow_id", m.Kind)
		}
	case EntryKindEscrowRefund:
		if m.EscrowID == nil {
			return apperror.Validation(op, "escrow_refund metadata requires escrow_id")
		}
	case EntryKindExternalPayment:
		if m.SourceRef == "" || m.AmountUSD == "" {
			return apperror.Validation(op, "external_payment metadata requires source_ref and amount_usd")
		}
	case EntryKindMeritReferralBonus:
		if m.LevelUpUserID == nil || m.TargetLevel <= 0 {
			return apperror.Validation(op, "merit_referral_bonus metadata requires level_up_user_id and target_level")
		}
	default:
		return apperror.Validation(op, "unknown entry kind %q", m.Kind)
	}
	return nil
}
