package testutil

import (
	"time"

	"github.com/google/uuid"

	"palomas/models"
)

// CreateTestProfile creates an active profile with a fresh id
func CreateTestProfile(username string) *models.Profile {
	return &models.Profile{
		ID:       uuid.New(),
		Username: username,
		IsActive: true,
	}
}

// CreateTestReferredProfile creates a profile referred by referrerID
func CreateTestReferredProfile(username string, referrerID uuid.UUID) *models.Profile {
	profile := CreateTestProfile(username)
	profile.ReferredBy = &referrerID
	return profile
}

// CreateTestEntry creates a transfer entry received at receivedAt that expires a calendar year later
func CreateTestEntry(userID uuid.UUID, amount int64, receivedAt time.Time) *models.PalomaTransaction {
	return models.NewPalomaTransaction(userID, amount, receivedAt, 0,
		models.TransferMetadata(uuid.New()))
}

// CreateTestEntryExpiringAt creates an entry whose expiry is set explicitly
func CreateTestEntryExpiringAt(userID uuid.UUID, amount int64, receivedAt, expiresAt time.Time) *models.PalomaTransaction {
	entry := CreateTestEntry(userID, amount, receivedAt)
	entry.ExpiresAt = expiresAt
	return entry
}

// CreateTestEscrow creates a pending escrow
func CreateTestEscrow(senderID, recipientID uuid.UUID, total int64, now time.Time) *models.EggsTransaction {
	return models.NewEggsTransaction(senderID, recipientID, total, "logo design", 7, now)
}
