package models

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Profile is a user's economy state. DovBalance caches the sum of the user's
// active ledger entries; TotalPalomasCollected is a lifetime counter and is
// never reduced by spending.
type Profile struct {
	ID                    uuid.UUID  `db:"id"`
	Username              string     `db:"username"`
	DovBalance            int64      `db:"dov_balance"`
	TotalPalomasCollected int64      `db:"total_palomas_collected"`
	EggsPendingSent       int64      `db:"eggs_pending_sent"`
	EggsPendingReceived   int64      `db:"eggs_pending_received"`
	TarotLevel            int        `db:"tarot_level"`
	MeritCount            int        `db:"merit_count"`
	CupCount              int        `db:"cup_count"`
	PalomasPurchased      int64      `db:"palomas_purchased"`
	TransformationCount   int        `db:"transformation_count"`
	ReferredBy            *uuid.UUID `db:"referred_by"`
	IsActive              bool       `db:"is_active"`
	CreatedAt             time.Time  `db:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at"`
}

// ProfileCounters holds signed deltas for the non-ledger profile fields
type ProfileCounters struct {
	TotalPalomasCollected int64
	EggsPendingSent       int64
	EggsPendingReceived   int64
	PalomasPurchased      int64
	MeritCount            int
	TarotLevel            int
	TransformationCount   int
}

// IsZero reports whether applying the counters would change nothing
func (c ProfileCounters) IsZero() bool {
	return c == ProfileCounters{}
}

var usernamePattern = regexp.MustCompile(`^[A-Z]{3}[0-9]{3}$`)

const (
	usernameLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	usernameDigits  = "0123456789"
)

// NormalizeUsername trims and upper-cases a username for lookup
func NormalizeUsername(username string) string {
	return strings.ToUpper(strings.TrimSpace(username))
}

// IsValidUsername checks the three letters plus three digits format
func IsValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// GenerateUsername returns a random username such as "QKD402"
func GenerateUsername() (string, error) {
	buf := make([]byte, 0, 6)
	for i := 0; i < 3; i++ {
		c, err := randomChar(usernameLetters)
		if err != nil {
			return "", err
		}
		buf = append(buf, c)
	}
	for i := 0; i < 3; i++ {
		c, err := randomChar(usernameDigits)
		if err != nil {
			return "", err
		}
		buf = append(buf, c)
	}
	return string(buf), nil
}

func randomChar(alphabet string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
	if err != nil {
		return 0, fmt.Errorf("failed to read random source: %w", err)
	}
	return alphabet[n.Int64()], nil
}
