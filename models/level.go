package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultMaxTarotLevel is the last card of the major arcana
const DefaultMaxTarotLevel = 21

// LevelCost is the shared, mutable price of reaching TargetLevel
type LevelCost struct {
	TargetLevel int       `db:"target_level"`
	Cost        int64     `db:"cost"`
	Uses        int       `db:"uses"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// LevelUp records one transformation
type LevelUp struct {
	ID            int64      `db:"id"`
	UserID        uuid.UUID  `db:"user_id"`
	FromLevel     int        `db:"from_level"`
	ToLevel       int        `db:"to_level"`
	Cost          int64      `db:"cost"`
	ReferrerID    *uuid.UUID `db:"referrer_id"`
	ReferralBonus int64      `db:"referral_bonus"`
	CreatedAt     time.Time  `db:"created_at"`
}

// MeritAward records an admin granting a merit
type MeritAward struct {
	ID        int64     `db:"id"`
	ActorID   uuid.UUID `db:"actor_id"`
	TargetID  uuid.UUID `db:"target_id"`
	Reason    string    `db:"reason"`
	CreatedAt time.Time `db:"created_at"`
}

// LevelProgress describes how far a user is toward the next level
type LevelProgress struct {
	Level     int   `json:"level"`
	NextLevel int   `json:"next_level"`
	Cost      int64 `json:"cost"`
	Purchased int64 `json:"purchased"`
	Percent   int   `json:"percent"`
	MaxLevel  bool  `json:"max_level"`
}

// ReferralBonus returns the Palomas a referrer earns when a referred user
// reaches targetLevel
func ReferralBonus(targetLevel int) int64 {
	switch {
	case targetLevel <= 0:
		return 0
	case targetLevel <= 7:
		return 10
	case targetLevel <= 14:
		return 25
	default:
		return 50
	}
}

// ProgressPercent is purchased/cost as a whole percentage, capped at 100
func ProgressPercent(purchased, cost int64) int {
	if cost <= 0 || purchased >= cost {
		return 100
	}
	if purchased <= 0 {
		return 0
	}
	return int(purchased * 100 / cost)
}
