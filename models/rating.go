package models

import (
	"time"

	"gorm.io/datatypes"
)

// PlayerRating is the live rating state of a player (one row per player).
// Concurrent writers must hold the row lock (SELECT ... FOR UPDATE).
type PlayerRating struct {
	PlayerID      string `gorm:"primaryKey;type:varchar(64)" json:"player_id"`
	CurrentRating int    `gorm:"not null;index" json:"current_rating"`
	BestRating    int    `gorm:"not null" json:"best_rating"`
	LowestRating  int    `gorm:"not null" json:"lowest_rating"`

	// Activity
	MatchesPlayed int64      `gorm:"not null;default:0" json:"matches_played"` // never decremented
	LastMatchAt   *time.Time `gorm:"index" json:"last_match_at,omitempty"`

	// Weekly streak: consecutive weeks with a finalized match
	CurrentStreak   int        `gorm:"not null;default:0" json:"current_streak"`
	BestStreak      int        `gorm:"not null;default:0" json:"best_streak"`
	StreakWeekStart *time.Time `json:"streak_week_start,omitempty"`

	IsActive bool `gorm:"not null;index" json:"is_active"` // mirrored from club membership

	LedgerVersion int64 `gorm:"not null;default:0" json:"ledger_version"` // sequence of the last history entry

	Timestamps
}

// HistoryReason tags every ledger entry.
type HistoryReason string

const (
	ReasonMatchResult     HistoryReason = "match_result"
	ReasonInactivityDecay HistoryReason = "inactivity_decay"
	ReasonAdminAdjustment HistoryReason = "admin_adjustment"
	ReasonReversal        HistoryReason = "reversal"
)

// RatingHistory is the append-only ledger. Entries are never updated or deleted;
// a contested result is undone with a compensating "reversal" entry.
type RatingHistory struct {
	ID           string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	PlayerID     string         `gorm:"uniqueIndex:idx_history_player_seq,priority:1;not null" json:"player_id"`
	Sequence     int64          `gorm:"uniqueIndex:idx_history_player_seq,priority:2;not null" json:"sequence"`
	MatchID      *string        `gorm:"index" json:"match_id,omitempty"`
	RatingBefore int            `gorm:"not null" json:"rating_before"`
	RatingAfter  int            `gorm:"not null" json:"rating_after"`
	Delta        int            `gorm:"not null" json:"delta"`
	Reason       HistoryReason  `gorm:"type:varchar(32);index;not null" json:"reason"`
	Metadata     datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt    time.Time      `gorm:"index" json:"created_at"`
}

func (RatingHistory) TableName() string {
	return "rating_history"
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
