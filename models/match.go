package models

import "time"

// MatchStatus is the validation state of a reported result.
type MatchStatus string

const (
	MatchStatusPending       MatchStatus = "pending_confirmation"
	MatchStatusConfirmed     MatchStatus = "confirmed"
	MatchStatusAutoValidated MatchStatus = "auto_validated"
	MatchStatusContested     MatchStatus = "contested"
	MatchStatusResolved      MatchStatus = "resolved"
)

// IsFinal reports whether the result is authoritative and its rating is in effect.
func (s MatchStatus) IsFinal() bool {
	return s == MatchStatusConfirmed || s == MatchStatusAutoValidated
}

// MatchFormat is the scoring format agreed by the players.
type MatchFormat string

const (
	FormatOneSet               MatchFormat = "one_set"
	FormatTwoSets              MatchFormat = "two_sets"
	FormatTwoSetsSuperTiebreak MatchFormat = "two_sets_super_tiebreak"
	FormatThreeSets            MatchFormat = "three_sets"
	FormatSuperTiebreak        MatchFormat = "super_tiebreak"
)

var MatchFormats = []MatchFormat{
	FormatOneSet,
	FormatTwoSets,
	FormatTwoSetsSuperTiebreak,
	FormatThreeSets,
	FormatSuperTiebreak,
}

func (f MatchFormat) Valid() bool {
	for _, known := range MatchFormats {
		if f == known {
			return true
		}
	}
	return false
}

// MatchResolution records the admin decision on a contested match.
type MatchResolution string

const (
	ResolutionNone         MatchResolution = ""
	ResolutionReinstated   MatchResolution = "reinstated"
	ResolutionKeptReverted MatchResolution = "kept_reverted"
)

// Match is one self-reported result. Player1 is always the reporter and Score is
// written from Player1's point of view.
// Rows are never deleted: they back the contestation window and the audit trail.
type Match struct {
	ID         string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ClubID     string `gorm:"index;not null" json:"club_id"`
	Player1ID  string `gorm:"index;not null" json:"player1_id"`
	Player2ID  string `gorm:"index;not null" json:"player2_id"`
	ReportedBy string `gorm:"not null" json:"reported_by"`
	WinnerID   string `gorm:"not null" json:"winner_id"`

	Score    string      `gorm:"type:varchar(64);not null" json:"score"` // canonical, e.g. "6-4 3-6 10-7"
	Format   MatchFormat `gorm:"type:varchar(32);not null" json:"format"`
	PlayedAt time.Time   `gorm:"index;not null" json:"played_at"`

	Status         MatchStatus `gorm:"type:varchar(32);index;not null" json:"status"`
	ReminderSentAt *time.Time  `json:"reminder_sent_at,omitempty"`
	AutoValidateAt time.Time   `gorm:"index;not null" json:"auto_validate_at"`
	FinalizedAt    *time.Time  `json:"finalized_at,omitempty"`
	RevertedAt     *time.Time  `json:"reverted_at,omitempty"`

	// Admin resolution of a contested match
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
	ResolvedBy *string         `json:"resolved_by,omitempty"`
	Resolution MatchResolution `gorm:"type:varchar(16);default:''" json:"resolution,omitempty"`

	// Set in the same UPDATE that finalizes the match
	RatingApplied bool `gorm:"not null;default:false" json:"rating_applied"`

	// Snapshot at finalization, never rewritten
	Player1RatingBefore *int `json:"player1_rating_before,omitempty"`
	Player1RatingAfter  *int `json:"player1_rating_after,omitempty"`
	Player2RatingBefore *int `json:"player2_rating_before,omitempty"`
	Player2RatingAfter  *int `json:"player2_rating_after,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Opponent returns the other participant, or "" when playerID did not play.
func (m *Match) Opponent(playerID string) string {
	switch playerID {
	case m.Player1ID:
		return m.Player2ID
	case m.Player2ID:
		return m.Player1ID
	}
	return ""
}

func (m *Match) IsParticipant(playerID string) bool {
	return playerID != "" && (playerID == m.Player1ID || playerID == m.Player2ID)
}

// NonReporter is the participant who must confirm or contest.
func (m *Match) NonReporter() string {
	return m.Opponent(m.ReportedBy)
}

// HasSnapshot reports whether the match was finalized at least once.
func (m *Match) HasSnapshot() bool {
	return m.Player1RatingBefore != nil && m.Player1RatingAfter != nil &&
		m.Player2RatingBefore != nil && m.Player2RatingAfter != nil
}

// SnapshotDeltas returns the deltas applied at finalization.
func (m *Match) SnapshotDeltas() (int, int) {
	if !m.HasSnapshot() {
		return 0, 0
	}
	return *m.Player1RatingAfter - *m.Player1RatingBefore, *m.Player2RatingAfter - *m.Player2RatingBefore
}

// Contestation is filed by a participant disputing a result.
type Contestation struct {
	ID               string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	MatchID          string    `gorm:"index;not null" json:"match_id"`
	PlayerID         string    `gorm:"index;not null" json:"player_id"`
	Reason           string    `gorm:"type:text" json:"reason,omitempty"`
	PostFinalization bool      `gorm:"not null;default:false" json:"post_finalization"` // counts toward the monthly limit
	CreatedAt        time.Time `gorm:"index" json:"created_at"`
}
