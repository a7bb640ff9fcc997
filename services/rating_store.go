package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"club-ladder/config"
	"club-ladder/models"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RatingStore owns the player_ratings rows and the rating_history ledger.
// Every mutation happens inside a transaction holding the player's row lock.
type RatingStore struct {
	DB    *gorm.DB
	Clock clockwork.Clock
	cfg   config.RatingConfig
}

func NewRatingStore(db *gorm.DB, clock clockwork.Clock, cfg config.RatingConfig) *RatingStore {
	return &RatingStore{DB: db, Clock: clock, cfg: cfg}
}

// ratingChange is one delta to append to a player's ledger.
type ratingChange struct {
	Delta    int
	Reason   models.HistoryReason
	MatchID  *string
	Metadata map[string]interface{}
	// SkipIfZero drops the entry when clamping leaves nothing to apply.
	SkipIfZero bool
}

// Clamp applies the rating floor.
func (s *RatingStore) Clamp(rating int) int {
	if rating < s.cfg.MinRating {
		return s.cfg.MinRating
	}
	return rating
}

// EnsureRating creates the player's rating row at the initial rating (idempotent).
func (s *RatingStore) EnsureRating(ctx context.Context, playerID string) (*models.PlayerRating, error) {
	if playerID == "" {
		return nil, ErrMissingPlayer
	}
	if err := s.ensureRows(s.DB.WithContext(ctx), playerID); err != nil {
		return nil, err
	}
	return s.GetRating(ctx, playerID)
}

func (s *RatingStore) ensureRows(tx *gorm.DB, playerIDs ...string) error {
	for _, id := range playerIDs {
		row := models.PlayerRating{
			PlayerID:      id,
			CurrentRating: s.cfg.InitialRating,
			BestRating:    s.cfg.InitialRating,
			LowestRating:  s.cfg.InitialRating,
			IsActive:      true,
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("failed to create rating for %s: %w", id, err)
		}
	}
	return nil
}

// lockRatings creates missing rows and locks them in ascending player id order,
// so two transactions touching the same pair never deadlock.
func (s *RatingStore) lockRatings(tx *gorm.DB, playerIDs ...string) (map[string]*models.PlayerRating, error) {
	ids := append([]string(nil), playerIDs...)
	sort.Strings(ids)

	if err := s.ensureRows(tx, ids...); err != nil {
		return nil, err
	}

	rows := make(map[string]*models.PlayerRating, len(ids))
	for _, id := range ids {
		if _, seen := rows[id]; seen {
			continue
		}
		var row models.PlayerRating
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("player_id = ?", id).
			First(&row).Error
		if err != nil {
			return nil, fmt.Errorf("failed to lock rating for %s: %w", id, err)
		}
		rows[id] = &row
	}
	return rows, nil
}

// applyLocked applies one change to a locked row and appends the ledger entry.
// The caller must hold the row lock taken by lockRatings.
func (s *RatingStore) applyLocked(tx *gorm.DB, row *models.PlayerRating, ch ratingChange, now time.Time) (*models.RatingHistory, error) {
	before := row.CurrentRating
	after := s.Clamp(before + ch.Delta)
	applied := after - before

	if applied == 0 && ch.SkipIfZero {
		return nil, nil
	}

	meta := ch.Metadata
	if applied != ch.Delta {
		if meta == nil {
			meta = map[string]interface{}{}
		}
		meta["requested_delta"] = ch.Delta
		meta["floor"] = s.cfg.MinRating
	}
	var raw datatypes.JSON
	if meta != nil {
		b, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("failed to encode history metadata: %w", err)
		}
		raw = datatypes.JSON(b)
	}

	best, lowest := row.BestRating, row.LowestRating
	if after > best {
		best = after
	}
	if after < lowest {
		lowest = after
	}
	seq := row.LedgerVersion + 1

	entry := models.RatingHistory{
		ID:           uuid.NewString(),
		PlayerID:     row.PlayerID,
		Sequence:     seq,
		MatchID:      ch.MatchID,
		RatingBefore: before,
		RatingAfter:  after,
		Delta:        applied,
		Reason:       ch.Reason,
		Metadata:     raw,
		CreatedAt:    now,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("failed to append rating history: %w", err)
	}

	err := tx.Model(&models.PlayerRating{}).
		Where("player_id = ?", row.PlayerID).
		Updates(map[string]interface{}{
			"current_rating": after,
			"best_rating":    best,
			"lowest_rating":  lowest,
			"ledger_version": seq,
			"updated_at":     now,
		}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to update rating for %s: %w", row.PlayerID, err)
	}

	row.CurrentRating = after
	row.BestRating = best
	row.LowestRating = lowest
	row.LedgerVersion = seq
	row.UpdatedAt = now
	return &entry, nil
}

// recordMatchPlayed bumps the activity counters of a locked row. The weekly
// streak counts consecutive Monday-based UTC weeks with a finalized match.
func (s *RatingStore) recordMatchPlayed(tx *gorm.DB, row *models.PlayerRating, playedAt, now time.Time) error {
	playedAt = playedAt.UTC()
	row.MatchesPlayed++
	if row.LastMatchAt == nil || playedAt.After(*row.LastMatchAt) {
		row.LastMatchAt = &playedAt
	}

	week := weekStart(playedAt)
	switch {
	case row.StreakWeekStart == nil:
		row.CurrentStreak = 1
		row.StreakWeekStart = &week
	case week.Equal(row.StreakWeekStart.UTC()):
		// already counted this week
	case week.Equal(row.StreakWeekStart.UTC().AddDate(0, 0, 7)):
		row.CurrentStreak++
		row.StreakWeekStart = &week
	case week.After(row.StreakWeekStart.UTC()):
		row.CurrentStreak = 1
		row.StreakWeekStart = &week
	}
	if row.CurrentStreak > row.BestStreak {
		row.BestStreak = row.CurrentStreak
	}

	return tx.Model(&models.PlayerRating{}).
		Where("player_id = ?", row.PlayerID).
		Updates(map[string]interface{}{
			"matches_played":    row.MatchesPlayed,
			"last_match_at":     row.LastMatchAt,
			"current_streak":    row.CurrentStreak,
			"best_streak":       row.BestStreak,
			"streak_week_start": row.StreakWeekStart,
			"updated_at":        now,
		}).Error
}

func weekStart(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
	return day.AddDate(0, 0, -offset)
}

// AdminAdjust applies a manual correction with reason admin_adjustment.
func (s *RatingStore) AdminAdjust(ctx context.Context, playerID string, delta int, adminID, note string) (*models.RatingHistory, error) {
	if playerID == "" {
		return nil, ErrMissingPlayer
	}
	if delta == 0 {
		return nil, ErrInvalidAdjustment
	}

	var entry *models.RatingHistory
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.PlayerRating{}).Where("player_id = ?", playerID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrPlayerNotFound
		}
		rows, err := s.lockRatings(tx, playerID)
		if err != nil {
			return err
		}
		entry, err = s.applyLocked(tx, rows[playerID], ratingChange{
			Delta:  delta,
			Reason: models.ReasonAdminAdjustment,
			Metadata: map[string]interface{}{
				"admin_id": adminID,
				"note":     note,
			},
		}, s.Clock.Now().UTC())
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[Rating] admin %s adjusted %s by %+d -> %d", adminID, playerID, entry.Delta, entry.RatingAfter)
	return entry, nil
}

func (s *RatingStore) GetRating(ctx context.Context, playerID string) (*models.PlayerRating, error) {
	var row models.PlayerRating
	err := s.DB.WithContext(ctx).Where("player_id = ?", playerID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPlayerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// History returns the ledger newest first.
func (s *RatingStore) History(ctx context.Context, playerID string, page, pageSize int) ([]models.RatingHistory, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	q := s.DB.WithContext(ctx).Model(&models.RatingHistory{}).Where("player_id = ?", playerID)
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var entries []models.RatingHistory
	err := q.Order("sequence DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries).Error
	return entries, total, err
}

// LadderEntry is one row of a club ranking.
type LadderEntry struct {
	Position      int        `json:"position"`
	PlayerID      string     `json:"player_id"`
	DisplayName   string     `json:"display_name"`
	CurrentRating int        `json:"current_rating"`
	BestRating    int        `json:"best_rating"`
	MatchesPlayed int64      `json:"matches_played"`
	CurrentStreak int        `json:"current_streak"`
	LastMatchAt   *time.Time `json:"last_match_at,omitempty"`
}

// ClubLadder ranks the active members of a club by current rating.
func (s *RatingStore) ClubLadder(ctx context.Context, clubID string, limit int) ([]LadderEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var entries []LadderEntry
	err := s.DB.WithContext(ctx).
		Table("player_ratings AS pr").
		Select("pr.player_id, cm.display_name, pr.current_rating, pr.best_rating, pr.matches_played, pr.current_streak, pr.last_match_at").
		Joins("JOIN club_members cm ON cm.player_id = pr.player_id").
		Where("cm.club_id = ? AND cm.is_active = ?", clubID, true).
		Order("pr.current_rating DESC, pr.matches_played DESC, pr.player_id ASC").
		Limit(limit).
		Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Position = i + 1
	}
	return entries, nil
}
