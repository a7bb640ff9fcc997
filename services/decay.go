package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"club-ladder/config"
	"club-ladder/models"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

// DecayProcessor lowers the rating of active players who stopped playing.
//
// The amount owed is a function of the time since lastMatchAt only. Each run
// applies the difference between what is owed and what inactivity_decay
// entries already took since lastMatchAt, so running it twice on the same day
// writes nothing the second time.
type DecayProcessor struct {
	DB        *gorm.DB
	Clock     clockwork.Clock
	Store     *RatingStore
	Notifier  Notifier
	cfg       config.DecayConfig
	batchSize int
}

func NewDecayProcessor(db *gorm.DB, clock clockwork.Clock, store *RatingStore, notifier Notifier, cfg config.DecayConfig, batchSize int) *DecayProcessor {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &DecayProcessor{DB: db, Clock: clock, Store: store, Notifier: notifier, cfg: cfg, batchSize: batchSize}
}

// OwedDecay is the total decay due after daysInactive whole days without a match.
func (p *DecayProcessor) OwedDecay(daysInactive int) int {
	decayDays := daysInactive - p.cfg.InactivityDaysThreshold
	if decayDays <= 0 {
		return 0
	}
	return min(decayDays*p.cfg.PerDayDecay, p.cfg.MaxInactivityDecay)
}

// RunInactivityDecay scans inactive players in pages and decays each one in
// its own transaction.
func (p *DecayProcessor) RunInactivityDecay(ctx context.Context) (*SweepResult, error) {
	now := p.Clock.Now().UTC()
	res := newSweepResult(SweepDecay, now)
	cutoff := now.Add(-time.Duration(p.cfg.InactivityDaysThreshold) * 24 * time.Hour)

	after := ""
	for ctx.Err() == nil {
		var ids []string
		err := p.DB.WithContext(ctx).Model(&models.PlayerRating{}).
			Where("is_active = ? AND last_match_at IS NOT NULL AND last_match_at < ? AND player_id > ?", true, cutoff, after).
			Order("player_id ASC").
			Limit(p.batchSize).
			Pluck("player_id", &ids).Error
		if err != nil {
			return nil, fmt.Errorf("failed to select inactive players: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		after = ids[len(ids)-1]

		for _, id := range ids {
			res.Processed++
			entry, err := p.decayPlayer(ctx, id, now)
			switch {
			case err != nil:
				res.fail(id, err)
			case entry == nil:
				res.Skipped++
			default:
				res.Succeeded++
				notify(ctx, p.Notifier, id, NotifyInactivityDecay, map[string]interface{}{
					"delta":        entry.Delta,
					"rating_after": entry.RatingAfter,
				})
			}
		}
		if len(ids) < p.batchSize {
			break
		}
	}

	res.FinishedAt = p.Clock.Now().UTC()
	log.Printf("[Decay] %s", res)
	return res, nil
}

// decayPlayer returns the written entry, or nil when nothing was owed.
func (p *DecayProcessor) decayPlayer(ctx context.Context, playerID string, now time.Time) (*models.RatingHistory, error) {
	var entry *models.RatingHistory
	err := p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := p.Store.lockRatings(tx, playerID)
		if err != nil {
			return err
		}
		row := rows[playerID]
		if !row.IsActive || row.LastMatchAt == nil {
			return nil
		}

		lastMatch := row.LastMatchAt.UTC()
		daysInactive := int(now.Sub(lastMatch).Hours() / 24)
		owed := p.OwedDecay(daysInactive)
		if owed == 0 {
			return nil
		}

		var applied int64
		err = tx.Model(&models.RatingHistory{}).
			Where("player_id = ? AND reason = ? AND created_at > ?", playerID, models.ReasonInactivityDecay, lastMatch).
			Select("COALESCE(SUM(delta), 0)").
			Scan(&applied).Error
		if err != nil {
			return fmt.Errorf("failed to sum applied decay: %w", err)
		}

		due := owed + int(applied) // applied is negative
		if due <= 0 {
			return nil
		}
		entry, err = p.Store.applyLocked(tx, row, ratingChange{
			Delta:      -due,
			Reason:     models.ReasonInactivityDecay,
			SkipIfZero: true,
			Metadata: map[string]interface{}{
				"days_inactive": daysInactive,
				"last_match_at": lastMatch,
				"owed_total":    owed,
			},
		}, now)
		return err
	})
	return entry, err
}
