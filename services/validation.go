package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"club-ladder/config"
	"club-ladder/models"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

// Outcome tells the caller what a transition request amounted to. Anything
// other than OutcomeApplied is informational: another actor got there first.
type Outcome string

const (
	OutcomeApplied          Outcome = "applied"
	OutcomeAlreadyFinalized Outcome = "already_finalized"
	OutcomeAlreadyContested Outcome = "already_contested"
	OutcomeAlreadyResolved  Outcome = "already_resolved"
)

func outcomeFor(status models.MatchStatus) Outcome {
	switch status {
	case models.MatchStatusContested:
		return OutcomeAlreadyContested
	case models.MatchStatusResolved:
		return OutcomeAlreadyResolved
	default:
		return OutcomeAlreadyFinalized
	}
}

// Decision is the admin verdict on a contested match.
type Decision string

const (
	DecisionReinstate    Decision = "reinstate"
	DecisionKeepReverted Decision = "keep_reverted"
)

func ParseDecision(raw string) (Decision, error) {
	switch d := Decision(strings.ToLower(strings.TrimSpace(raw))); d {
	case DecisionReinstate, DecisionKeepReverted:
		return d, nil
	}
	return "", ErrInvalidDecision
}

// errNoTransition aborts a transaction whose conditional update matched no row.
var errNoTransition = errors.New("match status changed concurrently")

// TransitionResult is returned by every state-changing operation.
type TransitionResult struct {
	Match   *models.Match `json:"match"`
	Outcome Outcome       `json:"outcome"`
}

// ReportMatchInput is a result as submitted by the reporting player.
// Score is written from the reporter's point of view.
type ReportMatchInput struct {
	ReporterID string
	OpponentID string
	ClubID     string
	Score      string
	Format     models.MatchFormat
	PlayedAt   time.Time
}

// ValidationService drives a reported match from pending_confirmation to a
// final state. It is the only caller of the rating engine for matches.
type ValidationService struct {
	DB       *gorm.DB
	Clock    clockwork.Clock
	Store    *RatingStore
	Engine   *RatingEngine
	Members  MembershipDirectory
	Admins   AdminAuthorizer
	Notifier Notifier
	cfg      config.ValidationConfig
}

func NewValidationService(
	db *gorm.DB,
	clock clockwork.Clock,
	store *RatingStore,
	engine *RatingEngine,
	members MembershipDirectory,
	admins AdminAuthorizer,
	notifier Notifier,
	cfg config.ValidationConfig,
) *ValidationService {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &ValidationService{
		DB:       db,
		Clock:    clock,
		Store:    store,
		Engine:   engine,
		Members:  members,
		Admins:   admins,
		Notifier: notifier,
		cfg:      cfg,
	}
}

func (s *ValidationService) now() time.Time {
	return s.Clock.Now().UTC()
}

func loadMatch(db *gorm.DB, matchID string) (*models.Match, error) {
	var m models.Match
	err := db.Where("id = ?", matchID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load match %s: %w", matchID, err)
	}
	return &m, nil
}

// GetMatch returns a match by id.
func (s *ValidationService) GetMatch(ctx context.Context, matchID string) (*models.Match, error) {
	return loadMatch(s.DB.WithContext(ctx), matchID)
}

// ReportMatch records a result in pending_confirmation. Nothing is rated yet.
func (s *ValidationService) ReportMatch(ctx context.Context, in ReportMatchInput) (*models.Match, error) {
	if in.ReporterID == "" || in.OpponentID == "" {
		return nil, ErrMissingPlayer
	}
	if in.ReporterID == in.OpponentID {
		return nil, ErrSelfReport
	}
	if !in.Format.Valid() {
		return nil, ErrInvalidFormat
	}
	score, err := ParseScore(in.Score, in.Format)
	if err != nil {
		return nil, err
	}

	now := s.now()
	playedAt := in.PlayedAt.UTC()
	if playedAt.IsZero() {
		playedAt = now
	}
	if playedAt.After(now) {
		return nil, ErrFutureMatch
	}
	if playedAt.Before(now.AddDate(0, 0, -s.cfg.PlayedAtMaxAgeDays)) {
		return nil, ErrMatchTooOld
	}

	if in.ClubID != "" {
		ok, err := s.Members.IsMember(ctx, in.ClubID, in.ReporterID)
		if err != nil {
			return nil, fmt.Errorf("failed to check club membership: %w", err)
		}
		if !ok {
			return nil, ErrNotClubMember
		}
	}
	clubID, err := s.Members.SharedClub(ctx, in.ReporterID, in.OpponentID, in.ClubID)
	if err != nil {
		return nil, fmt.Errorf("failed to check club membership: %w", err)
	}
	if clubID == "" || (in.ClubID != "" && clubID != in.ClubID) {
		return nil, ErrNotClubMates
	}

	winner := in.OpponentID
	if score.Player1Won {
		winner = in.ReporterID
	}

	match := models.Match{
		ID:             uuid.NewString(),
		ClubID:         clubID,
		Player1ID:      in.ReporterID,
		Player2ID:      in.OpponentID,
		ReportedBy:     in.ReporterID,
		WinnerID:       winner,
		Score:          score.Canonical(),
		Format:         in.Format,
		PlayedAt:       playedAt,
		Status:         models.MatchStatusPending,
		AutoValidateAt: now.Add(time.Duration(s.cfg.AutoValidateHours) * time.Hour),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.Store.ensureRows(tx, in.ReporterID, in.OpponentID); err != nil {
			return err
		}
		return tx.Create(&match).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save match: %w", err)
	}

	log.Printf("[Validation] match %s reported by %s vs %s (%s %s), auto-validates at %s",
		match.ID, match.ReportedBy, match.Player2ID, match.Format, match.Score, match.AutoValidateAt.Format(time.RFC3339))
	notify(ctx, s.Notifier, match.Player2ID, NotifyMatchReported, map[string]interface{}{
		"match_id":         match.ID,
		"reported_by":      match.ReportedBy,
		"score":            match.Score,
		"format":           match.Format,
		"auto_validate_at": match.AutoValidateAt,
	})
	return &match, nil
}

// ConfirmMatch finalizes a pending match on behalf of the non-reporting player.
func (s *ValidationService) ConfirmMatch(ctx context.Context, matchID, actorID string) (*TransitionResult, error) {
	m, err := s.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !m.IsParticipant(actorID) {
		return nil, ErrNotParticipant
	}
	if actorID == m.ReportedBy {
		return nil, ErrReporterCannotConfirm
	}
	if m.Status != models.MatchStatusPending {
		return &TransitionResult{Match: m, Outcome: outcomeFor(m.Status)}, nil
	}

	res, err := s.finalize(ctx, matchID, models.MatchStatusConfirmed)
	if err != nil || res.Outcome != OutcomeApplied {
		return res, err
	}
	d1, d2 := res.Match.SnapshotDeltas()
	notify(ctx, s.Notifier, res.Match.ReportedBy, NotifyMatchConfirmed, map[string]interface{}{
		"match_id":     res.Match.ID,
		"confirmed_by": actorID,
		"delta":        pick(res.Match.ReportedBy == res.Match.Player1ID, d1, d2),
	})
	return res, nil
}

// AutoValidate finalizes a pending match whose confirmation deadline passed.
// Safe to call repeatedly: only the first call applies the rating.
func (s *ValidationService) AutoValidate(ctx context.Context, matchID string) (*TransitionResult, error) {
	m, err := s.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m.Status != models.MatchStatusPending {
		return &TransitionResult{Match: m, Outcome: outcomeFor(m.Status)}, nil
	}
	if s.now().Before(m.AutoValidateAt) {
		return nil, ErrNotYetDue
	}

	res, err := s.finalize(ctx, matchID, models.MatchStatusAutoValidated)
	if err != nil || res.Outcome != OutcomeApplied {
		return res, err
	}
	d1, d2 := res.Match.SnapshotDeltas()
	for _, p := range []struct {
		id    string
		delta int
	}{{res.Match.Player1ID, d1}, {res.Match.Player2ID, d2}} {
		notify(ctx, s.Notifier, p.id, NotifyMatchAutoValidated, map[string]interface{}{
			"match_id": res.Match.ID,
			"delta":    p.delta,
		})
	}
	return res, nil
}

// finalize moves a pending match to confirmed or auto_validated and applies
// the rating in the same transaction. The conditional update on status and
// rating_applied decides the winner when two actors race.
func (s *ValidationService) finalize(ctx context.Context, matchID string, to models.MatchStatus) (*TransitionResult, error) {
	now := s.now()
	var final *models.Match

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := loadMatch(tx, matchID)
		if err != nil {
			return err
		}
		if m.Status != models.MatchStatusPending {
			return errNoTransition
		}
		if m.RatingApplied {
			log.Printf("[Validation] 🚨 INVARIANT: match %s is pending with rating_applied=true, refusing to rate it again", m.ID)
			return ErrRatingAlreadyApplied
		}

		rows, err := s.Store.lockRatings(tx, m.Player1ID, m.Player2ID)
		if err != nil {
			return err
		}
		mc, err := s.matchContext(tx, m)
		if err != nil {
			return err
		}
		p1, p2 := rows[m.Player1ID], rows[m.Player2ID]
		result, err := s.Engine.Compute(p1.CurrentRating, p2.CurrentRating, m.WinnerID == m.Player1ID, mc)
		if err != nil {
			return err
		}

		b1, b2 := p1.CurrentRating, p2.CurrentRating
		a1, a2 := s.Store.Clamp(b1+result.DeltaA), s.Store.Clamp(b2+result.DeltaB)
		upd := tx.Model(&models.Match{}).
			Where("id = ? AND status = ? AND rating_applied = ?", m.ID, models.MatchStatusPending, false).
			Updates(map[string]interface{}{
				"status":                to,
				"rating_applied":        true,
				"finalized_at":          now,
				"player1_rating_before": b1,
				"player1_rating_after":  a1,
				"player2_rating_before": b2,
				"player2_rating_after":  a2,
				"updated_at":            now,
			})
		if upd.Error != nil {
			return fmt.Errorf("failed to finalize match: %w", upd.Error)
		}
		if upd.RowsAffected == 0 {
			return errNoTransition
		}

		if err := s.applyMatchDeltas(tx, m, rows, result.DeltaA, result.DeltaB, matchMetadata(m, mc, result, to), now); err != nil {
			return err
		}
		for _, row := range []*models.PlayerRating{p1, p2} {
			if err := s.Store.recordMatchPlayed(tx, row, m.PlayedAt, now); err != nil {
				return fmt.Errorf("failed to record match for %s: %w", row.PlayerID, err)
			}
		}

		m.Status = to
		m.RatingApplied = true
		m.FinalizedAt = &now
		m.Player1RatingBefore, m.Player1RatingAfter = &b1, &a1
		m.Player2RatingBefore, m.Player2RatingAfter = &b2, &a2
		m.UpdatedAt = now
		final = m
		return nil
	})

	if errors.Is(err, errNoTransition) {
		m, lerr := s.GetMatch(ctx, matchID)
		if lerr != nil {
			return nil, lerr
		}
		log.Printf("[Validation] match %s already left pending (%s), %s skipped", matchID, m.Status, to)
		return &TransitionResult{Match: m, Outcome: outcomeFor(m.Status)}, nil
	}
	if err != nil {
		return nil, err
	}

	d1, d2 := final.SnapshotDeltas()
	log.Printf("[Validation] ✅ match %s %s: %s %+d, %s %+d", final.ID, to, final.Player1ID, d1, final.Player2ID, d2)
	return &TransitionResult{Match: final, Outcome: OutcomeApplied}, nil
}

// applyMatchDeltas writes one match_result entry per player.
func (s *ValidationService) applyMatchDeltas(tx *gorm.DB, m *models.Match, rows map[string]*models.PlayerRating, d1, d2 int, meta map[string]interface{}, now time.Time) error {
	matchID := m.ID
	for _, side := range []struct {
		player, opponent string
		delta            int
	}{
		{m.Player1ID, m.Player2ID, d1},
		{m.Player2ID, m.Player1ID, d2},
	} {
		md := make(map[string]interface{}, len(meta)+2)
		for k, v := range meta {
			md[k] = v
		}
		md["opponent_id"] = side.opponent
		md["won"] = side.player == m.WinnerID
		if _, err := s.Store.applyLocked(tx, rows[side.player], ratingChange{
			Delta:    side.delta,
			Reason:   models.ReasonMatchResult,
			MatchID:  &matchID,
			Metadata: md,
		}, now); err != nil {
			return err
		}
	}
	return nil
}

func matchMetadata(m *models.Match, mc MatchContext, r RatingResult, via models.MatchStatus) map[string]interface{} {
	return map[string]interface{}{
		"format":             m.Format,
		"score":              m.Score,
		"finalized_via":      via,
		"expected_winner":    r.ExpectedWinner,
		"format_weight":      r.FormatWeight,
		"new_opponent":       r.NewOpponent,
		"upset":              r.Upset,
		"diversity":          r.Diversity,
		"repetition_count":   mc.RecentMatchesVsOpponent,
		"distinct_opponents": mc.WinnerDistinctOpponents,
	}
}

// matchContext derives novelty, repetition and diversity from the players'
// effective matches (final, or reinstated by an admin) played before this one.
func (s *ValidationService) matchContext(tx *gorm.DB, m *models.Match) (MatchContext, error) {
	cfg := s.Engine.cfg
	mc := MatchContext{Format: m.Format, IsNewOpponent: true}

	winner := m.WinnerID
	loser := m.Opponent(winner)
	playedAt := m.PlayedAt.UTC()
	window := max(cfg.NoveltyWindowDays, cfg.RepetitionWindowDays, cfg.DiversityWindowDays)

	var recent []models.Match
	ids := []string{winner, loser}
	err := tx.Where("id <> ?", m.ID).
		Where("(player1_id IN ? OR player2_id IN ?)", ids, ids).
		Where("played_at >= ? AND played_at <= ?", playedAt.AddDate(0, 0, -window), playedAt).
		Where("(status IN ? OR (status = ? AND resolution = ?))",
			[]models.MatchStatus{models.MatchStatusConfirmed, models.MatchStatusAutoValidated},
			models.MatchStatusResolved, models.ResolutionReinstated).
		Find(&recent).Error
	if err != nil {
		return mc, fmt.Errorf("failed to load recent matches: %w", err)
	}

	noveltyFrom := playedAt.AddDate(0, 0, -cfg.NoveltyWindowDays)
	repetitionFrom := playedAt.AddDate(0, 0, -cfg.RepetitionWindowDays)
	diversityFrom := playedAt.AddDate(0, 0, -cfg.DiversityWindowDays)

	opponents := map[string]bool{loser: true}
	for _, r := range recent {
		at := r.PlayedAt.UTC()
		if r.IsParticipant(winner) && r.IsParticipant(loser) {
			if !at.Before(noveltyFrom) {
				mc.IsNewOpponent = false
			}
			if !at.Before(repetitionFrom) {
				mc.RecentMatchesVsOpponent++
			}
		}
		if r.IsParticipant(winner) && !at.Before(diversityFrom) {
			opponents[r.Opponent(winner)] = true
		}
	}
	mc.WinnerDistinctOpponents = len(opponents)
	return mc, nil
}

// ContestMatch disputes a result. While pending only the non-reporting player
// may contest and nothing is rated. Once final, either player may contest
// within the contestation window; the applied deltas are reversed with
// compensating ledger entries.
func (s *ValidationService) ContestMatch(ctx context.Context, matchID, actorID, reason string) (*TransitionResult, error) {
	m, err := s.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !m.IsParticipant(actorID) {
		return nil, ErrNotParticipant
	}

	switch {
	case m.Status == models.MatchStatusPending:
		if actorID == m.ReportedBy {
			return nil, ErrReporterCannotContest
		}
		return s.contestPending(ctx, m, actorID, reason)
	case m.Status.IsFinal():
		return s.contestFinal(ctx, m, actorID, reason)
	default:
		return &TransitionResult{Match: m, Outcome: outcomeFor(m.Status)}, nil
	}
}

func (s *ValidationService) contestPending(ctx context.Context, m *models.Match, actorID, reason string) (*TransitionResult, error) {
	now := s.now()
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upd := tx.Model(&models.Match{}).
			Where("id = ? AND status = ? AND rating_applied = ?", m.ID, models.MatchStatusPending, false).
			Updates(map[string]interface{}{
				"status":     models.MatchStatusContested,
				"updated_at": now,
			})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return errNoTransition
		}
		return tx.Create(&models.Contestation{
			ID:        uuid.NewString(),
			MatchID:   m.ID,
			PlayerID:  actorID,
			Reason:    reason,
			CreatedAt: now,
		}).Error
	})
	if res, done, err := s.settle(ctx, m.ID, err); done {
		return res, err
	}

	log.Printf("[Validation] ⚠️ match %s contested by %s before confirmation", m.ID, actorID)
	notify(ctx, s.Notifier, m.ReportedBy, NotifyMatchContested, map[string]interface{}{
		"match_id":     m.ID,
		"contested_by": actorID,
		"reason":       reason,
	})
	return s.reloaded(ctx, m.ID)
}

func (s *ValidationService) contestFinal(ctx context.Context, m *models.Match, actorID, reason string) (*TransitionResult, error) {
	now := s.now()
	window := time.Duration(s.cfg.ContestationWindowDays) * 24 * time.Hour
	var reversed [2]int

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := loadMatch(tx, m.ID)
		if err != nil {
			return err
		}
		if !cur.Status.IsFinal() {
			return errNoTransition
		}
		if cur.FinalizedAt == nil || now.Sub(cur.FinalizedAt.UTC()) > window {
			return ErrContestWindowEnded
		}
		if !cur.RatingApplied || !cur.HasSnapshot() {
			log.Printf("[Validation] 🚨 INVARIANT: final match %s has no applied rating snapshot", cur.ID)
			return domainErr(KindInvariant, "missing_snapshot", "match has no rating to reverse")
		}

		// the actor's rating row serializes concurrent contests against the monthly limit
		rows, err := s.Store.lockRatings(tx, cur.Player1ID, cur.Player2ID)
		if err != nil {
			return err
		}
		if s.cfg.MaxContestationsPerMonth > 0 {
			monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
			var used int64
			err := tx.Model(&models.Contestation{}).
				Where("player_id = ? AND post_finalization = ? AND created_at >= ?", actorID, true, monthStart).
				Count(&used).Error
			if err != nil {
				return err
			}
			if used >= int64(s.cfg.MaxContestationsPerMonth) {
				return ErrContestLimitReached
			}
		}

		upd := tx.Model(&models.Match{}).
			Where("id = ? AND status = ? AND rating_applied = ?", cur.ID, cur.Status, true).
			Updates(map[string]interface{}{
				"status":         models.MatchStatusContested,
				"rating_applied": false,
				"reverted_at":    now,
				"updated_at":     now,
			})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return errNoTransition
		}

		matchID := cur.ID
		d1, d2 := cur.SnapshotDeltas()
		for i, side := range []struct {
			player string
			delta  int
		}{{cur.Player1ID, d1}, {cur.Player2ID, d2}} {
			entry, err := s.Store.applyLocked(tx, rows[side.player], ratingChange{
				Delta:   -side.delta,
				Reason:  models.ReasonReversal,
				MatchID: &matchID,
				Metadata: map[string]interface{}{
					"reverted_delta": side.delta,
					"contested_by":   actorID,
					"previous":       cur.Status,
				},
			}, now)
			if err != nil {
				return err
			}
			reversed[i] = entry.Delta
		}

		return tx.Create(&models.Contestation{
			ID:               uuid.NewString(),
			MatchID:          cur.ID,
			PlayerID:         actorID,
			Reason:           reason,
			PostFinalization: true,
			CreatedAt:        now,
		}).Error
	})
	if res, done, err := s.settle(ctx, m.ID, err); done {
		return res, err
	}

	log.Printf("[Validation] ⚠️ match %s contested by %s after finalization, reversed %s %+d, %s %+d",
		m.ID, actorID, m.Player1ID, reversed[0], m.Player2ID, reversed[1])
	notify(ctx, s.Notifier, m.Opponent(actorID), NotifyMatchContested, map[string]interface{}{
		"match_id":     m.ID,
		"contested_by": actorID,
		"reason":       reason,
		"reversed":     true,
	})
	return s.reloaded(ctx, m.ID)
}

// ResolveContestedMatch lets an admin of the match's club close a contested
// match. Reinstating gives back what the reversal removed, or rates the match
// for the first time when it was contested before confirmation.
func (s *ValidationService) ResolveContestedMatch(ctx context.Context, matchID, adminID string, decision Decision) (*TransitionResult, error) {
	if _, err := ParseDecision(string(decision)); err != nil {
		return nil, err
	}
	m, err := s.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	ok, err := s.Admins.IsAdmin(ctx, adminID, m.ClubID)
	if err != nil {
		return nil, fmt.Errorf("failed to check admin rights: %w", err)
	}
	if !ok {
		return nil, ErrNotAdmin
	}
	switch m.Status {
	case models.MatchStatusResolved:
		return &TransitionResult{Match: m, Outcome: OutcomeAlreadyResolved}, nil
	case models.MatchStatusContested:
	default:
		return nil, ErrInvalidTransition
	}

	now := s.now()
	resolution := models.ResolutionKeptReverted
	if decision == DecisionReinstate {
		resolution = models.ResolutionReinstated
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := loadMatch(tx, matchID)
		if err != nil {
			return err
		}
		if cur.Status != models.MatchStatusContested {
			return errNoTransition
		}

		fields := map[string]interface{}{
			"status":      models.MatchStatusResolved,
			"resolution":  resolution,
			"resolved_at": now,
			"resolved_by": adminID,
			"updated_at":  now,
		}
		if decision == DecisionKeepReverted {
			return casResolve(tx, cur.ID, fields)
		}

		rows, err := s.Store.lockRatings(tx, cur.Player1ID, cur.Player2ID)
		if err != nil {
			return err
		}

		if cur.HasSnapshot() {
			if err := casResolve(tx, cur.ID, fields); err != nil {
				return err
			}
			d1, d2, err := s.reversedDeltas(tx, cur)
			if err != nil {
				return err
			}
			return s.applyMatchDeltas(tx, cur, rows, d1, d2, map[string]interface{}{
				"reinstated":  true,
				"resolved_by": adminID,
			}, now)
		}

		// contested before confirmation: this is the first rating of the match
		mc, err := s.matchContext(tx, cur)
		if err != nil {
			return err
		}
		p1, p2 := rows[cur.Player1ID], rows[cur.Player2ID]
		result, err := s.Engine.Compute(p1.CurrentRating, p2.CurrentRating, cur.WinnerID == cur.Player1ID, mc)
		if err != nil {
			return err
		}
		b1, b2 := p1.CurrentRating, p2.CurrentRating
		fields["finalized_at"] = now
		fields["player1_rating_before"] = b1
		fields["player1_rating_after"] = s.Store.Clamp(b1 + result.DeltaA)
		fields["player2_rating_before"] = b2
		fields["player2_rating_after"] = s.Store.Clamp(b2 + result.DeltaB)
		if err := casResolve(tx, cur.ID, fields); err != nil {
			return err
		}

		meta := matchMetadata(cur, mc, result, models.MatchStatusResolved)
		meta["reinstated"] = true
		meta["resolved_by"] = adminID
		if err := s.applyMatchDeltas(tx, cur, rows, result.DeltaA, result.DeltaB, meta, now); err != nil {
			return err
		}
		for _, row := range []*models.PlayerRating{p1, p2} {
			if err := s.Store.recordMatchPlayed(tx, row, cur.PlayedAt, now); err != nil {
				return err
			}
		}
		return nil
	})
	if res, done, err := s.settle(ctx, matchID, err); done {
		return res, err
	}

	log.Printf("[Validation] match %s resolved by %s: %s", matchID, adminID, resolution)
	for _, p := range []string{m.Player1ID, m.Player2ID} {
		notify(ctx, s.Notifier, p, NotifyMatchResolved, map[string]interface{}{
			"match_id":   matchID,
			"resolution": resolution,
		})
	}
	return s.reloaded(ctx, matchID)
}

// reversedDeltas returns, per player, what the reversal entries of the match
// took away. A reversal clamped at the rating floor removed less than the
// snapshot delta, so reinstating gives back only that amount.
func (s *ValidationService) reversedDeltas(tx *gorm.DB, m *models.Match) (int, int, error) {
	var sums []struct {
		PlayerID string
		Total    int
	}
	err := tx.Model(&models.RatingHistory{}).
		Select("player_id, SUM(delta) AS total").
		Where("match_id = ? AND reason = ?", m.ID, models.ReasonReversal).
		Group("player_id").
		Scan(&sums).Error
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load reversals of match %s: %w", m.ID, err)
	}
	if len(sums) == 0 {
		log.Printf("[Validation] 🚨 INVARIANT: contested match %s has a snapshot but no reversal entries", m.ID)
		return 0, 0, domainErr(KindInvariant, "missing_reversal", "match has no reversal to reinstate")
	}
	var d1, d2 int
	for _, r := range sums {
		switch r.PlayerID {
		case m.Player1ID:
			d1 = -r.Total
		case m.Player2ID:
			d2 = -r.Total
		}
	}
	return d1, d2, nil
}

func casResolve(tx *gorm.DB, matchID string, fields map[string]interface{}) error {
	upd := tx.Model(&models.Match{}).
		Where("id = ? AND status = ?", matchID, models.MatchStatusContested).
		Updates(fields)
	if upd.Error != nil {
		return upd.Error
	}
	if upd.RowsAffected == 0 {
		return errNoTransition
	}
	return nil
}

// settle maps a transaction error to the caller's answer. done is false only
// when the transaction committed.
func (s *ValidationService) settle(ctx context.Context, matchID string, err error) (*TransitionResult, bool, error) {
	if err == nil {
		return nil, false, nil
	}
	if errors.Is(err, errNoTransition) {
		m, lerr := s.GetMatch(ctx, matchID)
		if lerr != nil {
			return nil, true, lerr
		}
		return &TransitionResult{Match: m, Outcome: outcomeFor(m.Status)}, true, nil
	}
	return nil, true, err
}

func (s *ValidationService) reloaded(ctx context.Context, matchID string) (*TransitionResult, error) {
	m, err := s.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	return &TransitionResult{Match: m, Outcome: OutcomeApplied}, nil
}

// PendingValidation is the countdown view of a match.
type PendingValidation struct {
	MatchID          string             `json:"match_id"`
	Status           models.MatchStatus `json:"status"`
	AwaitingPlayerID string             `json:"awaiting_player_id,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	AutoValidateAt   time.Time          `json:"auto_validate_at"`
	ReminderSentAt   *time.Time         `json:"reminder_sent_at,omitempty"`
	HoursRemaining   float64            `json:"hours_remaining"`
	SecondsRemaining int64              `json:"seconds_remaining"`
	FinalizedAt      *time.Time         `json:"finalized_at,omitempty"`
	ContestableUntil *time.Time         `json:"contestable_until,omitempty"`
	RatingApplied    bool               `json:"rating_applied"`
}

// GetPendingValidation reports how long a pending match has before it
// auto-validates, or until when a final match can still be contested.
func (s *ValidationService) GetPendingValidation(ctx context.Context, matchID string) (*PendingValidation, error) {
	m, err := s.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	view := &PendingValidation{
		MatchID:        m.ID,
		Status:         m.Status,
		CreatedAt:      m.CreatedAt,
		AutoValidateAt: m.AutoValidateAt,
		ReminderSentAt: m.ReminderSentAt,
		FinalizedAt:    m.FinalizedAt,
		RatingApplied:  m.RatingApplied,
	}
	switch {
	case m.Status == models.MatchStatusPending:
		view.AwaitingPlayerID = m.NonReporter()
		if left := m.AutoValidateAt.Sub(now); left > 0 {
			view.SecondsRemaining = int64(left / time.Second)
			view.HoursRemaining = float64(int64(left.Hours()*10)) / 10
		}
	case m.Status.IsFinal() && m.FinalizedAt != nil:
		until := m.FinalizedAt.Add(time.Duration(s.cfg.ContestationWindowDays) * 24 * time.Hour)
		view.ContestableUntil = &until
	}
	return view, nil
}

// ListContested returns contested matches awaiting an admin, oldest first.
func (s *ValidationService) ListContested(ctx context.Context, clubID string, limit int) ([]models.Match, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.DB.WithContext(ctx).Where("status = ?", models.MatchStatusContested)
	if clubID != "" {
		q = q.Where("club_id = ?", clubID)
	}
	var matches []models.Match
	err := q.Order("updated_at ASC").Limit(limit).Find(&matches).Error
	return matches, err
}

func pick(first bool, a, b int) int {
	if first {
		return a
	}
	return b
}
