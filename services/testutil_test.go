package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"club-ladder/config"
	"club-ladder/models"
	"club-ladder/utils"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

// t0 is a Monday.
var t0 = time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

type sentNotification struct {
	PlayerID string
	Kind     NotificationKind
	Payload  map[string]interface{}
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) Notify(_ context.Context, playerID string, kind NotificationKind, payload map[string]interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{PlayerID: playerID, Kind: kind, Payload: payload})
	return nil
}

func (n *recordingNotifier) count(kind NotificationKind, playerID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.Kind == kind && s.PlayerID == playerID {
			c++
		}
	}
	return c
}

type fixture struct {
	db         *gorm.DB
	clock      *clockwork.FakeClock
	cfg        config.Config
	notifier   *recordingNotifier
	directory  *ClubDirectory
	store      *RatingStore
	engine     *RatingEngine
	validation *ValidationService
	decay      *DecayProcessor
	sweeps     *SweepService
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := utils.OpenDatabase("sqlite", dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func newFixture(t *testing.T, tweaks ...func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.Defaults()
	cfg.AdminPlayerIDs = []string{"root"}
	for _, tweak := range tweaks {
		tweak(&cfg)
	}

	db := openTestDB(t)
	clock := clockwork.NewFakeClockAt(t0)
	notifier := &recordingNotifier{}

	f := &fixture{db: db, clock: clock, cfg: cfg, notifier: notifier}
	f.directory = NewClubDirectory(db, cfg.AdminPlayerIDs)
	f.store = NewRatingStore(db, clock, cfg.Rating)
	f.engine = NewRatingEngine(cfg.Rating)
	f.validation = NewValidationService(db, clock, f.store, f.engine, f.directory, f.directory, notifier, cfg.Validation)
	f.decay = NewDecayProcessor(db, clock, f.store, notifier, cfg.Decay, 2)
	f.sweeps = NewSweepService(db, clock, f.validation, f.decay, notifier, cfg.Validation, 2)
	return f
}

func (f *fixture) addMember(t *testing.T, clubID, playerID, role string) {
	t.Helper()
	err := f.db.Create(&models.ClubMember{
		ID:          uuid.NewString(),
		ClubID:      clubID,
		PlayerID:    playerID,
		DisplayName: playerID,
		Role:        role,
		IsActive:    true,
		UpdatedAt:   t0,
	}).Error
	if err != nil {
		t.Fatalf("add member %s: %v", playerID, err)
	}
}

// addClub registers every player as an active member of clubID.
func (f *fixture) addClub(t *testing.T, clubID string, players ...string) {
	t.Helper()
	for _, p := range players {
		f.addMember(t, clubID, p, models.ClubRoleMember)
	}
}

func (f *fixture) report(t *testing.T, reporter, opponent, score string, format models.MatchFormat) *models.Match {
	t.Helper()
	m, err := f.validation.ReportMatch(context.Background(), ReportMatchInput{
		ReporterID: reporter,
		OpponentID: opponent,
		Score:      score,
		Format:     format,
		PlayedAt:   f.clock.Now().Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("report %s vs %s: %v", reporter, opponent, err)
	}
	return m
}

// reportConfirmed reports a win for reporter and has the opponent confirm it.
func (f *fixture) reportConfirmed(t *testing.T, reporter, opponent string) *models.Match {
	t.Helper()
	m := f.report(t, reporter, opponent, "6-4 6-4", models.FormatThreeSets)
	res, err := f.validation.ConfirmMatch(context.Background(), m.ID, opponent)
	if err != nil {
		t.Fatalf("confirm %s: %v", m.ID, err)
	}
	if res.Outcome != OutcomeApplied {
		t.Fatalf("confirm %s: outcome %s", m.ID, res.Outcome)
	}
	return res.Match
}

func (f *fixture) rating(t *testing.T, playerID string) *models.PlayerRating {
	t.Helper()
	r, err := f.store.GetRating(context.Background(), playerID)
	if err != nil {
		t.Fatalf("get rating %s: %v", playerID, err)
	}
	return r
}

func (f *fixture) match(t *testing.T, id string) *models.Match {
	t.Helper()
	m, err := f.validation.GetMatch(context.Background(), id)
	if err != nil {
		t.Fatalf("get match %s: %v", id, err)
	}
	return m
}

func (f *fixture) history(t *testing.T, playerID string) []models.RatingHistory {
	t.Helper()
	var entries []models.RatingHistory
	if err := f.db.Where("player_id = ?", playerID).Order("sequence ASC").Find(&entries).Error; err != nil {
		t.Fatalf("load history %s: %v", playerID, err)
	}
	return entries
}

// assertLedger checks that the history chains from the initial rating to the
// current one without gaps.
func (f *fixture) assertLedger(t *testing.T, playerID string) {
	t.Helper()
	entries := f.history(t, playerID)
	want := f.cfg.Rating.InitialRating
	for i, e := range entries {
		if e.Sequence != int64(i+1) {
			t.Errorf("%s entry %d: sequence %d", playerID, i, e.Sequence)
		}
		if e.RatingBefore != want {
			t.Errorf("%s entry %d: rating_before %d, want %d", playerID, e.Sequence, e.RatingBefore, want)
		}
		if e.RatingAfter != e.RatingBefore+e.Delta {
			t.Errorf("%s entry %d: %d + %d != %d", playerID, e.Sequence, e.RatingBefore, e.Delta, e.RatingAfter)
		}
		if e.RatingAfter < f.cfg.Rating.MinRating {
			t.Errorf("%s entry %d: rating %d below floor", playerID, e.Sequence, e.RatingAfter)
		}
		want = e.RatingAfter
	}
	r := f.rating(t, playerID)
	if r.CurrentRating != want {
		t.Errorf("%s: current rating %d, ledger ends at %d", playerID, r.CurrentRating, want)
	}
	if r.LedgerVersion != int64(len(entries)) {
		t.Errorf("%s: ledger_version %d, %d entries", playerID, r.LedgerVersion, len(entries))
	}
}
