package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"club-ladder/models"
)

// seedRating creates a rating row whose last finalized match was at lastMatch.
func (f *fixture) seedRating(t *testing.T, playerID string, rating int, lastMatch time.Time) {
	t.Helper()
	if _, err := f.store.EnsureRating(context.Background(), playerID); err != nil {
		t.Fatal(err)
	}
	err := f.db.Model(&models.PlayerRating{}).Where("player_id = ?", playerID).Updates(map[string]interface{}{
		"current_rating": rating,
		"best_rating":    rating,
		"lowest_rating":  rating,
		"last_match_at":  lastMatch,
	}).Error
	if err != nil {
		t.Fatal(err)
	}
}

func TestOwedDecay(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		days int
		want int
	}{
		{0, 0},
		{14, 0},
		{15, 2},
		{20, 12},
		{64, 100},
		{365, 100},
	}
	for _, tt := range tests {
		if got := f.decay.OwedDecay(tt.days); got != tt.want {
			t.Errorf("OwedDecay(%d) = %d, want %d", tt.days, got, tt.want)
		}
	}
}

func TestDecayIsIdempotentWithinADay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedRating(t, "alice", 1200, t0.AddDate(0, 0, -20))

	res, err := f.decay.RunInactivityDecay(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 1 || res.Succeeded != 1 {
		t.Fatalf("first run: %+v", res)
	}
	if r := f.rating(t, "alice"); r.CurrentRating != 1188 {
		t.Errorf("after 20 days: %d, want 1188", r.CurrentRating)
	}

	f.clock.Advance(3 * time.Hour)
	res, err = f.decay.RunInactivityDecay(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Succeeded != 0 || res.Skipped != 1 {
		t.Errorf("same-day rerun: %+v", res)
	}
	if h := f.history(t, "alice"); len(h) != 1 {
		t.Errorf("same-day rerun wrote %d entries", len(h))
	}

	f.clock.Advance(24 * time.Hour)
	if _, err := f.decay.RunInactivityDecay(ctx); err != nil {
		t.Fatal(err)
	}
	if r := f.rating(t, "alice"); r.CurrentRating != 1186 {
		t.Errorf("after 21 days: %d, want 1186", r.CurrentRating)
	}
	h := f.history(t, "alice")
	if len(h) != 2 || h[1].Delta != -2 || h[1].Reason != models.ReasonInactivityDecay {
		t.Errorf("unexpected history %+v", h)
	}
	f.assertLedger(t, "alice")
	if n := f.notifier.count(NotifyInactivityDecay, "alice"); n != 2 {
		t.Errorf("notified %d times, want 2", n)
	}
}

func TestDecayCapAndFloor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedRating(t, "capped", 1500, t0.AddDate(0, 0, -200))
	f.seedRating(t, "floored", 105, t0.AddDate(0, 0, -64))

	if _, err := f.decay.RunInactivityDecay(ctx); err != nil {
		t.Fatal(err)
	}
	if r := f.rating(t, "capped"); r.CurrentRating != 1400 {
		t.Errorf("capped = %d, want 1400", r.CurrentRating)
	}
	if r := f.rating(t, "floored"); r.CurrentRating != 100 {
		t.Errorf("floored = %d, want 100", r.CurrentRating)
	}

	for d := 0; d < 3; d++ {
		f.clock.Advance(24 * time.Hour)
		if _, err := f.decay.RunInactivityDecay(ctx); err != nil {
			t.Fatal(err)
		}
	}
	for _, p := range []string{"capped", "floored"} {
		if h := f.history(t, p); len(h) != 1 {
			t.Errorf("%s: %d entries after the cap was reached", p, len(h))
		}
	}
}

func TestDecaySkipsActiveAndInactiveMembers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedRating(t, "recent", 1200, t0.AddDate(0, 0, -10))
	f.seedRating(t, "left-club", 1200, t0.AddDate(0, 0, -60))
	if _, err := f.store.EnsureRating(ctx, "never-played"); err != nil {
		t.Fatal(err)
	}
	if err := f.db.Model(&models.PlayerRating{}).Where("player_id = ?", "left-club").Update("is_active", false).Error; err != nil {
		t.Fatal(err)
	}

	res, err := f.decay.RunInactivityDecay(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 0 {
		t.Errorf("expected nobody to decay, got %+v", res)
	}
}

func TestDecayPagesThroughPlayers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		f.seedRating(t, fmt.Sprintf("p%d", i), 1200, t0.AddDate(0, 0, -30))
	}

	res, err := f.decay.RunInactivityDecay(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 5 || res.Succeeded != 5 {
		t.Errorf("expected every page processed, got %+v", res)
	}
}

func TestDecayRestartsAfterNewMatch(t *testing.T) {
	f := newFixture(t)
	f.addClub(t, "club-1", "alice", "bob")
	ctx := context.Background()
	f.seedRating(t, "alice", 1200, t0.AddDate(0, 0, -20))
	f.seedRating(t, "bob", 1200, t0.AddDate(0, 0, -1))

	if _, err := f.decay.RunInactivityDecay(ctx); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(2 * time.Hour)
	f.reportConfirmed(t, "alice", "bob")
	after := f.rating(t, "alice").CurrentRating

	f.clock.Advance(10 * 24 * time.Hour)
	res, err := f.decay.RunInactivityDecay(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 0 {
		t.Errorf("a player who just played was decayed: %+v", res)
	}

	f.clock.Advance(5 * 24 * time.Hour)
	if _, err := f.decay.RunInactivityDecay(ctx); err != nil {
		t.Fatal(err)
	}
	// 15 whole days since the new match: one day over the threshold
	if r := f.rating(t, "alice"); r.CurrentRating != after-2 {
		t.Errorf("alice = %d, want %d", r.CurrentRating, after-2)
	}
	f.assertLedger(t, "alice")
}
