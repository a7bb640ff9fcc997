package services

import (
	"errors"
	"testing"

	"club-ladder/models"
)

func TestParseScoreValid(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		format     models.MatchFormat
		canonical  string
		player1Won bool
	}{
		{"straight sets", "6-4 6-3", models.FormatThreeSets, "6-4 6-3", true},
		{"three sets loss", "4-6 6-3 2-6", models.FormatThreeSets, "4-6 6-3 2-6", false},
		{"comma separated", "6-4,7-5", models.FormatTwoSets, "6-4 7-5", true},
		{"tiebreak points", "7-6(5) 6-7(3) 10-8", models.FormatTwoSetsSuperTiebreak, "7-6(5) 6-7(3) 10-8", true},
		{"super tiebreak decided in two", "3-6 4-6", models.FormatTwoSetsSuperTiebreak, "3-6 4-6", false},
		{"one set", "7-5", models.FormatOneSet, "7-5", true},
		{"match tiebreak", "8-10", models.FormatSuperTiebreak, "8-10", false},
		{"long match tiebreak", "12-10", models.FormatSuperTiebreak, "12-10", true},
		{"extra whitespace", "  6-0   6-0 ", models.FormatThreeSets, "6-0 6-0", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseScore(tt.raw, tt.format)
			if err != nil {
				t.Fatalf("ParseScore(%q, %s) failed: %v", tt.raw, tt.format, err)
			}
			if got := s.Canonical(); got != tt.canonical {
				t.Errorf("canonical = %q, want %q", got, tt.canonical)
			}
			if s.Player1Won != tt.player1Won {
				t.Errorf("player1Won = %v, want %v", s.Player1Won, tt.player1Won)
			}
		})
	}
}

func TestParseScoreInvalid(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		format models.MatchFormat
	}{
		{"empty", "", models.FormatThreeSets},
		{"garbage", "six-four", models.FormatThreeSets},
		{"unfinished set", "6-5 6-4", models.FormatThreeSets},
		{"eight six", "8-6 6-4", models.FormatThreeSets},
		{"set after decided", "6-4 6-4 6-2", models.FormatThreeSets},
		{"incomplete match", "6-4 4-6", models.FormatThreeSets},
		{"two sets split", "6-4 4-6", models.FormatTwoSets},
		{"third set not a match tiebreak", "6-4 4-6 6-3", models.FormatTwoSetsSuperTiebreak},
		{"tiebreak points on 6-4", "6-4(3) 6-4", models.FormatThreeSets},
		{"match tiebreak short", "10-9", models.FormatSuperTiebreak},
		{"match tiebreak too long", "13-10", models.FormatSuperTiebreak},
		{"match tiebreak below ten", "6-4", models.FormatSuperTiebreak},
		{"one set too many", "6-4 6-4", models.FormatOneSet},
		{"tie", "6-6", models.FormatOneSet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScore(tt.raw, tt.format)
			if !errors.Is(err, ErrInvalidScore) {
				t.Errorf("ParseScore(%q, %s) error = %v, want invalid_score", tt.raw, tt.format, err)
			}
		})
	}
}

func TestParseScoreUnknownFormat(t *testing.T) {
	if _, err := ParseScore("6-4 6-4", "best_of_five"); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("expected invalid_format, got %v", err)
	}
}

// The same match reported by either player must name the same winner.
func TestScoreMirrorKeepsWinner(t *testing.T) {
	scores := []struct {
		raw    string
		format models.MatchFormat
	}{
		{"6-4 3-6 6-1", models.FormatThreeSets},
		{"7-6(4) 6-7(8) 10-6", models.FormatTwoSetsSuperTiebreak},
		{"2-6 6-7(5)", models.FormatTwoSets},
		{"6-2", models.FormatOneSet},
		{"11-13", models.FormatSuperTiebreak},
	}

	for _, sc := range scores {
		t.Run(sc.raw, func(t *testing.T) {
			asA, err := ParseScore(sc.raw, sc.format)
			if err != nil {
				t.Fatalf("parse %q: %v", sc.raw, err)
			}
			mirrored := asA.Mirror().Canonical()
			asB, err := ParseScore(mirrored, sc.format)
			if err != nil {
				t.Fatalf("parse mirrored %q: %v", mirrored, err)
			}

			winnerA := "B"
			if asA.Player1Won {
				winnerA = "A"
			}
			winnerB := "A"
			if asB.Player1Won {
				winnerB = "B"
			}
			if winnerA != winnerB {
				t.Errorf("%q names %s, mirrored %q names %s", sc.raw, winnerA, mirrored, winnerB)
			}
			if back := asB.Mirror().Canonical(); back != asA.Canonical() {
				t.Errorf("double mirror = %q, want %q", back, asA.Canonical())
			}
		})
	}
}
