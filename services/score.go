package services

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"club-ladder/models"
)

var setPattern = regexp.MustCompile(`^(\d{1,2})-(\d{1,2})(?:\((\d{1,2})\))?$`)

// SetScore is one set (or match tiebreak) from player1's point of view.
type SetScore struct {
	Games1   int
	Games2   int
	Tiebreak *int // loser's points in a 7-6 tiebreak
	Super    bool // match tiebreak played to 10
}

func (s SetScore) player1Won() bool {
	return s.Games1 > s.Games2
}

func (s SetScore) String() string {
	out := fmt.Sprintf("%d-%d", s.Games1, s.Games2)
	if s.Tiebreak != nil {
		out += fmt.Sprintf("(%d)", *s.Tiebreak)
	}
	return out
}

// Score is a validated result for a given format.
type Score struct {
	Format     models.MatchFormat
	Sets       []SetScore
	SetsWon1   int
	SetsWon2   int
	Player1Won bool
}

// Canonical renders the score in the stored form, e.g. "6-4 3-6 10-8".
func (s *Score) Canonical() string {
	parts := make([]string, len(s.Sets))
	for i, set := range s.Sets {
		parts[i] = set.String()
	}
	return strings.Join(parts, " ")
}

// Mirror returns the same result seen from player2's side.
func (s *Score) Mirror() *Score {
	m := &Score{
		Format:     s.Format,
		Sets:       make([]SetScore, len(s.Sets)),
		SetsWon1:   s.SetsWon2,
		SetsWon2:   s.SetsWon1,
		Player1Won: !s.Player1Won,
	}
	for i, set := range s.Sets {
		m.Sets[i] = SetScore{Games1: set.Games2, Games2: set.Games1, Tiebreak: set.Tiebreak, Super: set.Super}
	}
	return m
}

type formatRule struct {
	setsToWin int
	maxSets   int
	superAt   int // index of the set played as a match tiebreak, -1 for none
}

var formatRules = map[models.MatchFormat]formatRule{
	models.FormatOneSet:               {setsToWin: 1, maxSets: 1, superAt: -1},
	models.FormatTwoSets:              {setsToWin: 2, maxSets: 2, superAt: -1},
	models.FormatTwoSetsSuperTiebreak: {setsToWin: 2, maxSets: 3, superAt: 2},
	models.FormatThreeSets:            {setsToWin: 2, maxSets: 3, superAt: -1},
	models.FormatSuperTiebreak:        {setsToWin: 1, maxSets: 1, superAt: 0},
}

// ParseScore validates a set-by-set score against the match format.
// Sets are separated by spaces or commas: "6-4 6-7(5) 10-8".
func ParseScore(raw string, format models.MatchFormat) (*Score, error) {
	rule, ok := formatRules[format]
	if !ok {
		return nil, ErrInvalidFormat
	}

	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t'
	})
	if len(fields) == 0 {
		return nil, validationf(ErrInvalidScore.Code, "score is empty")
	}
	if len(fields) > rule.maxSets {
		return nil, validationf(ErrInvalidScore.Code, "%s allows at most %d sets, got %d", format, rule.maxSets, len(fields))
	}

	score := &Score{Format: format}
	for i, field := range fields {
		if score.SetsWon1 == rule.setsToWin || score.SetsWon2 == rule.setsToWin {
			return nil, validationf(ErrInvalidScore.Code, "set %q played after the match was decided", field)
		}
		set, err := parseSet(field, i == rule.superAt)
		if err != nil {
			return nil, err
		}
		if set.player1Won() {
			score.SetsWon1++
		} else {
			score.SetsWon2++
		}
		score.Sets = append(score.Sets, set)
	}

	switch {
	case score.SetsWon1 == rule.setsToWin:
		score.Player1Won = true
	case score.SetsWon2 == rule.setsToWin:
		score.Player1Won = false
	default:
		return nil, validationf(ErrInvalidScore.Code, "score %q does not complete a %s match", raw, format)
	}
	return score, nil
}

func parseSet(field string, super bool) (SetScore, error) {
	m := setPattern.FindStringSubmatch(field)
	if m == nil {
		return SetScore{}, validationf(ErrInvalidScore.Code, "set %q is not in the form games-games", field)
	}
	a, _ := strconv.Atoi(m[1])
	b, _ := strconv.Atoi(m[2])
	set := SetScore{Games1: a, Games2: b, Super: super}

	hi, lo := a, b
	if lo > hi {
		hi, lo = lo, hi
	}

	if super {
		if m[3] != "" {
			return SetScore{}, validationf(ErrInvalidScore.Code, "match tiebreak %q cannot carry tiebreak points", field)
		}
		if hi < 10 || hi-lo < 2 || (hi > 10 && hi-lo != 2) {
			return SetScore{}, validationf(ErrInvalidScore.Code, "match tiebreak %q must be won to 10 by two points", field)
		}
		return set, nil
	}

	switch {
	case hi == 6 && lo <= 4:
	case hi == 7 && (lo == 5 || lo == 6):
	default:
		return SetScore{}, validationf(ErrInvalidScore.Code, "set %q is not a finished set", field)
	}

	if m[3] != "" {
		if hi != 7 || lo != 6 {
			return SetScore{}, validationf(ErrInvalidScore.Code, "tiebreak points only apply to a 7-6 set, got %q", field)
		}
		tb, _ := strconv.Atoi(m[3])
		set.Tiebreak = &tb
	}
	return set, nil
}
