package services

import (
	"fmt"
	"math"

	"club-ladder/config"
	"club-ladder/models"
)

// MatchContext carries the recent-history facts the engine needs about a match.
// All counts exclude the match being rated.
type MatchContext struct {
	Format models.MatchFormat

	// no effective match between the two players in the novelty window
	IsNewOpponent bool
	// effective matches between the two players in the repetition window
	RecentMatchesVsOpponent int
	// distinct opponents of the winner in the diversity window, this match included
	WinnerDistinctOpponents int
}

// RatingResult is the outcome of one rating computation. DeltaA and DeltaB
// are in the order the ratings were passed to Compute.
type RatingResult struct {
	DeltaA int `json:"delta_a"`
	DeltaB int `json:"delta_b"`

	ExpectedWinner   float64 `json:"expected_winner"`
	Base             float64 `json:"base"`
	FormatWeight     float64 `json:"format_weight"`
	RepetitionFactor float64 `json:"repetition_factor"`
	WinnerMultiplier float64 `json:"winner_multiplier"`

	NewOpponent bool `json:"new_opponent"`
	Upset       bool `json:"upset"`
	Diversity   bool `json:"diversity"`
}

// RatingEngine computes Elo-style deltas. It holds no state beyond its coefficients.
type RatingEngine struct {
	cfg config.RatingConfig
}

func NewRatingEngine(cfg config.RatingConfig) *RatingEngine {
	return &RatingEngine{cfg: cfg}
}

// ExpectedScore is the logistic probability that a player rated r beats one rated opp.
func ExpectedScore(r, opp int) float64 {
	return 1 / (1 + math.Pow(10, float64(opp-r)/400))
}

// FormatWeight returns the reliability coefficient of a format.
func (e *RatingEngine) FormatWeight(format models.MatchFormat) (float64, error) {
	w, ok := e.cfg.FormatWeights[string(format)]
	if !ok || w <= 0 {
		return 0, fmt.Errorf("%w: no weight for %q", ErrInvalidFormat, format)
	}
	return w, nil
}

// Compute returns the signed deltas for a match between players rated ratingA
// and ratingB. Winner bonuses (new opponent, upset, diversity) only grow the
// winner's gain; the repetition penalty shrinks both sides.
func (e *RatingEngine) Compute(ratingA, ratingB int, aWon bool, mc MatchContext) (RatingResult, error) {
	weight, err := e.FormatWeight(mc.Format)
	if err != nil {
		return RatingResult{}, err
	}

	winner, loser := ratingA, ratingB
	if !aWon {
		winner, loser = ratingB, ratingA
	}

	expected := ExpectedScore(winner, loser)
	base := e.cfg.KFactor * (1 - expected)

	repetition := 1.0
	if mc.RecentMatchesVsOpponent > 0 {
		repetition = math.Pow(1-e.cfg.RepetitionPenalty, float64(mc.RecentMatchesVsOpponent))
	}

	res := RatingResult{
		ExpectedWinner:   expected,
		Base:             base,
		FormatWeight:     weight,
		RepetitionFactor: repetition,
		WinnerMultiplier: 1,
		NewOpponent:      mc.IsNewOpponent,
		Upset:            loser-winner >= e.cfg.UpsetThreshold,
		Diversity:        e.cfg.DiversityMinOpponents > 0 && mc.WinnerDistinctOpponents >= e.cfg.DiversityMinOpponents,
	}
	if res.NewOpponent {
		res.WinnerMultiplier *= 1 + e.cfg.NewOpponentBonus
	}
	if res.Upset {
		res.WinnerMultiplier *= 1 + e.cfg.UpsetBonus
	}
	if res.Diversity {
		res.WinnerMultiplier *= 1 + e.cfg.DiversityBonus
	}

	shared := base * weight * repetition
	gain := magnitude(shared * res.WinnerMultiplier)
	loss := -magnitude(shared)

	if aWon {
		res.DeltaA, res.DeltaB = gain, loss
	} else {
		res.DeltaA, res.DeltaB = loss, gain
	}
	return res, nil
}

// magnitude rounds to the nearest integer and never returns less than 1,
// so every finalized result moves both ratings.
func magnitude(x float64) int {
	m := int(math.Round(x))
	if m < 1 {
		return 1
	}
	return m
}
