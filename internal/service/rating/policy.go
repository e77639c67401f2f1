package rating

import "math"

// Outcome is the input to a rating policy for one player of a decided
// match.
type Outcome struct {
	Rating          int
	OpponentAverage int
	GamesPlayed     int
	Won             bool
}

// Policy computes the rating delta applied to a player after a match.
// The production delta formula is not settled yet, so the hook is kept
// pluggable and the default writes no change.
type Policy interface {
	Delta(outcome Outcome) int
}

// ZeroPolicy records results without moving ratings. It is the wired
// default until a delta formula is adopted.
type ZeroPolicy struct{}

func (ZeroPolicy) Delta(Outcome) int { return 0 }

// EloPolicy is an opt-in classic Elo update against the opposing
// team's average rating. K shrinks as a player's history grows:
// under 10 games 40, under 20 games 32, then 24.
type EloPolicy struct{}

func (EloPolicy) Delta(outcome Outcome) int {
	expected := 1.0 / (1.0 + math.Pow(10, float64(outcome.OpponentAverage-outcome.Rating)/400.0))
	actual := 0.0
	if outcome.Won {
		actual = 1.0
	}
	return int(math.Round(kFactor(outcome.GamesPlayed) * (actual - expected)))
}

func kFactor(gamesPlayed int) float64 {
	switch {
	case gamesPlayed < 10:
		return 40
	case gamesPlayed < 20:
		return 32
	default:
		return 24
	}
}
