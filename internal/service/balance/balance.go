package balance

import "sort"

// TeamSize is the number of players per side; a full lobby is twice this.
const TeamSize = 5

// MatchSize is the number of players drafted into one match.
const MatchSize = TeamSize * 2

type Player struct {
	UserID      int64
	DisplayName string
	Rating      int
}

type Split struct {
	Blue        []Player
	Red         []Player
	AverageBlue int
	AverageRed  int
	RatingGap   int
}

// slotTeams maps each descending-rating slot to its preferred team.
// Slots are taken in blocks of four: the first two of a block go to one
// side, the next two to the other, and the block-to-team mapping flips
// between blocks. The trailing pair reuses the first block's mapping;
// the capacity guard in SplitTeams spills overflow to the open side.
var slotTeams = [MatchSize]string{
	"blue", "blue", "red", "red",
	"red", "red", "blue", "blue",
	"blue", "blue",
}

// SplitTeams drafts exactly MatchSize players into two sides of
// TeamSize each. It is pure: callers pass a snapshot of the selected
// queue entries and the queue itself is never touched. The draft is
// deterministic for a given input: players are ordered descending by
// rating with display name as the tie break, then assigned by slotTeams.
func SplitTeams(players []Player) Split {
	selected := make([]Player, len(players))
	copy(selected, players)
	sort.SliceStable(selected, func(i, j int) bool {
		if selected[i].Rating != selected[j].Rating {
			return selected[i].Rating > selected[j].Rating
		}
		return selected[i].DisplayName < selected[j].DisplayName
	})
	if len(selected) > MatchSize {
		selected = selected[:MatchSize]
	}

	split := Split{
		Blue: make([]Player, 0, TeamSize),
		Red:  make([]Player, 0, TeamSize),
	}
	for i, p := range selected {
		team := slotTeams[i]
		if team == "blue" && len(split.Blue) >= TeamSize {
			team = "red"
		} else if team == "red" && len(split.Red) >= TeamSize {
			team = "blue"
		}
		if team == "blue" {
			split.Blue = append(split.Blue, p)
		} else {
			split.Red = append(split.Red, p)
		}
	}

	split.AverageBlue = averageRating(split.Blue)
	split.AverageRed = averageRating(split.Red)
	diff := split.AverageBlue - split.AverageRed
	if diff < 0 {
		diff = -diff
	}
	split.RatingGap = diff
	return split
}

func averageRating(players []Player) int {
	if len(players) == 0 {
		return 0
	}
	var sum int
	for _, p := range players {
		sum += p.Rating
	}
	return sum / len(players)
}
