package match

import "storm-arena/internal/service/balance"

type CreateParams struct {
	Split      balance.Split
	MapName    string
	CreatedBy  int64
	InProgress bool // matchmaking creates matches already running
}

// RosterEntry is one formation-time roster slot, snapshotted onto the
// match so later rating changes never alter what was recorded.
type RosterEntry struct {
	UserID int64  `json:"userId"`
	Name   string `json:"name"`
	Rating int    `json:"rating"`
}

type rosterSnapshot struct {
	Blue []RosterEntry `json:"blue"`
	Red  []RosterEntry `json:"red"`
}

// PlayerStat is one player's line from a parsed replay.
type PlayerStat struct {
	DisplayName string
	Team        string // blue/red
	Hero        string
	RawStats    map[string]interface{}
}

type CompleteRequest struct {
	MatchID             int64
	Winner              string // blue/red
	GameDurationSeconds int
	Stats               []PlayerStat
	IsSimulation        bool
}

type CompleteResult struct {
	MatchID          int64 `json:"matchId"`
	Recorded         int   `json:"recorded"`
	Skipped          int   `json:"skipped"`
	AlreadyCompleted bool  `json:"alreadyCompleted"`
}
