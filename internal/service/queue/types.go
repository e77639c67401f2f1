package queue

import "time"

type JoinRequest struct {
	UserID         int64
	DisplayName    string
	RatingSnapshot int
	PreferredRoles []string
}

// JoinResult reports the entry the caller now holds. Re-joining while
// already queued is a no-op success that echoes the original join time.
type JoinResult struct {
	AlreadyQueued bool      `json:"alreadyQueued"`
	JoinedAt      time.Time `json:"joinedAt"`
}

type StatusResult struct {
	InQueue              bool       `json:"inQueue"`
	WaitSeconds          int        `json:"waitSeconds"`
	QueuePosition        int        `json:"queuePosition"`
	EstimatedWaitSeconds int        `json:"estimatedWaitSeconds"`
	TotalQueued          int        `json:"totalQueued"`
	MatchedMatchID       *int64     `json:"matchedMatchId,omitempty"`
	JoinedAt             *time.Time `json:"joinedAt,omitempty"`
}

type entry struct {
	UserID         int64
	DisplayName    string
	RatingSnapshot int
	PreferredRoles []string
	JoinedAt       time.Time
}

type matchNotifyPayload struct {
	MatchID   int64  `json:"matchId"`
	MapName   string `json:"mapName"`
	LobbyCode string `json:"lobbyCode"`
}
