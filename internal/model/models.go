package model

import (
	"time"

	"gorm.io/datatypes"
)

// 2.1 Accounts & ratings

type User struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	Battletag   string `gorm:"unique;not null"` // "Name#1234"
	DisplayName string
	Avatar      string
	Status      string `gorm:"default:normal;not null"` // normal/banned
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Admin struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	Username     string `gorm:"unique;not null"`
	PasswordHash string `gorm:"not null"`
	DisplayName  string
	Status       string `gorm:"default:active;not null"` // active/disabled
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type PlayerRating struct {
	UserID      int64 `gorm:"primaryKey"`
	Rating      int   `gorm:"default:2200"`
	Wins        int   `gorm:"default:0"`
	Losses      int   `gorm:"default:0"`
	GamesPlayed int   `gorm:"default:0"`
	UpdatedAt   time.Time
}

// 2.2 Matches

const (
	MatchStatusWaiting    = "waiting"
	MatchStatusInProgress = "in_progress"
	MatchStatusCompleted  = "completed"
	MatchStatusCancelled  = "cancelled"
	MatchStatusInvalid    = "invalid"
)

const (
	TeamBlue   = "blue"
	TeamRed    = "red"
	WinnerNone = "none"
)

type Match struct {
	ID                  int64  `gorm:"primaryKey;autoIncrement"`
	Status              string `gorm:"default:waiting;not null"`
	MapName             string
	CreatedBy           int64
	LobbyCode           string
	MaxPlayers          int `gorm:"default:10"`
	CurrentPlayers      int
	AverageRating       int
	RosterJSON          datatypes.JSON `gorm:"type:jsonb"` // formation-time roster snapshot
	Winner              string         `gorm:"default:none"`
	GameDurationSeconds int
	Notes               string
	StartedAt           *time.Time
	EndedAt             *time.Time
	CreatedAt           time.Time
}

// Participant rows are written once at completion and never mutated.
// UserID is nil when the replay name resolved to no account; the row is
// kept for historical stats but excluded from rating updates.
type Participant struct {
	ID           int64 `gorm:"primaryKey;autoIncrement"`
	MatchID      int64 `gorm:"index"`
	UserID       *int64
	DisplayName  string
	Team         string // blue/red
	Hero         string
	Kills        int
	Deaths       int
	Assists      int
	HeroDamage   int64
	SiegeDamage  int64
	Healing      int64
	Experience   int64
	RatingBefore int
	RatingAfter  int
	RatingChange int
	RawStatsJSON datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt    time.Time
}

// 2.3 Battlegrounds

type Battleground struct {
	ID          int64          `gorm:"primaryKey;autoIncrement"`
	Name        string         `gorm:"unique;not null"` // canonical display name
	AliasesJSON datatypes.JSON `gorm:"type:jsonb"`      // internal/localized names seen in replays
	Status      string         `gorm:"default:enabled"` // enabled/disabled
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
