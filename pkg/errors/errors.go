package errors

import "errors"

// Auth
var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidBattletag  = errors.New("invalid battletag")
	ErrLoginCodeExpired  = errors.New("login code expired")
	ErrInvalidLoginCode  = errors.New("invalid login code")
	ErrUserBanned        = errors.New("user is banned")
	ErrUserNotFound      = errors.New("user not found")
	ErrInvalidUserStatus = errors.New("invalid user status")
)

// Admin
var (
	ErrAdminNotFound        = errors.New("admin not found")
	ErrInvalidAdminPassword = errors.New("invalid admin password")
	ErrAdminDisabled        = errors.New("admin account disabled")
)

// Queue & matchmaking
var (
	ErrQueueClosed      = errors.New("queue is closed")
	ErrNotEnoughPlayers = errors.New("not enough players for a full match")
)

// Match lifecycle
var (
	ErrMatchNotFound        = errors.New("match not found")
	ErrMatchAlreadyComplete = errors.New("match already completed")
	ErrMatchTerminal        = errors.New("match is in a terminal state")
	ErrMatchNotCompleted    = errors.New("match is not completed")
	ErrValidation           = errors.New("validation failed")
)

// Replay verification
var (
	ErrReplayRejected = errors.New("replay rejected by consistency check")
)

// Battlegrounds
var (
	ErrBattlegroundNotFound = errors.New("battleground not found")
)
