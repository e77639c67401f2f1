package rating

import (
	"context"
	"time"

	"storm-arena/internal/model"
	"storm-arena/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const DefaultRating = 2200

type Service struct {
	db     *gorm.DB
	policy Policy
}

type LeaderboardEntry struct {
	UserID      int64  `json:"userId"`
	Battletag   string `json:"battletag"`
	Rating      int    `json:"rating"`
	Wins        int    `json:"wins"`
	Losses      int    `json:"losses"`
	GamesPlayed int    `json:"gamesPlayed"`
}

type LeaderboardResult struct {
	Items []LeaderboardEntry
	Total int64
}

// ApplyResultOutcome reports what a result application did to one
// player, so completion can persist before/after values on the
// participant row.
type ApplyResultOutcome struct {
	Before int
	After  int
	Change int
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db, policy: ZeroPolicy{}}
}

// SetPolicy swaps the delta formula. Intended for wiring at startup,
// not for concurrent use.
func (s *Service) SetPolicy(policy Policy) {
	if policy == nil {
		policy = ZeroPolicy{}
	}
	s.policy = policy
}

// Get returns the player's rating row, creating a default one the
// first time a player is seen.
func (s *Service) Get(ctx context.Context, userID int64) (*model.PlayerRating, error) {
	var row model.PlayerRating
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if err == nil {
		return &row, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	row = model.PlayerRating{UserID: userID, Rating: DefaultRating}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return nil, err
	}
	return s.Get(ctx, userID)
}

// ApplyResult runs the configured policy for one player and persists
// the new rating plus win/loss counters in one update.
func (s *Service) ApplyResult(ctx context.Context, userID int64, opponentAverage int, won bool) (*ApplyResultOutcome, error) {
	row, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	change := s.policy.Delta(Outcome{
		Rating:          row.Rating,
		OpponentAverage: opponentAverage,
		GamesPlayed:     row.GamesPlayed,
		Won:             won,
	})

	updates := map[string]interface{}{
		"rating":       row.Rating + change,
		"games_played": row.GamesPlayed + 1,
		"updated_at":   time.Now(),
	}
	if won {
		updates["wins"] = row.Wins + 1
	} else {
		updates["losses"] = row.Losses + 1
	}

	err = s.db.WithContext(ctx).Model(&model.PlayerRating{}).
		Where("user_id = ?", userID).
		Updates(updates).Error
	if err != nil {
		return nil, err
	}

	logger.Log.Info("rating result applied",
		zap.Int64("userID", userID),
		zap.Bool("won", won),
		zap.Int("change", change),
	)

	return &ApplyResultOutcome{
		Before: row.Rating,
		After:  row.Rating + change,
		Change: change,
	}, nil
}

// Leaderboard lists players ordered by rating.
func (s *Service) Leaderboard(ctx context.Context, page, size int) (*LeaderboardResult, error) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&model.PlayerRating{}).Count(&total).Error; err != nil {
		return nil, err
	}

	result := &LeaderboardResult{Items: make([]LeaderboardEntry, 0), Total: total}
	if total == 0 {
		return result, nil
	}

	err := s.db.WithContext(ctx).Model(&model.PlayerRating{}).
		Select("player_ratings.user_id, users.battletag, player_ratings.rating, player_ratings.wins, player_ratings.losses, player_ratings.games_played").
		Joins("JOIN users ON users.id = player_ratings.user_id").
		Order("player_ratings.rating DESC").
		Limit(size).
		Offset((page - 1) * size).
		Scan(&result.Items).Error
	if err != nil {
		return nil, err
	}
	return result, nil
}
