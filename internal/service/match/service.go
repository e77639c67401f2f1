package match

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"storm-arena/internal/model"
	"storm-arena/internal/service/balance"
	"storm-arena/internal/service/rating"
	"storm-arena/internal/service/replay"
	"storm-arena/internal/service/user"
	appErr "storm-arena/pkg/errors"
	"storm-arena/pkg/logger"
	"storm-arena/pkg/utils/random"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const lobbyCodeLength = 6

type Service struct {
	db      *gorm.DB
	users   *user.Service
	ratings *rating.Service
}

func NewService(db *gorm.DB, users *user.Service, ratings *rating.Service) *Service {
	return &Service{db: db, users: users, ratings: ratings}
}

// Create persists a match from a balanced roster. Participants are not
// written here: pre-game rosters may not survive no-shows or
// substitutions, so rows are recorded only at completion from verified
// replay data.
func (s *Service) Create(ctx context.Context, params CreateParams) (*model.Match, error) {
	if len(params.Split.Blue) == 0 || len(params.Split.Red) == 0 {
		return nil, appErr.ErrValidation
	}

	snapshot := rosterSnapshot{
		Blue: toRosterEntries(params.Split.Blue),
		Red:  toRosterEntries(params.Split.Red),
	}
	rosterBytes, err := json.Marshal(snapshot)
	if err != nil {
		return nil, err
	}

	total := len(params.Split.Blue) + len(params.Split.Red)
	average := 0
	if total > 0 {
		average = (params.Split.AverageBlue*len(params.Split.Blue) + params.Split.AverageRed*len(params.Split.Red)) / total
	}

	m := model.Match{
		Status:         model.MatchStatusWaiting,
		MapName:        params.MapName,
		CreatedBy:      params.CreatedBy,
		LobbyCode:      random.Code(lobbyCodeLength),
		MaxPlayers:     balance.MatchSize,
		CurrentPlayers: total,
		AverageRating:  average,
		RosterJSON:     datatypes.JSON(rosterBytes),
		Winner:         model.WinnerNone,
	}
	if params.InProgress {
		now := time.Now()
		m.Status = model.MatchStatusInProgress
		m.StartedAt = &now
	}

	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return nil, err
	}

	logger.Log.Info("match created",
		zap.Int64("matchID", m.ID),
		zap.String("map", m.MapName),
		zap.String("status", m.Status),
		zap.Int("averageRating", m.AverageRating),
	)
	return &m, nil
}

func (s *Service) Get(ctx context.Context, matchID int64) (*model.Match, error) {
	var m model.Match
	if err := s.db.WithContext(ctx).First(&m, matchID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, appErr.ErrMatchNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *Service) Participants(ctx context.Context, matchID int64) ([]model.Participant, error) {
	var rows []model.Participant
	err := s.db.WithContext(ctx).
		Where("match_id = ?", matchID).
		Order("team, id").
		Find(&rows).Error
	return rows, err
}

// ExpectedRoster decodes the formation-time snapshot into the shape
// the consistency scorer consumes.
func (s *Service) ExpectedRoster(m *model.Match) replay.Roster {
	var snapshot rosterSnapshot
	if len(m.RosterJSON) == 0 {
		return replay.Roster{}
	}
	if err := json.Unmarshal(m.RosterJSON, &snapshot); err != nil {
		return replay.Roster{}
	}
	roster := replay.Roster{
		Blue: make([]string, 0, len(snapshot.Blue)),
		Red:  make([]string, 0, len(snapshot.Red)),
	}
	for _, e := range snapshot.Blue {
		roster.Blue = append(roster.Blue, e.Name)
	}
	for _, e := range snapshot.Red {
		roster.Red = append(roster.Red, e.Name)
	}
	return roster
}

// Complete drives the in_progress -> completed transition and ingests
// per-player statistics. The status flip is one atomic update; a second
// call on a completed match is a no-op success so client retries stay
// safe. Stat ingestion runs after the transition commits, with each
// player's failure isolated.
func (s *Service) Complete(ctx context.Context, req CompleteRequest) (*CompleteResult, error) {
	if req.Winner != model.TeamBlue && req.Winner != model.TeamRed {
		return nil, fmt.Errorf("%w: winner must be blue or red", appErr.ErrValidation)
	}
	if len(req.Stats) == 0 {
		return nil, fmt.Errorf("%w: player stats are required", appErr.ErrValidation)
	}

	m, err := s.Get(ctx, req.MatchID)
	if err != nil {
		return nil, err
	}

	switch m.Status {
	case model.MatchStatusCompleted:
		return &CompleteResult{MatchID: m.ID, AlreadyCompleted: true}, nil
	case model.MatchStatusCancelled, model.MatchStatusInvalid:
		return nil, appErr.ErrMatchTerminal
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":                model.MatchStatusCompleted,
		"winner":                req.Winner,
		"game_duration_seconds": req.GameDurationSeconds,
		"ended_at":              now,
	}
	if m.StartedAt == nil {
		// Defensive backfill for matches completed straight from
		// waiting.
		started := now.Add(-time.Duration(req.GameDurationSeconds) * time.Second)
		updates["started_at"] = started
	}

	// The transition is one guarded update: the status predicate makes
	// concurrent completions race safely without row locks.
	res := s.db.WithContext(ctx).Model(&model.Match{}).
		Where("id = ? AND status IN ?", m.ID, []string{model.MatchStatusWaiting, model.MatchStatusInProgress}).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		current, err := s.Get(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		if current.Status == model.MatchStatusCompleted {
			return &CompleteResult{MatchID: m.ID, AlreadyCompleted: true}, nil
		}
		return nil, appErr.ErrMatchTerminal
	}

	result := &CompleteResult{MatchID: m.ID}
	for _, stat := range req.Stats {
		if err := s.ingestPlayerStat(ctx, m, req, stat); err != nil {
			result.Skipped++
			logger.Log.Warn("player stat skipped",
				zap.Int64("matchID", m.ID),
				zap.String("player", stat.DisplayName),
				zap.Error(err),
			)
			continue
		}
		result.Recorded++
	}

	finalUpdates := map[string]interface{}{"current_players": result.Recorded}
	if result.Skipped > 0 {
		finalUpdates["notes"] = fmt.Sprintf("statistics ingestion degraded: %d of %d entries skipped", result.Skipped, len(req.Stats))
	}
	if err := s.db.WithContext(ctx).Model(&model.Match{}).Where("id = ?", m.ID).Updates(finalUpdates).Error; err != nil {
		logger.Log.Warn("failed to record ingestion summary",
			zap.Int64("matchID", m.ID),
			zap.Error(err),
		)
	}

	logger.Log.Info("match completed",
		zap.Int64("matchID", m.ID),
		zap.String("winner", req.Winner),
		zap.Int("recorded", result.Recorded),
		zap.Int("skipped", result.Skipped),
		zap.Bool("simulation", req.IsSimulation),
	)
	return result, nil
}

func (s *Service) ingestPlayerStat(ctx context.Context, m *model.Match, req CompleteRequest, stat PlayerStat) error {
	name := strings.TrimSpace(stat.DisplayName)
	if name == "" {
		return fmt.Errorf("%w: missing display name", appErr.ErrValidation)
	}
	team := strings.ToLower(strings.TrimSpace(stat.Team))
	if team != model.TeamBlue && team != model.TeamRed {
		return fmt.Errorf("%w: missing or unknown team for %q", appErr.ErrValidation, name)
	}

	resolved, err := s.users.ResolveByDisplayName(ctx, name)
	if err != nil {
		return err
	}

	parsed := replay.ParsedPlayer{Name: name, Hero: stat.Hero, RawStats: stat.RawStats}
	stats := parsed.Stats()

	rawBytes, err := json.Marshal(stat.RawStats)
	if err != nil {
		rawBytes = []byte("{}")
	}

	row := model.Participant{
		MatchID:      m.ID,
		DisplayName:  name,
		Team:         team,
		Hero:         strings.TrimSpace(stat.Hero),
		Kills:        stats.Kills,
		Deaths:       stats.Deaths,
		Assists:      stats.Assists,
		HeroDamage:   stats.HeroDamage,
		SiegeDamage:  stats.SiegeDamage,
		Healing:      stats.Healing,
		Experience:   stats.Experience,
		RawStatsJSON: datatypes.JSON(rawBytes),
	}

	if resolved != nil {
		row.UserID = &resolved.ID
		won := team == req.Winner
		if req.IsSimulation {
			current, err := s.ratings.Get(ctx, resolved.ID)
			if err != nil {
				return err
			}
			row.RatingBefore = current.Rating
			row.RatingAfter = current.Rating
		} else {
			outcome, err := s.ratings.ApplyResult(ctx, resolved.ID, s.opponentAverage(m, team), won)
			if err != nil {
				return err
			}
			row.RatingBefore = outcome.Before
			row.RatingAfter = outcome.After
			row.RatingChange = outcome.Change
		}
	}

	return s.db.WithContext(ctx).Create(&row).Error
}

// opponentAverage feeds the rating policy the opposing side's
// formation-time average, falling back to the match average when the
// snapshot is unreadable.
func (s *Service) opponentAverage(m *model.Match, team string) int {
	var snapshot rosterSnapshot
	if len(m.RosterJSON) == 0 || json.Unmarshal(m.RosterJSON, &snapshot) != nil {
		return m.AverageRating
	}
	opponents := snapshot.Red
	if team == model.TeamRed {
		opponents = snapshot.Blue
	}
	if len(opponents) == 0 {
		return m.AverageRating
	}
	sum := 0
	for _, e := range opponents {
		sum += e.Rating
	}
	return sum / len(opponents)
}

// Cancel flips a not-yet-completed match to cancelled. Cancelling an
// already-cancelled match is a no-op.
func (s *Service) Cancel(ctx context.Context, matchID int64, reason string) error {
	m, err := s.Get(ctx, matchID)
	if err != nil {
		return err
	}

	switch m.Status {
	case model.MatchStatusCancelled:
		return nil
	case model.MatchStatusCompleted, model.MatchStatusInvalid:
		return appErr.ErrMatchTerminal
	}

	updates := map[string]interface{}{
		"status":   model.MatchStatusCancelled,
		"ended_at": time.Now(),
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		updates["notes"] = "cancelled: " + reason
	}
	res := s.db.WithContext(ctx).Model(&model.Match{}).
		Where("id = ? AND status IN ?", m.ID, []string{model.MatchStatusWaiting, model.MatchStatusInProgress}).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		current, err := s.Get(ctx, m.ID)
		if err != nil {
			return err
		}
		if current.Status == model.MatchStatusCancelled {
			return nil
		}
		return appErr.ErrMatchTerminal
	}

	logger.Log.Info("match cancelled",
		zap.Int64("matchID", m.ID),
		zap.String("reason", reason),
	)
	return nil
}

// Invalidate marks a completed match invalid after the fact. Applied
// participant stats are not reverted. Invalidating twice is a no-op.
func (s *Service) Invalidate(ctx context.Context, matchID int64, reason string) error {
	m, err := s.Get(ctx, matchID)
	if err != nil {
		return err
	}

	switch m.Status {
	case model.MatchStatusInvalid:
		return nil
	case model.MatchStatusCompleted:
	default:
		return appErr.ErrMatchNotCompleted
	}

	updates := map[string]interface{}{"status": model.MatchStatusInvalid}
	if reason = strings.TrimSpace(reason); reason != "" {
		updates["notes"] = "invalidated: " + reason
	}
	res := s.db.WithContext(ctx).Model(&model.Match{}).
		Where("id = ? AND status = ?", m.ID, model.MatchStatusCompleted).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		current, err := s.Get(ctx, m.ID)
		if err != nil {
			return err
		}
		if current.Status == model.MatchStatusInvalid {
			return nil
		}
		return appErr.ErrMatchNotCompleted
	}

	logger.Log.Info("match invalidated",
		zap.Int64("matchID", m.ID),
		zap.String("reason", reason),
	)
	return nil
}

type ListFilter struct {
	Page   int
	Size   int
	Status string
}

type ListResult struct {
	Items []model.Match
	Total int64
}

func (s *Service) List(ctx context.Context, filter ListFilter) (*ListResult, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Size <= 0 || filter.Size > 100 {
		filter.Size = 20
	}

	query := s.db.WithContext(ctx).Model(&model.Match{})
	if status := strings.TrimSpace(filter.Status); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	result := &ListResult{Items: make([]model.Match, 0), Total: total}
	if total == 0 {
		return result, nil
	}

	err := query.
		Order("id DESC").
		Limit(filter.Size).
		Offset((filter.Page - 1) * filter.Size).
		Find(&result.Items).Error
	if err != nil {
		return nil, err
	}
	return result, nil
}

func toRosterEntries(players []balance.Player) []RosterEntry {
	entries := make([]RosterEntry, len(players))
	for i, p := range players {
		entries[i] = RosterEntry{UserID: p.UserID, Name: p.DisplayName, Rating: p.Rating}
	}
	return entries
}
