package match_test

import (
	"context"
	"fmt"
	"testing"

	"storm-arena/internal/model"
	"storm-arena/internal/service/balance"
	"storm-arena/internal/service/match"
	"storm-arena/internal/service/rating"
	"storm-arena/internal/service/user"
	appErr "storm-arena/pkg/errors"
	"storm-arena/pkg/logger"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newMatchService(t *testing.T) (*gorm.DB, *match.Service) {
	t.Helper()
	logger.InitTestLogger()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	models := []interface{}{&model.User{}, &model.PlayerRating{}, &model.Match{}, &model.Participant{}}
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	users := user.NewService(db)
	ratings := rating.NewService(db)
	return db, match.NewService(db, users, ratings)
}

func seedAccounts(t *testing.T, db *gorm.DB, n int) []model.User {
	t.Helper()
	users := make([]model.User, n)
	for i := range users {
		users[i] = model.User{
			Battletag:   fmt.Sprintf("Player%02d#1%03d", i+1, i+1),
			DisplayName: fmt.Sprintf("Player%02d", i+1),
		}
	}
	if err := db.Create(&users).Error; err != nil {
		t.Fatalf("seed users: %v", err)
	}
	return users
}

func splitFromUsers(users []model.User) balance.Split {
	players := make([]balance.Player, len(users))
	for i, u := range users {
		players[i] = balance.Player{UserID: u.ID, DisplayName: u.Battletag, Rating: 2500 - i*40}
	}
	return balance.SplitTeams(players)
}

func statsForSplit(split balance.Split) []match.PlayerStat {
	stats := make([]match.PlayerStat, 0, balance.MatchSize)
	for _, p := range split.Blue {
		stats = append(stats, match.PlayerStat{
			DisplayName: p.DisplayName,
			Team:        model.TeamBlue,
			Hero:        "Valla",
			RawStats:    map[string]interface{}{"SoloKill": float64(3), "Deaths": float64(1)},
		})
	}
	for _, p := range split.Red {
		stats = append(stats, match.PlayerStat{
			DisplayName: p.DisplayName,
			Team:        model.TeamRed,
			Hero:        "Muradin",
			RawStats:    map[string]interface{}{"SoloKill": float64(1), "Deaths": float64(2)},
		})
	}
	return stats
}

func createMatch(t *testing.T, db *gorm.DB, svc *match.Service) (*model.Match, balance.Split) {
	t.Helper()
	split := splitFromUsers(seedAccounts(t, db, 10))
	m, err := svc.Create(context.Background(), match.CreateParams{
		Split:      split,
		MapName:    "Dragon Shire",
		InProgress: true,
	})
	if err != nil {
		t.Fatalf("create match: %v", err)
	}
	return m, split
}

func TestCreateSnapshotsRoster(t *testing.T) {
	db, svc := newMatchService(t)
	m, split := createMatch(t, db, svc)

	if m.Status != model.MatchStatusInProgress || m.StartedAt == nil {
		t.Fatalf("expected in_progress with start time, got %+v", m)
	}
	if m.CurrentPlayers != 10 || m.MaxPlayers != 10 {
		t.Fatalf("unexpected player counts: %+v", m)
	}
	if m.AverageRating == 0 {
		t.Fatalf("average rating not recorded")
	}

	roster := svc.ExpectedRoster(m)
	if len(roster.Blue) != 5 || len(roster.Red) != 5 {
		t.Fatalf("snapshot roster incomplete: %+v", roster)
	}
	if roster.Blue[0] != split.Blue[0].DisplayName {
		t.Fatalf("snapshot order diverged: %q vs %q", roster.Blue[0], split.Blue[0].DisplayName)
	}
}

func TestCompleteRecordsParticipants(t *testing.T) {
	ctx := context.Background()
	db, svc := newMatchService(t)
	m, split := createMatch(t, db, svc)

	result, err := svc.Complete(ctx, match.CompleteRequest{
		MatchID:             m.ID,
		Winner:              model.TeamBlue,
		GameDurationSeconds: 1250,
		Stats:               statsForSplit(split),
	})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if result.Recorded != 10 || result.Skipped != 0 {
		t.Fatalf("expected 10 recorded, got %+v", result)
	}

	updated, err := svc.Get(ctx, m.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if updated.Status != model.MatchStatusCompleted || updated.Winner != model.TeamBlue {
		t.Fatalf("unexpected match state: %+v", updated)
	}
	if updated.EndedAt == nil || updated.GameDurationSeconds != 1250 {
		t.Fatalf("completion fields not set: %+v", updated)
	}

	rows, err := svc.Participants(ctx, m.ID)
	if err != nil {
		t.Fatalf("participants failed: %v", err)
	}
	if len(rows) != 10 {
		t.Fatalf("expected 10 participants, got %d", len(rows))
	}
	for _, row := range rows {
		if row.UserID == nil {
			t.Fatalf("participant %q did not resolve to an account", row.DisplayName)
		}
		if row.RatingChange != 0 || row.RatingBefore != row.RatingAfter {
			t.Fatalf("zero policy should not move ratings: %+v", row)
		}
	}

	// Winners picked up a win, losers a loss.
	var blueRating model.PlayerRating
	if err := db.Where("user_id = ?", *rows[0].UserID).First(&blueRating).Error; err != nil {
		t.Fatalf("load rating: %v", err)
	}
	if rows[0].Team == model.TeamBlue && blueRating.Wins != 1 {
		t.Fatalf("expected a win recorded, got %+v", blueRating)
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, svc := newMatchService(t)
	m, split := createMatch(t, db, svc)

	req := match.CompleteRequest{
		MatchID:             m.ID,
		Winner:              model.TeamRed,
		GameDurationSeconds: 980,
		Stats:               statsForSplit(split),
	}
	if _, err := svc.Complete(ctx, req); err != nil {
		t.Fatalf("first complete failed: %v", err)
	}

	second, err := svc.Complete(ctx, req)
	if err != nil {
		t.Fatalf("second complete failed: %v", err)
	}
	if !second.AlreadyCompleted {
		t.Fatalf("expected no-op completion, got %+v", second)
	}

	rows, err := svc.Participants(ctx, m.ID)
	if err != nil {
		t.Fatalf("participants failed: %v", err)
	}
	if len(rows) != 10 {
		t.Fatalf("retry duplicated participants: %d rows", len(rows))
	}

	var r model.PlayerRating
	if err := db.Where("user_id = ?", *rows[0].UserID).First(&r).Error; err != nil {
		t.Fatalf("load rating: %v", err)
	}
	if r.GamesPlayed != 1 {
		t.Fatalf("retry double-counted games: %+v", r)
	}
}

func TestCompleteIsolatesBadStatLines(t *testing.T) {
	ctx := context.Background()
	db, svc := newMatchService(t)
	m, split := createMatch(t, db, svc)

	stats := statsForSplit(split)
	stats[3].Team = "" // malformed line must not sink the other nine

	result, err := svc.Complete(ctx, match.CompleteRequest{
		MatchID: m.ID,
		Winner:  model.TeamBlue,
		Stats:   stats,
	})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if result.Recorded != 9 || result.Skipped != 1 {
		t.Fatalf("expected 9 recorded / 1 skipped, got %+v", result)
	}

	updated, err := svc.Get(ctx, m.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if updated.CurrentPlayers != 9 {
		t.Fatalf("degraded count not recorded: %+v", updated)
	}
	if updated.Notes == "" {
		t.Fatalf("degraded ingestion should be noted on the match")
	}
}

func TestCompleteKeepsUnresolvedNames(t *testing.T) {
	ctx := context.Background()
	db, svc := newMatchService(t)
	m, split := createMatch(t, db, svc)

	stats := statsForSplit(split)
	stats[0].DisplayName = "Ringer#9999" // no account

	result, err := svc.Complete(ctx, match.CompleteRequest{
		MatchID: m.ID,
		Winner:  model.TeamBlue,
		Stats:   stats,
	})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if result.Recorded != 10 {
		t.Fatalf("unresolved name should still be recorded: %+v", result)
	}

	rows, err := svc.Participants(ctx, m.ID)
	if err != nil {
		t.Fatalf("participants failed: %v", err)
	}
	found := false
	for _, row := range rows {
		if row.DisplayName == "Ringer#9999" {
			found = true
			if row.UserID != nil {
				t.Fatalf("ringer should not resolve: %+v", row)
			}
		}
	}
	if !found {
		t.Fatalf("unresolved participant row missing")
	}

	var count int64
	if err := db.Model(&model.PlayerRating{}).Where("wins > 0 OR losses > 0").Count(&count).Error; err != nil {
		t.Fatalf("count ratings: %v", err)
	}
	if count != 9 {
		t.Fatalf("expected 9 accounts with counters, got %d", count)
	}
}

func TestCompleteSimulationSkipsCounters(t *testing.T) {
	ctx := context.Background()
	db, svc := newMatchService(t)
	m, split := createMatch(t, db, svc)

	_, err := svc.Complete(ctx, match.CompleteRequest{
		MatchID:      m.ID,
		Winner:       model.TeamBlue,
		Stats:        statsForSplit(split),
		IsSimulation: true,
	})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	var count int64
	if err := db.Model(&model.PlayerRating{}).Where("wins > 0 OR losses > 0 OR games_played > 0").Count(&count).Error; err != nil {
		t.Fatalf("count ratings: %v", err)
	}
	if count != 0 {
		t.Fatalf("simulation must not touch win/loss counters, got %d rows", count)
	}
}

func TestCompleteValidation(t *testing.T) {
	ctx := context.Background()
	db, svc := newMatchService(t)
	m, split := createMatch(t, db, svc)

	if _, err := svc.Complete(ctx, match.CompleteRequest{MatchID: m.ID, Winner: "green", Stats: statsForSplit(split)}); err == nil {
		t.Fatalf("expected validation failure for bad winner")
	}
	if _, err := svc.Complete(ctx, match.CompleteRequest{MatchID: m.ID, Winner: model.TeamBlue}); err == nil {
		t.Fatalf("expected validation failure for empty stats")
	}
	if _, err := svc.Complete(ctx, match.CompleteRequest{MatchID: 99999, Winner: model.TeamBlue, Stats: statsForSplit(split)}); err != appErr.ErrMatchNotFound {
		t.Fatalf("expected ErrMatchNotFound, got %v", err)
	}
}

func TestCancelGuards(t *testing.T) {
	ctx := context.Background()
	db, svc := newMatchService(t)
	m, split := createMatch(t, db, svc)

	if err := svc.Cancel(ctx, m.ID, "server crash"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	// Cancelling again is a no-op.
	if err := svc.Cancel(ctx, m.ID, ""); err != nil {
		t.Fatalf("repeat cancel should be a no-op: %v", err)
	}

	// A cancelled match cannot be completed.
	if _, err := svc.Complete(ctx, match.CompleteRequest{
		MatchID: m.ID,
		Winner:  model.TeamBlue,
		Stats:   statsForSplit(split),
	}); err != appErr.ErrMatchTerminal {
		t.Fatalf("expected ErrMatchTerminal, got %v", err)
	}
}

func TestInvalidateRequiresCompletion(t *testing.T) {
	ctx := context.Background()
	db, svc := newMatchService(t)
	m, split := createMatch(t, db, svc)

	if err := svc.Invalidate(ctx, m.ID, "drophack"); err != appErr.ErrMatchNotCompleted {
		t.Fatalf("expected ErrMatchNotCompleted, got %v", err)
	}

	if _, err := svc.Complete(ctx, match.CompleteRequest{
		MatchID: m.ID,
		Winner:  model.TeamBlue,
		Stats:   statsForSplit(split),
	}); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	if err := svc.Invalidate(ctx, m.ID, "drophack"); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	// Participant rows survive invalidation.
	rows, err := svc.Participants(ctx, m.ID)
	if err != nil {
		t.Fatalf("participants failed: %v", err)
	}
	if len(rows) != 10 {
		t.Fatalf("invalidation must not revert participants, got %d", len(rows))
	}

	updated, err := svc.Get(ctx, m.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if updated.Status != model.MatchStatusInvalid {
		t.Fatalf("expected invalid status, got %q", updated.Status)
	}
}
