package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"storm-arena/internal/model"
	"storm-arena/internal/service/balance"
	"storm-arena/internal/service/match"
	"storm-arena/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// MatchCreator is the slice of the match lifecycle service that
// formation needs.
type MatchCreator interface {
	Create(ctx context.Context, params match.CreateParams) (*model.Match, error)
}

// MapSource picks the battleground a freshly formed match is played on.
type MapSource interface {
	PickRandom(ctx context.Context) (string, error)
}

type Config struct {
	TTL               time.Duration
	SweepInterval     time.Duration
	MatchSize         int
	EstimatePerPlayer time.Duration
	MatchedNotifyTTL  time.Duration
}

func defaultConfig() Config {
	return Config{
		TTL:               time.Hour,
		SweepInterval:     15 * time.Second,
		MatchSize:         balance.MatchSize,
		EstimatePerPlayer: 30 * time.Second,
		MatchedNotifyTTL:  5 * time.Minute,
	}
}

func (c Config) normalize() Config {
	def := defaultConfig()
	if c.TTL <= 0 {
		c.TTL = def.TTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	if c.MatchSize <= 0 {
		c.MatchSize = def.MatchSize
	}
	if c.EstimatePerPlayer <= 0 {
		c.EstimatePerPlayer = def.EstimatePerPlayer
	}
	if c.MatchedNotifyTTL <= 0 {
		c.MatchedNotifyTTL = def.MatchedNotifyTTL
	}
	return c
}

// Service owns the waiting-player set. All membership mutation and the
// dequeue-for-formation step serialize on one mutex, so a player is
// never simultaneously in a formed match and visible as queued. Nothing
// does I/O while the lock is held; match creation runs after the
// dequeue commits.
type Service struct {
	cfg     Config
	rdb     *redis.Client
	matches MatchCreator
	maps    MapSource

	mu      sync.Mutex
	entries map[int64]*entry
	order   []int64 // join order, oldest first

	startOnce sync.Once
}

func NewService(rdb *redis.Client, matches MatchCreator, maps MapSource, cfg Config) *Service {
	return &Service{
		cfg:     cfg.normalize(),
		rdb:     rdb,
		matches: matches,
		maps:    maps,
		entries: make(map[int64]*entry),
	}
}

// Start launches the expiry sweep. The sweep is a backstop: entries are
// also expired lazily on Join and Status.
func (s *Service) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		go s.runSweeper(ctx)
	})
}

func (s *Service) runSweeper(ctx context.Context) {
	logger.Log.Info("queue sweeper started",
		zap.Duration("ttl", s.cfg.TTL),
		zap.Duration("interval", s.cfg.SweepInterval),
	)
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("queue sweeper stopped")
			return
		case <-ticker.C:
			s.mu.Lock()
			expired := s.expireLocked(time.Now())
			s.mu.Unlock()
			for _, e := range expired {
				logger.Log.Info("queue entry expired",
					zap.Int64("userID", e.UserID),
					zap.Time("joinedAt", e.JoinedAt),
				)
			}
			s.TryFormMatch(ctx)
		}
	}
}

// Join adds a player to the queue. Joining twice is a no-op success
// that returns the original join time. The tenth distinct player
// triggers match formation.
func (s *Service) Join(ctx context.Context, req JoinRequest) (*JoinResult, error) {
	if req.UserID == 0 {
		return nil, fmt.Errorf("join: missing user id")
	}

	now := time.Now()
	s.mu.Lock()
	s.expireLocked(now)

	if existing, ok := s.entries[req.UserID]; ok {
		joinedAt := existing.JoinedAt
		s.mu.Unlock()
		return &JoinResult{AlreadyQueued: true, JoinedAt: joinedAt}, nil
	}

	e := &entry{
		UserID:         req.UserID,
		DisplayName:    req.DisplayName,
		RatingSnapshot: req.RatingSnapshot,
		PreferredRoles: req.PreferredRoles,
		JoinedAt:       now,
	}
	s.entries[req.UserID] = e
	s.order = append(s.order, req.UserID)
	total := len(s.entries)
	s.mu.Unlock()

	logger.Log.Info("user joined queue",
		zap.Int64("userID", req.UserID),
		zap.Int("rating", req.RatingSnapshot),
		zap.Int("queued", total),
	)

	if total >= s.cfg.MatchSize {
		s.TryFormMatch(ctx)
	}
	return &JoinResult{JoinedAt: now}, nil
}

// Leave removes a player. Removing an absent player is not an error.
func (s *Service) Leave(ctx context.Context, userID int64) {
	s.mu.Lock()
	_, wasQueued := s.entries[userID]
	s.removeLocked(userID)
	s.mu.Unlock()

	if s.rdb != nil {
		s.rdb.Del(ctx, buildMatchNotifyKey(userID))
	}
	if wasQueued {
		logger.Log.Info("user left queue", zap.Int64("userID", userID))
	}
}

// Status reports the caller's queue view. Wait time is computed from
// the server-side join timestamp, never from client input.
func (s *Service) Status(ctx context.Context, userID int64) (*StatusResult, error) {
	now := time.Now()
	s.mu.Lock()
	s.expireLocked(now)
	total := len(s.entries)
	e, ok := s.entries[userID]
	position := 0
	if ok {
		for i, id := range s.order {
			if id == userID {
				position = i + 1
				break
			}
		}
	}
	var joinedAt time.Time
	if ok {
		joinedAt = e.JoinedAt
	}
	s.mu.Unlock()

	if !ok {
		result := &StatusResult{TotalQueued: total}
		if s.rdb != nil {
			payloadStr, err := s.rdb.Get(ctx, buildMatchNotifyKey(userID)).Result()
			if err == nil {
				var payload matchNotifyPayload
				if jsonErr := json.Unmarshal([]byte(payloadStr), &payload); jsonErr == nil {
					result.MatchedMatchID = &payload.MatchID
				}
			} else if err != redis.Nil {
				return nil, err
			}
		}
		return result, nil
	}

	// The estimate is a coarse heuristic: it shrinks monotonically as
	// the lobby fills. Exact numbers are a policy knob, not a promise.
	missing := s.cfg.MatchSize - total
	if missing < 1 {
		missing = 1
	}
	return &StatusResult{
		InQueue:              true,
		WaitSeconds:          int(now.Sub(joinedAt).Seconds()),
		QueuePosition:        position,
		EstimatedWaitSeconds: missing * int(s.cfg.EstimatePerPlayer.Seconds()),
		TotalQueued:          total,
		JoinedAt:             &joinedAt,
	}, nil
}

// TotalQueued is a snapshot of the current queue depth.
func (s *Service) TotalQueued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// TryFormMatch drafts a match if enough players are queued. The ten
// oldest entries are removed atomically under the queue lock; balancing
// and persistence happen after, on a snapshot. On a persistence failure
// the players are re-queued with their original join times.
func (s *Service) TryFormMatch(ctx context.Context) (*model.Match, error) {
	s.mu.Lock()
	s.expireLocked(time.Now())
	if len(s.entries) < s.cfg.MatchSize {
		s.mu.Unlock()
		return nil, nil
	}

	selected := make([]*entry, 0, s.cfg.MatchSize)
	for _, id := range s.order[:s.cfg.MatchSize] {
		selected = append(selected, s.entries[id])
	}
	for _, e := range selected {
		s.removeLocked(e.UserID)
	}
	s.mu.Unlock()

	players := make([]balance.Player, len(selected))
	for i, e := range selected {
		players[i] = balance.Player{
			UserID:      e.UserID,
			DisplayName: e.DisplayName,
			Rating:      e.RatingSnapshot,
		}
	}
	split := balance.SplitTeams(players)

	mapName := ""
	if s.maps != nil {
		name, err := s.maps.PickRandom(ctx)
		if err != nil {
			logger.Log.Warn("map pick failed, creating match without map", zap.Error(err))
		} else {
			mapName = name
		}
	}

	m, err := s.matches.Create(ctx, match.CreateParams{
		Split:      split,
		MapName:    mapName,
		InProgress: true,
	})
	if err != nil {
		s.requeue(selected)
		logger.Log.Warn("match creation failed, players re-queued", zap.Error(err))
		return nil, err
	}

	s.notifyMatched(ctx, selected, m)
	logger.Log.Info("match formed",
		zap.Int64("matchID", m.ID),
		zap.String("map", m.MapName),
		zap.Int("averageBlue", split.AverageBlue),
		zap.Int("averageRed", split.AverageRed),
	)
	return m, nil
}

func (s *Service) notifyMatched(ctx context.Context, selected []*entry, m *model.Match) {
	if s.rdb == nil {
		return
	}
	payload := matchNotifyPayload{
		MatchID:   m.ID,
		MapName:   m.MapName,
		LobbyCode: m.LobbyCode,
	}
	data, _ := json.Marshal(payload)
	for _, e := range selected {
		s.rdb.Set(ctx, buildMatchNotifyKey(e.UserID), data, s.cfg.MatchedNotifyTTL)
	}
}

func (s *Service) requeue(selected []*entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range selected {
		if _, ok := s.entries[e.UserID]; ok {
			continue
		}
		s.entries[e.UserID] = e
		s.order = append(s.order, e.UserID)
	}
}

// expireLocked drops entries past the TTL. Caller holds the lock.
func (s *Service) expireLocked(now time.Time) []*entry {
	if s.cfg.TTL <= 0 {
		return nil
	}
	deadline := now.Add(-s.cfg.TTL)
	expired := make([]*entry, 0)
	kept := s.order[:0]
	for _, id := range s.order {
		e, ok := s.entries[id]
		if !ok {
			continue
		}
		if e.JoinedAt.Before(deadline) {
			delete(s.entries, id)
			expired = append(expired, e)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return expired
}

// removeLocked drops one entry. Caller holds the lock.
func (s *Service) removeLocked(userID int64) {
	if _, ok := s.entries[userID]; !ok {
		return
	}
	delete(s.entries, userID)
	for i, id := range s.order {
		if id == userID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func buildMatchNotifyKey(userID int64) string {
	return fmt.Sprintf("queue:matched:%d", userID)
}
