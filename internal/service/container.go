package service

import (
	"context"
	"time"

	"storm-arena/internal/config"
	"storm-arena/internal/service/admin"
	"storm-arena/internal/service/auth"
	"storm-arena/internal/service/battleground"
	"storm-arena/internal/service/match"
	"storm-arena/internal/service/queue"
	"storm-arena/internal/service/rating"
	"storm-arena/internal/service/user"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	Auth         *auth.Service
	Admin        *admin.Service
	User         *user.Service
	Rating       *rating.Service
	Battleground *battleground.Service
	Match        *match.Service
	Queue        *queue.Service
}

func NewContainer(db *gorm.DB, rdb *redis.Client) *Container {
	users := user.NewService(db)
	ratings := rating.NewService(db)
	maps := battleground.NewService(db)
	matches := match.NewService(db, users, ratings)

	return &Container{
		Auth:         auth.NewService(db, rdb),
		Admin:        admin.NewService(db),
		User:         users,
		Rating:       ratings,
		Battleground: maps,
		Match:        matches,
		Queue:        queue.NewService(rdb, matches, maps, queueConfig()),
	}
}

func (c *Container) Start(ctx context.Context) error {
	if err := c.Admin.EnsureDefaultAdmin(ctx); err != nil {
		return err
	}
	if err := c.Battleground.SeedDefaults(ctx); err != nil {
		return err
	}
	c.Queue.Start(ctx)
	return nil
}

func queueConfig() queue.Config {
	cfg := config.GlobalConfig.Queue
	return queue.Config{
		TTL:               time.Duration(cfg.TTLSeconds) * time.Second,
		SweepInterval:     time.Duration(cfg.SweepIntervalSeconds) * time.Second,
		MatchSize:         cfg.MatchSize,
		EstimatePerPlayer: time.Duration(cfg.EstimatePerPlayerSeconds) * time.Second,
		MatchedNotifyTTL:  time.Duration(cfg.MatchedNotifyTTLSeconds) * time.Second,
	}
}
