package service

import (
	"time"

	"koi-service/internal/config"
	"koi-service/internal/service/ai"
	"koi-service/internal/service/dispatch"
	"koi-service/internal/service/flow"
	"koi-service/internal/service/lifecycle"
	"koi-service/internal/service/matchpool"
	"koi-service/internal/service/reconnect"
	"koi-service/internal/service/store"
	"koi-service/internal/service/timeout"
	"koi-service/internal/service/user"
	"koi-service/pkg/clock"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	Sessions  *store.Store
	Archive   store.Archiver
	Timeouts  *timeout.Registry
	Events    *dispatch.Dispatcher
	Pool      *matchpool.Pool
	Flow      *flow.Controller
	Reconnect *reconnect.Service
	AI        *ai.Scheduler
	Lifecycle *lifecycle.Coordinator
	User      *user.Service
}

// NewContainer wires the service graph in dependency order. Without a
// database the archiver degrades to the in-memory variant, which loses
// restart recovery but keeps everything else working.
func NewContainer(db *gorm.DB, rdb *redis.Client) *Container {
	cfg := config.GlobalConfig
	clk := clock.New()

	sessions := store.NewStore()
	var archive store.Archiver
	if db != nil {
		archive = store.NewGormArchiver(db)
	} else {
		archive = store.NewMemoryArchiver()
	}
	timeouts := timeout.NewRegistry(clk)
	events := dispatch.New()
	pool := matchpool.NewPool()

	fc := flow.NewController(flow.Config{
		TotalRounds:          cfg.Game.TotalRounds,
		ActionTimeout:        seconds(cfg.Game.ActionTimeoutSec),
		OfflineActionTimeout: seconds(cfg.Game.OfflineActionTimeoutSec),
		IdleTimeout:          seconds(cfg.Game.IdleTimeoutSec),
		ConfirmationGrace:    seconds(cfg.Game.ConfirmationGraceSec),
	}, sessions, archive, timeouts, events)

	rec := reconnect.NewService(reconnect.Config{
		DisconnectGrace: seconds(cfg.Game.DisconnectGraceSec),
	}, sessions, archive, timeouts, events, fc)

	sched := ai.NewScheduler(ai.Config{
		DelayMin: millis(cfg.Game.AiDelayMinMs),
		DelayMax: millis(cfg.Game.AiDelayMaxMs),
	}, clk, sessions, events, fc)

	coord := lifecycle.NewCoordinator(lifecycle.Config{
		LowAvailability: seconds(cfg.Matchmaking.LowAvailabilitySec),
		MaxWait:         seconds(cfg.Matchmaking.MaxWaitSec),
		FallbackToAI:    cfg.Matchmaking.FallbackToAI,
	}, clk, sessions, archive, pool, timeouts, events, fc, sched, rdb)

	return &Container{
		Sessions:  sessions,
		Archive:   archive,
		Timeouts:  timeouts,
		Events:    events,
		Pool:      pool,
		Flow:      fc,
		Reconnect: rec,
		AI:        sched,
		Lifecycle: coord,
		User:      user.NewService(db),
	}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
func millis(n int) time.Duration  { return time.Duration(n) * time.Millisecond }
