package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"koi-service/internal/model"
	"koi-service/internal/service/ai"
	"koi-service/internal/service/dispatch"
	"koi-service/internal/service/flow"
	"koi-service/internal/service/matchpool"
	"koi-service/internal/service/store"
	"koi-service/internal/service/timeout"
	"koi-service/pkg/clock"
	appErr "koi-service/pkg/errors"
	"koi-service/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	queueLockKeyPrefix  = "koi:queue:lock:"
	matchFoundKeyPrefix = "koi:match:found:"

	queueLockTTL  = 5 * time.Second
	matchFoundTTL = time.Minute

	// finished sessions stay readable for late snapshot requests before
	// teardown reclaims them
	finishedRetention = 2 * time.Minute

	claimAttempts = 3
)

type Config struct {
	LowAvailability time.Duration
	MaxWait         time.Duration
	FallbackToAI    bool
}

func DefaultConfig() Config {
	return Config{
		LowAvailability: 30 * time.Second,
		MaxWait:         120 * time.Second,
	}
}

// MatchState is the polling view of a player's matchmaking attempt.
type MatchState struct {
	Status    string `json:"status"`
	SessionID string `json:"sessionId,omitempty"`
}

// Coordinator owns session creation and teardown and the matchmaking flow
// around them. Non-round transitions (claiming a WAITING session, attaching
// an AI seat) are serialized by a per-session mutex; everything inside a
// running round goes through the flow controller's optimistic path instead.
type Coordinator struct {
	cfg      Config
	clk      clock.Clock
	sessions *store.Store
	archive  store.Archiver
	pool     *matchpool.Pool
	timeouts *timeout.Registry
	events   *dispatch.Dispatcher
	flow     *flow.Controller
	ai       *ai.Scheduler
	rdb      *redis.Client // optional: queue lock and match notification

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewCoordinator(cfg Config, clk clock.Clock, sessions *store.Store, archive store.Archiver, pool *matchpool.Pool, timeouts *timeout.Registry, events *dispatch.Dispatcher, fc *flow.Controller, sched *ai.Scheduler, rdb *redis.Client) *Coordinator {
	def := DefaultConfig()
	if cfg.LowAvailability <= 0 {
		cfg.LowAvailability = def.LowAvailability
	}
	if cfg.MaxWait < cfg.LowAvailability {
		cfg.MaxWait = def.MaxWait
	}
	return &Coordinator{
		cfg:      cfg,
		clk:      clk,
		sessions: sessions,
		archive:  archive,
		pool:     pool,
		timeouts: timeouts,
		events:   events,
		flow:     fc,
		ai:       sched,
		rdb:      rdb,
		locks:    make(map[string]*sync.Mutex),
	}
}

// JoinMatch either pairs the player with the longest-waiting compatible
// opponent or opens a fresh WAITING session and queues them. vsAI skips the
// pool entirely.
func (c *Coordinator) JoinMatch(ctx context.Context, playerID, nickname, roomType string, vsAI bool) (*model.Session, error) {
	if vsAI {
		return c.startAIMatch(ctx, playerID, nickname, roomType)
	}

	if c.pool.Get(playerID) != nil {
		return nil, appErr.ErrAlreadyQueued
	}
	unlock, err := c.acquireQueueLock(ctx, playerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	me := matchpool.Entry{PlayerID: playerID, Nickname: nickname, RoomType: roomType}
	for attempt := 0; attempt < claimAttempts; attempt++ {
		cand := c.pool.FindMatch(me)
		if cand == nil {
			break
		}
		sess, err := c.claimWaitingSession(cand.SessionID, model.Participant{ID: playerID, Nickname: nickname})
		if err != nil {
			if errors.Is(err, appErr.ErrSessionNotWaiting) || errors.Is(err, appErr.ErrSessionNotFound) {
				// The entry points at a session someone else already
				// claimed or tore down.
				c.pool.Dequeue(cand.PlayerID)
				continue
			}
			return nil, err
		}
		c.pool.MarkMatched(cand.PlayerID)
		c.timeouts.Cancel(cand.SessionID, cand.PlayerID, timeout.KindMatchmaking)
		c.notifyMatch(ctx, sess)
		if err := c.start(ctx, sess); err != nil {
			return nil, err
		}
		started, _ := c.sessions.Get(sess.ID)
		return started, nil
	}

	sess := c.newSession(roomType, model.Participant{ID: playerID, Nickname: nickname})
	sess.Status = model.StatusWaiting
	c.sessions.Put(sess)
	if err := c.archive.Save(ctx, sess); err != nil {
		logger.Log.Warn("waiting session archive failed", zap.String("sessionID", sess.ID), zap.Error(err))
	}
	if err := c.pool.Enqueue(matchpool.Entry{
		PlayerID:   playerID,
		Nickname:   nickname,
		RoomType:   roomType,
		SessionID:  sess.ID,
		EnqueuedAt: c.clk.Now(),
	}); err != nil {
		c.sessions.Delete(sess.ID)
		return nil, err
	}
	c.armMatchmaking(sess.ID, playerID)
	return sess, nil
}

// CancelMatch withdraws a queued player and reclaims their WAITING session.
func (c *Coordinator) CancelMatch(ctx context.Context, playerID string) error {
	entry := c.pool.Dequeue(playerID)
	if entry == nil {
		return appErr.ErrNotQueued
	}
	c.timeouts.Cancel(entry.SessionID, playerID, timeout.KindMatchmaking)
	c.dropWaitingSession(ctx, entry.SessionID)
	return nil
}

// MatchStatus reports where the player's matchmaking attempt stands, for
// clients polling instead of holding a socket open.
func (c *Coordinator) MatchStatus(ctx context.Context, playerID string) (*MatchState, error) {
	if entry := c.pool.Get(playerID); entry != nil {
		return &MatchState{Status: string(entry.Status), SessionID: entry.SessionID}, nil
	}
	if c.rdb != nil {
		sid, err := c.rdb.Get(ctx, matchFoundKeyPrefix+playerID).Result()
		if err == nil && sid != "" {
			return &MatchState{Status: string(matchpool.StatusMatched), SessionID: sid}, nil
		}
	}
	return nil, appErr.ErrNotQueued
}

// LeaveSession removes the player from a session: a WAITING session is torn
// down, a running one is forfeited to the opponent.
func (c *Coordinator) LeaveSession(ctx context.Context, sessionID, playerID string) error {
	sess, ok := c.sessions.Get(sessionID)
	if !ok {
		return appErr.ErrSessionNotFound
	}
	if !sess.HasParticipant(playerID) {
		return appErr.ErrPlayerNotInSession
	}
	switch sess.Status {
	case model.StatusWaiting:
		c.pool.Dequeue(playerID)
		c.timeouts.Cancel(sessionID, playerID, timeout.KindMatchmaking)
		c.dropWaitingSession(ctx, sessionID)
		return nil
	case model.StatusStarting, model.StatusInProgress:
		return c.flow.Forfeit(ctx, sessionID, playerID, "left_session")
	default:
		return appErr.ErrSessionFinished
	}
}

func (c *Coordinator) startAIMatch(ctx context.Context, playerID, nickname, roomType string) (*model.Session, error) {
	sess := c.newSession(roomType,
		model.Participant{ID: playerID, Nickname: nickname},
		aiParticipant(),
	)
	sess.Status = model.StatusStarting
	c.sessions.Put(sess)
	if err := c.start(ctx, sess); err != nil {
		c.sessions.Delete(sess.ID)
		return nil, err
	}
	started, _ := c.sessions.Get(sess.ID)
	return started, nil
}

func (c *Coordinator) newSession(roomType string, participants ...model.Participant) *model.Session {
	scores := make(map[string]int, len(participants))
	for _, p := range participants {
		scores[p.ID] = 0
	}
	return &model.Session{
		ID:           uuid.NewString(),
		RoomType:     roomType,
		Participants: participants,
		Scores:       scores,
		TotalRounds:  c.flow.Config().TotalRounds,
		StateVersion: 1,
		CreatedAt:    c.clk.Now(),
	}
}

func aiParticipant() model.Participant {
	return model.Participant{
		ID:       "ai-" + uuid.NewString(),
		Nickname: "Koi Bot",
		IsAI:     true,
	}
}

// claimWaitingSession seats the joiner into a WAITING session under the
// session's pessimistic lock. Losing the race surfaces as
// ErrSessionNotWaiting and the caller retries against the pool.
func (c *Coordinator) claimWaitingSession(sessionID string, p model.Participant) (*model.Session, error) {
	lock := c.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, ok := c.sessions.Get(sessionID)
	if !ok {
		return nil, appErr.ErrSessionNotFound
	}
	if sess.Status != model.StatusWaiting || len(sess.Participants) != 1 {
		return nil, appErr.ErrSessionNotWaiting
	}
	sess.Participants = append(sess.Participants, p)
	sess.Scores[p.ID] = 0
	sess.Status = model.StatusStarting
	sess.StateVersion++
	c.sessions.Put(sess)
	return sess, nil
}

func (c *Coordinator) start(ctx context.Context, sess *model.Session) error {
	c.watch(sess.ID)
	for _, p := range sess.Participants {
		if p.IsAI {
			c.ai.Attach(sess.ID, p.ID)
		}
	}
	return c.flow.StartSession(ctx, sess.ID)
}

// watch schedules teardown once the session reports itself finished.
func (c *Coordinator) watch(sessionID string) {
	c.events.Subscribe(sessionID, func(ev model.SessionEvent) {
		if ev.Type != model.EventGameFinished {
			return
		}
		c.clk.AfterFunc(finishedRetention, func() {
			c.teardown(sessionID)
		})
	})
}

func (c *Coordinator) teardown(sessionID string) {
	c.ai.Detach(sessionID)
	c.timeouts.CancelSession(sessionID)
	c.events.Drop(sessionID)
	c.sessions.Delete(sessionID)
	c.mu.Lock()
	delete(c.locks, sessionID)
	c.mu.Unlock()
}

func (c *Coordinator) dropWaitingSession(ctx context.Context, sessionID string) {
	lock := c.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, ok := c.sessions.Get(sessionID)
	if !ok || sess.Status != model.StatusWaiting {
		return
	}
	c.sessions.Delete(sessionID)
	c.events.Drop(sessionID)
	if err := c.archive.Delete(ctx, sessionID); err != nil {
		logger.Log.Warn("waiting session cleanup failed", zap.String("sessionID", sessionID), zap.Error(err))
	}
}

// armMatchmaking runs the two-phase wait: a low-availability notice partway
// through, expiry at the end.
func (c *Coordinator) armMatchmaking(sessionID, playerID string) {
	c.timeouts.Arm(sessionID, playerID, timeout.KindMatchmaking, c.cfg.LowAvailability, func() error {
		if c.pool.MarkLowAvailability(playerID) {
			c.events.Route(sessionID, model.SessionEvent{
				Type:      model.EventLowAvailability,
				SessionID: sessionID,
				PlayerID:  playerID,
				Data:      map[string]any{"waitedMs": c.cfg.LowAvailability.Milliseconds()},
			})
		}
		rest := c.cfg.MaxWait - c.cfg.LowAvailability
		if rest <= 0 {
			return c.matchmakingExpired(sessionID, playerID)
		}
		c.timeouts.Arm(sessionID, playerID, timeout.KindMatchmaking, rest, func() error {
			return c.matchmakingExpired(sessionID, playerID)
		})
		return nil
	})
}

func (c *Coordinator) matchmakingExpired(sessionID, playerID string) error {
	entry := c.pool.Dequeue(playerID)
	if entry == nil {
		return nil
	}
	ctx := context.Background()

	if c.cfg.FallbackToAI {
		sess, err := c.claimWaitingSession(sessionID, aiParticipant())
		if err == nil {
			c.notifyMatch(ctx, sess)
			return c.start(ctx, sess)
		}
		if !errors.Is(err, appErr.ErrSessionNotWaiting) && !errors.Is(err, appErr.ErrSessionNotFound) {
			return err
		}
		// The session got claimed after all; nothing to fall back from.
		return nil
	}

	c.events.Route(sessionID, model.SessionEvent{
		Type:      model.EventMatchmakingExpired,
		SessionID: sessionID,
		PlayerID:  playerID,
		Data:      map[string]any{"waitedMs": c.cfg.MaxWait.Milliseconds()},
	})
	c.dropWaitingSession(ctx, sessionID)
	return nil
}

func (c *Coordinator) notifyMatch(ctx context.Context, sess *model.Session) {
	players := make([]string, 0, len(sess.Participants))
	for _, p := range sess.Participants {
		players = append(players, p.ID)
	}
	c.events.Route(sess.ID, model.SessionEvent{
		Type:      model.EventMatchFound,
		SessionID: sess.ID,
		Version:   sess.StateVersion,
		Data: model.MatchFoundData{
			SessionID: sess.ID,
			RoomType:  sess.RoomType,
			Players:   players,
		},
	})
	if c.rdb == nil {
		return
	}
	for _, p := range sess.Participants {
		if p.IsAI {
			continue
		}
		if err := c.rdb.Set(ctx, matchFoundKeyPrefix+p.ID, sess.ID, matchFoundTTL).Err(); err != nil {
			logger.Log.Warn("match notification failed", zap.String("playerID", p.ID), zap.Error(err))
		}
	}
}

// acquireQueueLock takes the short per-player redis lock guarding against a
// client double-submitting the join call. Without redis it degrades to a
// no-op: the pool's duplicate check still holds within the process.
func (c *Coordinator) acquireQueueLock(ctx context.Context, playerID string) (func(), error) {
	if c.rdb == nil {
		return func() {}, nil
	}
	key := queueLockKeyPrefix + playerID
	ok, err := c.rdb.SetNX(ctx, key, 1, queueLockTTL).Result()
	if err != nil {
		logger.Log.Warn("queue lock unavailable", zap.String("playerID", playerID), zap.Error(err))
		return func() {}, nil
	}
	if !ok {
		return nil, appErr.ErrQueueProcessing
	}
	return func() { c.rdb.Del(context.Background(), key) }, nil
}

func (c *Coordinator) sessionLock(sessionID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[sessionID] = lock
	}
	return lock
}
