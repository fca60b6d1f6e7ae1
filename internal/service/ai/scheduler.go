package ai

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"koi-service/internal/model"
	"koi-service/internal/service/dispatch"
	"koi-service/internal/service/flow"
	"koi-service/internal/service/store"
	"koi-service/pkg/clock"
	"koi-service/pkg/logger"

	"go.uber.org/zap"
)

type Config struct {
	DelayMin time.Duration
	DelayMax time.Duration
}

func DefaultConfig() Config {
	return Config{
		DelayMin: 800 * time.Millisecond,
		DelayMax: 2500 * time.Millisecond,
	}
}

// Scheduler plays the house side of AI matches. It listens to the session's
// event chain and, whenever the board lands on the AI, schedules exactly one
// action after a human-feeling delay. Correctness does not depend on it: the
// action timeout would eventually move for the AI too, the scheduler just
// moves much sooner.
type Scheduler struct {
	cfg      Config
	clk      clock.Clock
	sessions *store.Store
	events   *dispatch.Dispatcher
	flow     *flow.Controller

	mu      sync.Mutex
	pending map[string]clock.Timer
	unsubs  map[string]func()
}

func NewScheduler(cfg Config, clk clock.Clock, sessions *store.Store, events *dispatch.Dispatcher, fc *flow.Controller) *Scheduler {
	def := DefaultConfig()
	if cfg.DelayMin <= 0 {
		cfg.DelayMin = def.DelayMin
	}
	if cfg.DelayMax < cfg.DelayMin {
		cfg.DelayMax = cfg.DelayMin
	}
	return &Scheduler{
		cfg:      cfg,
		clk:      clk,
		sessions: sessions,
		events:   events,
		flow:     fc,
		pending:  make(map[string]clock.Timer),
		unsubs:   make(map[string]func()),
	}
}

// Attach subscribes the AI player to the session's event chain. Call before
// the opening deal so the first turn is not missed.
func (s *Scheduler) Attach(sessionID, aiPlayerID string) {
	unsub := s.events.Subscribe(sessionID, func(ev model.SessionEvent) {
		s.onEvent(sessionID, aiPlayerID, ev)
	})
	s.mu.Lock()
	s.unsubs[sessionID] = unsub
	s.mu.Unlock()
}

// Detach cancels any pending action and drops the subscription.
func (s *Scheduler) Detach(sessionID string) {
	s.mu.Lock()
	if t, ok := s.pending[sessionID]; ok {
		t.Stop()
		delete(s.pending, sessionID)
	}
	unsub, ok := s.unsubs[sessionID]
	delete(s.unsubs, sessionID)
	s.mu.Unlock()
	if ok {
		unsub()
	}
}

func (s *Scheduler) onEvent(sessionID, aiID string, ev model.SessionEvent) {
	switch ev.Type {
	case model.EventGameFinished:
		s.Detach(sessionID)
		return
	case model.EventRoundDealt, model.EventTurnCompleted,
		model.EventSelectionRequired, model.EventDecisionRequired,
		model.EventRoundEnded:
	default:
		return
	}
	// Events scoped to the human (its deal view, its confirmation prompt)
	// say nothing about whose turn it is.
	if ev.PlayerID != "" && ev.PlayerID != aiID {
		return
	}

	s.cancelPending(sessionID)

	sess, ok := s.sessions.Get(sessionID)
	if !ok || sess.Status != model.StatusInProgress || sess.Round == nil {
		return
	}
	if sess.Round.ActivePlayerID != aiID {
		return
	}

	delay := s.cfg.DelayMin
	if span := s.cfg.DelayMax - s.cfg.DelayMin; span > 0 {
		delay += time.Duration(rand.Int63n(int64(span)))
	}
	timer := s.clk.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.pending, sessionID)
		s.mu.Unlock()
		s.act(sessionID, aiID)
	})
	s.mu.Lock()
	s.pending[sessionID] = timer
	s.mu.Unlock()
}

func (s *Scheduler) cancelPending(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.pending[sessionID]; ok {
		t.Stop()
		delete(s.pending, sessionID)
	}
}

// act picks a legal move from the state at fire time. Commands raced by a
// concurrent mutation fail with a stale-state error and are simply dropped:
// the follow-up event schedules a fresh attempt.
func (s *Scheduler) act(sessionID, aiID string) {
	sess, ok := s.sessions.Get(sessionID)
	if !ok || sess.Status != model.StatusInProgress || sess.Round == nil {
		return
	}
	r := sess.Round
	if r.ActivePlayerID != aiID {
		return
	}

	ctx := context.Background()
	var err error
	switch r.FlowState {
	case model.AwaitingHandPlay:
		hand := r.Hands[aiID]
		if len(hand) == 0 {
			return
		}
		card := hand[rand.Intn(len(hand))]
		err = s.flow.PlayHandCard(ctx, sessionID, aiID, card.Month, card.Index)
	case model.AwaitingSelection:
		target := r.PendingSelection.Candidates[rand.Intn(len(r.PendingSelection.Candidates))]
		err = s.flow.SelectTarget(ctx, sessionID, aiID, target.Month, target.Index)
	case model.AwaitingDecision:
		err = s.flow.MakeDecision(ctx, sessionID, aiID, s.wantsToContinue(sess, aiID))
	}

	if err != nil {
		logger.Log.Debug("ai action dropped",
			zap.String("sessionID", sessionID),
			zap.String("playerID", aiID),
			zap.Error(err),
		)
	}
}

// wantsToContinue is a coarse risk heuristic: press on with cards in hand
// and a small score, bank anything substantial.
func (s *Scheduler) wantsToContinue(sess *model.Session, aiID string) bool {
	r := sess.Round
	if r.PendingDecision == nil {
		return false
	}
	return len(r.Hands[aiID]) >= 4 && r.PendingDecision.Score < 7 && r.Multiplier == 1
}
