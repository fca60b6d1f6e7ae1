package ai_test

import (
	"testing"
	"time"

	"koi-service/internal/model"
	"koi-service/internal/service/ai"
	"koi-service/internal/service/dispatch"
	"koi-service/internal/service/flow"
	"koi-service/internal/service/store"
	"koi-service/internal/service/timeout"
	"koi-service/pkg/clock"
)

const (
	human = "player-1"
	bot   = "ai-1"
)

type fixture struct {
	clk      *clock.Manual
	sessions *store.Store
	events   *dispatch.Dispatcher
	sched    *ai.Scheduler
}

func newFixture() *fixture {
	f := &fixture{
		clk:      clock.NewManual(time.Unix(1700000000, 0)),
		sessions: store.NewStore(),
		events:   dispatch.New(),
	}
	timeouts := timeout.NewRegistry(f.clk)
	fc := flow.NewController(flow.DefaultConfig(), f.sessions, store.NewMemoryArchiver(), timeouts, f.events)
	f.sched = ai.NewScheduler(ai.Config{DelayMin: 2 * time.Second, DelayMax: 2 * time.Second}, f.clk, f.sessions, f.events, fc)
	return f
}

func seedSession(f *fixture, active string) {
	deck := model.NewDeck()
	f.sessions.Put(&model.Session{
		ID:       "s1",
		RoomType: "ai",
		Status:   model.StatusInProgress,
		Participants: []model.Participant{
			{ID: human, Nickname: "alice"},
			{ID: bot, Nickname: "koi-bot", IsAI: true},
		},
		Scores:      map[string]int{human: 0, bot: 0},
		TotalRounds: 3,
		Round: &model.Round{
			Number:         1,
			FlowState:      model.AwaitingHandPlay,
			ActivePlayerID: active,
			Version:        1,
			Multiplier:     1,
			Hands: map[string][]model.Card{
				human: append([]model.Card(nil), deck[:8]...),
				bot:   append([]model.Card(nil), deck[8:16]...),
			},
			CapturePiles: map[string][]model.Card{human: {}, bot: {}},
			Field:        append([]model.Card(nil), deck[16:24]...),
			DrawPile:     append([]model.Card(nil), deck[24:]...),
			Yaku:         map[string][]model.YakuResult{human: {}, bot: {}},
		},
		StateVersion: 1,
		CreatedAt:    f.clk.Now(),
	})
}

func turnEvent(active string) model.SessionEvent {
	return model.SessionEvent{
		Type:      model.EventTurnCompleted,
		SessionID: "s1",
		Data:      model.TurnCompletedData{ActivePlayerID: active},
	}
}

func TestSchedulerActsAfterDelayWhenItHoldsTheTurn(t *testing.T) {
	f := newFixture()
	seedSession(f, bot)
	f.sched.Attach("s1", bot)

	f.events.Route("s1", turnEvent(bot))

	sess, _ := f.sessions.Get("s1")
	if sess.StateVersion != 1 {
		t.Fatal("scheduler must wait for its delay, not act inline")
	}

	f.clk.Advance(2 * time.Second)

	sess, _ = f.sessions.Get("s1")
	if sess.StateVersion != 2 {
		t.Fatalf("expected one ai move, version=%d", sess.StateVersion)
	}
	if len(sess.Round.Hands[bot]) != 7 {
		t.Fatalf("ai should have played a hand card, hand=%d", len(sess.Round.Hands[bot]))
	}
}

func TestSchedulerIgnoresHumanTurns(t *testing.T) {
	f := newFixture()
	seedSession(f, human)
	f.sched.Attach("s1", bot)

	f.events.Route("s1", turnEvent(human))
	f.clk.Advance(5 * time.Second)

	sess, _ := f.sessions.Get("s1")
	if sess.StateVersion != 1 {
		t.Fatal("ai must not act on the human's turn")
	}
}

func TestHumanScopedEventsDoNotDisturbPendingAction(t *testing.T) {
	f := newFixture()
	seedSession(f, bot)
	f.sched.Attach("s1", bot)

	f.events.Route("s1", turnEvent(bot))
	// A prompt addressed to the human must not cancel the scheduled move.
	f.events.Route("s1", model.SessionEvent{
		Type:      model.EventConfirmationRequired,
		SessionID: "s1",
		PlayerID:  human,
		Data:      model.ConfirmationRequiredData{PlayerID: human},
	})

	f.clk.Advance(2 * time.Second)
	sess, _ := f.sessions.Get("s1")
	if sess.StateVersion != 2 {
		t.Fatalf("pending ai move was lost, version=%d", sess.StateVersion)
	}
}

func TestNewStateEventReplacesPendingAction(t *testing.T) {
	f := newFixture()
	seedSession(f, bot)
	f.sched.Attach("s1", bot)

	f.events.Route("s1", turnEvent(bot))
	f.clk.Advance(1 * time.Second)
	// The board moved again before the delay elapsed: only one action may
	// come out of the two notifications.
	f.events.Route("s1", turnEvent(bot))
	f.clk.Advance(2 * time.Second)

	sess, _ := f.sessions.Get("s1")
	if sess.StateVersion != 2 {
		t.Fatalf("expected exactly one ai move, version=%d", sess.StateVersion)
	}
}

func TestSchedulerDetachesOnGameFinish(t *testing.T) {
	f := newFixture()
	seedSession(f, bot)
	f.sched.Attach("s1", bot)

	f.events.Route("s1", turnEvent(bot))
	f.events.Route("s1", model.SessionEvent{
		Type:      model.EventGameFinished,
		SessionID: "s1",
		Data:      model.GameFinishedData{Reason: "completed"},
	})

	f.clk.Advance(5 * time.Second)
	sess, _ := f.sessions.Get("s1")
	if sess.StateVersion != 1 {
		t.Fatal("detached scheduler still acted")
	}
}
