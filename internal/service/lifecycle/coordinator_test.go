package lifecycle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"koi-service/internal/model"
	"koi-service/internal/service/ai"
	"koi-service/internal/service/dispatch"
	"koi-service/internal/service/flow"
	"koi-service/internal/service/lifecycle"
	"koi-service/internal/service/matchpool"
	"koi-service/internal/service/store"
	"koi-service/internal/service/timeout"
	"koi-service/pkg/clock"
	appErr "koi-service/pkg/errors"
)

type fixture struct {
	clk      *clock.Manual
	sessions *store.Store
	archive  *store.MemoryArchiver
	pool     *matchpool.Pool
	timeouts *timeout.Registry
	events   *dispatch.Dispatcher
	coord    *lifecycle.Coordinator
}

func newFixture(cfg lifecycle.Config) *fixture {
	f := &fixture{
		clk:      clock.NewManual(time.Unix(1700000000, 0)),
		sessions: store.NewStore(),
		archive:  store.NewMemoryArchiver(),
		pool:     matchpool.NewPool(),
		events:   dispatch.New(),
	}
	f.timeouts = timeout.NewRegistry(f.clk)
	fc := flow.NewController(flow.DefaultConfig(), f.sessions, f.archive, f.timeouts, f.events)
	sched := ai.NewScheduler(ai.Config{DelayMin: time.Second, DelayMax: time.Second}, f.clk, f.sessions, f.events, fc)
	f.coord = lifecycle.NewCoordinator(cfg, f.clk, f.sessions, f.archive, f.pool, f.timeouts, f.events, fc, sched, nil)
	return f
}

func (f *fixture) record(sessionID string) *[]model.SessionEvent {
	var captured []model.SessionEvent
	f.events.Subscribe(sessionID, func(ev model.SessionEvent) {
		captured = append(captured, ev)
	})
	return &captured
}

func TestJoinQueuesWhenNobodyWaits(t *testing.T) {
	f := newFixture(lifecycle.DefaultConfig())

	sess, err := f.coord.JoinMatch(context.Background(), "p-a", "alice", "standard", false)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if sess.Status != model.StatusWaiting || len(sess.Participants) != 1 {
		t.Fatalf("expected fresh waiting session: %+v", sess)
	}
	state, err := f.coord.MatchStatus(context.Background(), "p-a")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if state.Status != string(matchpool.StatusSearching) || state.SessionID != sess.ID {
		t.Fatalf("unexpected match state: %+v", state)
	}
}

func TestJoinPairsWithWaitingPlayer(t *testing.T) {
	f := newFixture(lifecycle.DefaultConfig())

	waiting, err := f.coord.JoinMatch(context.Background(), "p-a", "alice", "standard", false)
	if err != nil {
		t.Fatalf("first join: %v", err)
	}
	captured := f.record(waiting.ID)

	sess, err := f.coord.JoinMatch(context.Background(), "p-b", "bob", "standard", false)
	if err != nil {
		t.Fatalf("second join: %v", err)
	}
	if sess.ID != waiting.ID {
		t.Fatal("joiner should claim the waiting session, not open a new one")
	}
	if sess.Status != model.StatusInProgress || len(sess.Participants) != 2 {
		t.Fatalf("match should be started: %+v", sess)
	}
	if sess.Round == nil || len(sess.Round.Hands["p-a"]) != 8 || len(sess.Round.Hands["p-b"]) != 8 {
		t.Fatal("opening round not dealt")
	}
	if f.pool.Get("p-a") != nil || f.pool.Get("p-b") != nil {
		t.Fatal("matched players must leave the pool")
	}

	var found, dealt int
	for _, ev := range *captured {
		switch ev.Type {
		case model.EventMatchFound:
			found++
		case model.EventRoundDealt:
			dealt++
		}
	}
	if found != 1 || dealt != 2 {
		t.Fatalf("expected match-found plus per-player deals, got found=%d dealt=%d", found, dealt)
	}
}

func TestStaleQueueEntryFallsBackToNewSession(t *testing.T) {
	f := newFixture(lifecycle.DefaultConfig())

	waiting, err := f.coord.JoinMatch(context.Background(), "p-a", "alice", "standard", false)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	// The waiting session gets claimed out from under the pool entry,
	// leaving the entry pointing at a session no longer claimable.
	stale, _ := f.sessions.Get(waiting.ID)
	stale.Status = model.StatusStarting
	f.sessions.Put(stale)

	sess, err := f.coord.JoinMatch(context.Background(), "p-b", "bob", "standard", false)
	if err != nil {
		t.Fatalf("join after race: %v", err)
	}
	if sess.ID == waiting.ID {
		t.Fatal("loser of the claim race must not reuse the claimed session")
	}
	if sess.Status != model.StatusWaiting || len(sess.Participants) != 1 {
		t.Fatalf("expected a fresh waiting session: %+v", sess)
	}
	if f.pool.Get("p-a") != nil {
		t.Fatal("stale entry should be purged")
	}
	if f.pool.Get("p-b") == nil {
		t.Fatal("loser should be queued on the new session")
	}
}

func TestRoomTypesNeverMix(t *testing.T) {
	f := newFixture(lifecycle.DefaultConfig())

	a, _ := f.coord.JoinMatch(context.Background(), "p-a", "alice", "standard", false)
	b, err := f.coord.JoinMatch(context.Background(), "p-b", "bob", "ranked", false)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if b.ID == a.ID || b.Status != model.StatusWaiting {
		t.Fatal("different room types must not match")
	}
}

func TestDuplicateJoinRejected(t *testing.T) {
	f := newFixture(lifecycle.DefaultConfig())

	if _, err := f.coord.JoinMatch(context.Background(), "p-a", "alice", "standard", false); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := f.coord.JoinMatch(context.Background(), "p-a", "alice", "standard", false); !errors.Is(err, appErr.ErrAlreadyQueued) {
		t.Fatalf("expected ErrAlreadyQueued, got %v", err)
	}
}

func TestCancelMatchReclaimsWaitingSession(t *testing.T) {
	f := newFixture(lifecycle.DefaultConfig())

	sess, _ := f.coord.JoinMatch(context.Background(), "p-a", "alice", "standard", false)
	if err := f.coord.CancelMatch(context.Background(), "p-a"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, ok := f.sessions.Get(sess.ID); ok {
		t.Fatal("cancelled waiting session should be gone")
	}
	if err := f.coord.CancelMatch(context.Background(), "p-a"); !errors.Is(err, appErr.ErrNotQueued) {
		t.Fatalf("expected ErrNotQueued, got %v", err)
	}
	if _, err := f.coord.MatchStatus(context.Background(), "p-a"); !errors.Is(err, appErr.ErrNotQueued) {
		t.Fatalf("expected ErrNotQueued from status, got %v", err)
	}
}

func TestWaitTimesOutThroughLowAvailability(t *testing.T) {
	cfg := lifecycle.Config{
		LowAvailability: 30 * time.Second,
		MaxWait:         120 * time.Second,
	}
	f := newFixture(cfg)

	sess, _ := f.coord.JoinMatch(context.Background(), "p-a", "alice", "standard", false)
	captured := f.record(sess.ID)

	f.clk.Advance(30 * time.Second)
	state, err := f.coord.MatchStatus(context.Background(), "p-a")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if state.Status != string(matchpool.StatusLowAvailability) {
		t.Fatalf("expected low availability, got %s", state.Status)
	}

	f.clk.Advance(90 * time.Second)
	if f.pool.Get("p-a") != nil {
		t.Fatal("expired player should leave the pool")
	}
	if _, ok := f.sessions.Get(sess.ID); ok {
		t.Fatal("expired waiting session should be reclaimed")
	}

	var low, expired int
	for _, ev := range *captured {
		switch ev.Type {
		case model.EventLowAvailability:
			low++
		case model.EventMatchmakingExpired:
			expired++
		}
	}
	if low != 1 || expired != 1 {
		t.Fatalf("expected one notice and one expiry, got low=%d expired=%d", low, expired)
	}
}

func TestWaitExpiryFallsBackToAIMatch(t *testing.T) {
	cfg := lifecycle.Config{
		LowAvailability: 30 * time.Second,
		MaxWait:         120 * time.Second,
		FallbackToAI:    true,
	}
	f := newFixture(cfg)

	sess, _ := f.coord.JoinMatch(context.Background(), "p-a", "alice", "standard", false)

	f.clk.Advance(30 * time.Second)
	f.clk.Advance(90 * time.Second)

	started, ok := f.sessions.Get(sess.ID)
	if !ok || started.Status != model.StatusInProgress {
		t.Fatalf("expected ai fallback to start the session: %+v", started)
	}
	if len(started.Participants) != 2 || !started.Participants[1].IsAI {
		t.Fatalf("expected an ai opponent: %+v", started.Participants)
	}
	if f.pool.Get("p-a") != nil {
		t.Fatal("player should leave the pool on fallback")
	}
}

func TestJoinVsAIStartsImmediately(t *testing.T) {
	f := newFixture(lifecycle.DefaultConfig())

	sess, err := f.coord.JoinMatch(context.Background(), "p-a", "alice", "ai", true)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if sess.Status != model.StatusInProgress || len(sess.Participants) != 2 {
		t.Fatalf("ai match should start immediately: %+v", sess)
	}
	if !sess.Participants[1].IsAI {
		t.Fatal("second seat should be the ai")
	}
	if sess.Round == nil || sess.Round.ActivePlayerID != "p-a" {
		t.Fatal("human should open the first round")
	}
}

func TestLeaveRunningSessionForfeitsAndTearsDown(t *testing.T) {
	f := newFixture(lifecycle.DefaultConfig())

	f.coord.JoinMatch(context.Background(), "p-a", "alice", "standard", false)
	sess, err := f.coord.JoinMatch(context.Background(), "p-b", "bob", "standard", false)
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := f.coord.LeaveSession(context.Background(), sess.ID, "p-b"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	finished, _ := f.sessions.Get(sess.ID)
	if finished.Status != model.StatusFinished {
		t.Fatalf("leave should forfeit, status=%s", finished.Status)
	}

	// The finished session lingers for late reads, then gets reclaimed.
	f.clk.Advance(2 * time.Minute)
	if _, ok := f.sessions.Get(sess.ID); ok {
		t.Fatal("finished session should be torn down after retention")
	}
}
