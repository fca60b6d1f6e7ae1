package store_test

import (
	"context"
	"testing"
	"time"

	"koi-service/internal/model"
	"koi-service/internal/service/store"
	appErr "koi-service/pkg/errors"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newSession(id string, createdAt time.Time) *model.Session {
	return &model.Session{
		ID:       id,
		RoomType: "standard",
		Status:   model.StatusWaiting,
		Participants: []model.Participant{
			{ID: "p1", Nickname: "one"},
		},
		Scores:      map[string]int{"p1": 0},
		TotalRounds: 3,
		CreatedAt:   createdAt,
	}
}

func TestSwapVersionDiscipline(t *testing.T) {
	s := store.NewStore()
	sess := newSession("s1", time.Now())
	sess.Round = &model.Round{Number: 1, Version: 0}
	s.Put(sess)

	read, ok := s.Get("s1")
	if !ok {
		t.Fatal("expected session")
	}
	read.StateVersion++
	read.Round.Version = read.StateVersion
	if err := s.Swap(read, 0); err != nil {
		t.Fatalf("first swap failed: %v", err)
	}

	// A writer that read version 0 must now lose.
	stale := sess.Clone()
	stale.StateVersion = 1
	if err := s.Swap(stale, 0); err != appErr.ErrVersionConflict {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	// Rejected writes must not change the stored version.
	cur, _ := s.Get("s1")
	if cur.StateVersion != 1 {
		t.Fatalf("version changed on rejected mutation: %d", cur.StateVersion)
	}
}

func TestSwapRequiresExactIncrement(t *testing.T) {
	s := store.NewStore()
	s.Put(newSession("s1", time.Now()))

	read, _ := s.Get("s1")
	read.StateVersion += 2
	if err := s.Swap(read, 0); err != appErr.ErrVersionConflict {
		t.Fatalf("expected ErrVersionConflict on skipped version, got %v", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := store.NewStore()
	s.Put(newSession("s1", time.Now()))

	a, _ := s.Get("s1")
	a.Scores["p1"] = 99
	a.Participants[0].Nickname = "mutated"

	b, _ := s.Get("s1")
	if b.Scores["p1"] != 0 || b.Participants[0].Nickname != "one" {
		t.Fatal("store state leaked through returned copy")
	}
}

func TestFindWaitingEarliest(t *testing.T) {
	s := store.NewStore()
	base := time.Now()
	s.Put(newSession("late", base.Add(time.Minute)))
	s.Put(newSession("early", base))

	other := newSession("other-room", base.Add(-time.Hour))
	other.RoomType = "ranked"
	s.Put(other)

	started := newSession("started", base.Add(-time.Hour))
	started.Status = model.StatusInProgress
	s.Put(started)

	found := s.FindWaiting("standard")
	if found == nil || found.ID != "early" {
		t.Fatalf("expected earliest waiting session, got %+v", found)
	}
}

func newArchiver(t *testing.T) *store.GormArchiver {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&model.GameSessionRecord{}, &model.SessionRoundLog{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return store.NewGormArchiver(db)
}

func TestArchiverRoundTrip(t *testing.T) {
	ctx := context.Background()
	a := newArchiver(t)

	sess := newSession("s1", time.Now())
	sess.Status = model.StatusInProgress
	sess.StateVersion = 4
	sess.Round = &model.Round{
		Number:         1,
		FlowState:      model.AwaitingHandPlay,
		ActivePlayerID: "p1",
		Version:        4,
		Multiplier:     2,
		Hands:          map[string][]model.Card{"p1": {{Month: 1, Index: 0, Category: model.CategoryBright, Points: 20}}},
		CapturePiles:   map[string][]model.Card{},
		Yaku:           map[string][]model.YakuResult{},
	}
	if err := a.Save(ctx, sess); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := a.FindByID(ctx, "s1")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if got.StateVersion != 4 || got.Round == nil || got.Round.Multiplier != 2 {
		t.Fatalf("unexpected restored session: %+v", got)
	}

	// Save again with new state; upsert must win.
	sess.StateVersion = 5
	sess.Status = model.StatusFinished
	if err := a.Save(ctx, sess); err != nil {
		t.Fatalf("second save failed: %v", err)
	}
	got, err = a.FindByID(ctx, "s1")
	if err != nil {
		t.Fatalf("find after upsert failed: %v", err)
	}
	if got.Status != model.StatusFinished || got.StateVersion != 5 {
		t.Fatalf("upsert did not replace state: %+v", got)
	}
}

func TestArchiverFindByIDMissing(t *testing.T) {
	a := newArchiver(t)
	if _, err := a.FindByID(context.Background(), "missing"); err != appErr.ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
