package matchpool_test

import (
	"testing"
	"time"

	"koi-service/internal/service/matchpool"
	appErr "koi-service/pkg/errors"
)

func entry(playerID, roomType string, at time.Time) matchpool.Entry {
	return matchpool.Entry{
		PlayerID:   playerID,
		RoomType:   roomType,
		SessionID:  "sess-" + playerID,
		EnqueuedAt: at,
	}
}

func TestEnqueueRejectsDuplicate(t *testing.T) {
	p := matchpool.NewPool()
	e := entry("p1", "standard", time.Now())
	if err := p.Enqueue(e); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := p.Enqueue(e); err != appErr.ErrAlreadyQueued {
		t.Fatalf("expected ErrAlreadyQueued, got %v", err)
	}
}

func TestFindMatchFIFO(t *testing.T) {
	p := matchpool.NewPool()
	base := time.Unix(1000, 0)
	for i, id := range []string{"p1", "p2", "p3"} {
		if err := p.Enqueue(entry(id, "standard", base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("enqueue %s failed: %v", id, err)
		}
	}

	me := entry("p4", "standard", base.Add(time.Minute))
	if err := p.Enqueue(me); err != nil {
		t.Fatalf("enqueue p4 failed: %v", err)
	}

	first := p.FindMatch(me)
	if first == nil || first.PlayerID != "p1" {
		t.Fatalf("expected p1 first, got %+v", first)
	}
	p.MarkMatched(first.PlayerID)

	second := p.FindMatch(me)
	if second == nil || second.PlayerID != "p2" {
		t.Fatalf("expected p2 after p1 removed, got %+v", second)
	}
}

func TestFindMatchTiesBrokenByInsertionOrder(t *testing.T) {
	p := matchpool.NewPool()
	at := time.Unix(1000, 0)
	for _, id := range []string{"a", "b", "c"} {
		if err := p.Enqueue(entry(id, "standard", at)); err != nil {
			t.Fatalf("enqueue %s failed: %v", id, err)
		}
	}
	got := p.FindMatch(entry("me", "standard", at))
	if got == nil || got.PlayerID != "a" {
		t.Fatalf("expected insertion-order winner a, got %+v", got)
	}
}

func TestRoomTypesNeverComparable(t *testing.T) {
	p := matchpool.NewPool()
	if err := p.Enqueue(entry("p1", "ranked", time.Unix(0, 0))); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if got := p.FindMatch(entry("p2", "standard", time.Now())); got != nil {
		t.Fatalf("matched across room types: %+v", got)
	}
}

func TestFindMatchExcludesRequesterAndMatched(t *testing.T) {
	p := matchpool.NewPool()
	me := entry("p1", "standard", time.Unix(0, 0))
	if err := p.Enqueue(me); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if got := p.FindMatch(me); got != nil {
		t.Fatalf("requester matched itself: %+v", got)
	}

	if err := p.Enqueue(entry("p2", "standard", time.Unix(1, 0))); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	p.MarkMatched("p2")
	if got := p.FindMatch(me); got != nil {
		t.Fatalf("matched a MATCHED entry: %+v", got)
	}
}

func TestLowAvailabilityStillMatchable(t *testing.T) {
	p := matchpool.NewPool()
	if err := p.Enqueue(entry("p1", "standard", time.Unix(0, 0))); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if !p.MarkLowAvailability("p1") {
		t.Fatal("expected transition to LOW_AVAILABILITY")
	}
	if p.MarkLowAvailability("p1") {
		t.Fatal("second transition must report false")
	}
	got := p.FindMatch(entry("p2", "standard", time.Now()))
	if got == nil || got.PlayerID != "p1" || got.Status != matchpool.StatusLowAvailability {
		t.Fatalf("expected low-availability entry to match, got %+v", got)
	}
}

func TestDequeue(t *testing.T) {
	p := matchpool.NewPool()
	if err := p.Enqueue(entry("p1", "standard", time.Unix(0, 0))); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if got := p.Dequeue("p1"); got == nil || got.PlayerID != "p1" {
		t.Fatalf("dequeue returned %+v", got)
	}
	if got := p.Dequeue("p1"); got != nil {
		t.Fatalf("expected nil on second dequeue, got %+v", got)
	}
}
