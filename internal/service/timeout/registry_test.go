package timeout_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"koi-service/internal/service/timeout"
	"koi-service/pkg/clock"
)

func TestRearmCancelsPreviousHandle(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	reg := timeout.NewRegistry(clk)

	var fired []string
	reg.Arm("s1", "p1", timeout.KindAction, time.Second, func() error {
		fired = append(fired, "first")
		return nil
	})
	reg.Arm("s1", "p1", timeout.KindAction, 3*time.Second, func() error {
		fired = append(fired, "second")
		return nil
	})

	clk.Advance(2 * time.Second)
	if len(fired) != 0 {
		t.Fatalf("superseded handle fired: %v", fired)
	}
	clk.Advance(2 * time.Second)
	if len(fired) != 1 || fired[0] != "second" {
		t.Fatalf("expected only the re-armed handle to fire, got %v", fired)
	}
}

func TestCancel(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	reg := timeout.NewRegistry(clk)

	fired := false
	reg.Arm("s1", "p1", timeout.KindDisconnect, time.Second, func() error {
		fired = true
		return nil
	})
	if !reg.Cancel("s1", "p1", timeout.KindDisconnect) {
		t.Fatal("expected cancel to find a live handle")
	}
	clk.Advance(2 * time.Second)
	if fired {
		t.Fatal("cancelled handle fired")
	}
	if reg.Cancel("s1", "p1", timeout.KindDisconnect) {
		t.Fatal("second cancel must report no live handle")
	}
}

func TestCancelSessionDropsAllKinds(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	reg := timeout.NewRegistry(clk)

	count := 0
	cb := func() error { count++; return nil }
	reg.Arm("s1", "p1", timeout.KindAction, time.Second, cb)
	reg.Arm("s1", "p1", timeout.KindIdle, time.Second, cb)
	reg.Arm("s1", "p2", timeout.KindAction, time.Second, cb)
	reg.Arm("s2", "p1", timeout.KindAction, time.Second, cb)

	reg.CancelSession("s1")
	clk.Advance(2 * time.Second)
	if count != 1 {
		t.Fatalf("expected only the s2 handle to fire, got %d", count)
	}
}

func TestCallbackErrorAndPanicAreContained(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	reg := timeout.NewRegistry(clk)

	reg.Arm("s1", "p1", timeout.KindAction, time.Second, func() error {
		return errors.New("boom")
	})
	reg.Arm("s1", "p2", timeout.KindAction, time.Second, func() error {
		panic("worse")
	})

	// Must not panic past the registry boundary.
	clk.Advance(time.Second)

	if reg.Armed("s1", "p1", timeout.KindAction) || reg.Armed("s1", "p2", timeout.KindAction) {
		t.Fatal("fired handles must be removed")
	}
}

func TestRemaining(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	reg := timeout.NewRegistry(clk)

	reg.Arm("s1", "p1", timeout.KindIdle, 10*time.Second, func() error { return nil })
	clk.Advance(4 * time.Second)

	d, ok := reg.Remaining("s1", "p1", timeout.KindIdle)
	if !ok || d != 6*time.Second {
		t.Fatalf("expected 6s remaining, got %v ok=%v", d, ok)
	}

	if _, ok := reg.Remaining("s1", "p1", timeout.KindAction); ok {
		t.Fatal("expected no handle for unarmed kind")
	}
}

// stallClock parks inside AfterFunc until released, stretching the window in
// which Arm is mid-construction while another goroutine races it.
type stallClock struct {
	clock.Clock
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (c *stallClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.once.Do(func() { close(c.entered) })
	<-c.release
	return c.Clock.AfterFunc(d, f)
}

func TestCancelDuringSlowArmSeesCompleteHandle(t *testing.T) {
	clk := &stallClock{
		Clock:   clock.NewManual(time.Unix(0, 0)),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	reg := timeout.NewRegistry(clk)

	armed := make(chan struct{})
	go func() {
		defer close(armed)
		reg.Arm("s1", "p1", timeout.KindAction, time.Second, func() error { return nil })
	}()
	<-clk.entered

	cancelled := make(chan bool, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				t.Errorf("cancel panicked against in-flight arm: %v", rec)
				cancelled <- false
			}
		}()
		cancelled <- reg.Cancel("s1", "p1", timeout.KindAction)
	}()

	close(clk.release)
	<-armed
	if !<-cancelled {
		t.Fatal("expected cancel to find the freshly armed handle")
	}
	if reg.Armed("s1", "p1", timeout.KindAction) {
		t.Fatal("cancelled handle must not stay live")
	}
}

func TestAtMostOneLiveHandlePerKey(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	reg := timeout.NewRegistry(clk)

	count := 0
	for i := 0; i < 5; i++ {
		reg.Arm("s1", "p1", timeout.KindAction, time.Second, func() error { count++; return nil })
	}
	clk.Advance(time.Second)
	if count != 1 {
		t.Fatalf("expected exactly one firing, got %d", count)
	}
}
