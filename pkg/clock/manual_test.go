package clock

import (
	"testing"
	"time"
)

func TestManualAdvanceFiresInDeadlineOrder(t *testing.T) {
	m := NewManual(time.Unix(0, 0))

	var order []string
	m.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	m.AfterFunc(1*time.Second, func() { order = append(order, "a") })
	m.AfterFunc(5*time.Second, func() { order = append(order, "late") })

	m.Advance(3 * time.Second)
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("unexpected firing order: %v", order)
	}

	m.Advance(2 * time.Second)
	if len(order) != 3 || order[2] != "late" {
		t.Fatalf("expected late timer to fire, got %v", order)
	}
}

func TestManualStop(t *testing.T) {
	m := NewManual(time.Unix(0, 0))

	fired := false
	timer := m.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Fatal("expected Stop to succeed on pending timer")
	}
	m.Advance(2 * time.Second)
	if fired {
		t.Fatal("stopped timer must not fire")
	}
	if timer.Stop() {
		t.Fatal("second Stop must report false")
	}
}

func TestManualCallbackMaySchedule(t *testing.T) {
	m := NewManual(time.Unix(0, 0))

	var fired []string
	m.AfterFunc(time.Second, func() {
		fired = append(fired, "first")
		m.AfterFunc(time.Second, func() { fired = append(fired, "second") })
	})

	m.Advance(time.Second)
	m.Advance(time.Second)
	if len(fired) != 2 || fired[1] != "second" {
		t.Fatalf("expected rescheduled timer to fire, got %v", fired)
	}
}
