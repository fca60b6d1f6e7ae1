package timeout

import (
	"sync"
	"time"

	"koi-service/pkg/clock"
	"koi-service/pkg/logger"

	"go.uber.org/zap"
)

type Kind string

const (
	KindAction       Kind = "action"
	KindIdle         Kind = "idle"
	KindDisconnect   Kind = "disconnect"
	KindConfirmation Kind = "confirmation"
	KindMatchmaking  Kind = "matchmaking"
)

type key struct {
	sessionID string
	playerID  string
	kind      Kind
}

type handle struct {
	timer    clock.Timer
	deadline time.Time
}

// Registry keeps at most one live scheduled callback per
// (session, player, kind). Callbacks run fire-and-forget: errors and panics
// are logged at this boundary and never reach the code that armed the timer.
type Registry struct {
	clk clock.Clock

	mu      sync.Mutex
	handles map[key]*handle
}

func NewRegistry(clk clock.Clock) *Registry {
	return &Registry{
		clk:     clk,
		handles: make(map[key]*handle),
	}
}

// Arm schedules onFire after d, cancelling any previous handle of the same
// key and kind.
func (r *Registry) Arm(sessionID, playerID string, kind Kind, d time.Duration, onFire func() error) {
	k := key{sessionID, playerID, kind}
	h := &handle{deadline: r.clk.Now().Add(d)}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.handles[k]; ok {
		prev.timer.Stop()
	}
	// The timer is created before the handle becomes visible, so Cancel and
	// re-Arm always see a fully constructed handle.
	h.timer = r.clk.AfterFunc(d, func() {
		r.fire(k, h, onFire)
	})
	r.handles[k] = h
}

func (r *Registry) fire(k key, h *handle, onFire func() error) {
	r.mu.Lock()
	cur, ok := r.handles[k]
	if !ok || cur != h {
		// Superseded or cancelled between scheduling and firing.
		r.mu.Unlock()
		return
	}
	delete(r.handles, k)
	r.mu.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			logger.Log.Error("timeout callback panic",
				zap.String("sessionID", k.sessionID),
				zap.String("playerID", k.playerID),
				zap.String("kind", string(k.kind)),
				zap.Any("panic", rec),
			)
		}
	}()
	if err := onFire(); err != nil {
		logger.Log.Warn("timeout callback error",
			zap.String("sessionID", k.sessionID),
			zap.String("playerID", k.playerID),
			zap.String("kind", string(k.kind)),
			zap.Error(err),
		)
	}
}

// Cancel stops the handle if present and reports whether one was live.
func (r *Registry) Cancel(sessionID, playerID string, kind Kind) bool {
	k := key{sessionID, playerID, kind}
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[k]
	if !ok {
		return false
	}
	h.timer.Stop()
	delete(r.handles, k)
	return true
}

// CancelSession drops every handle scoped to the session.
func (r *Registry) CancelSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, h := range r.handles {
		if k.sessionID == sessionID {
			h.timer.Stop()
			delete(r.handles, k)
		}
	}
}

// Remaining reports time left before the handle fires, if one is live.
func (r *Registry) Remaining(sessionID, playerID string, kind Kind) (time.Duration, bool) {
	k := key{sessionID, playerID, kind}
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[k]
	if !ok {
		return 0, false
	}
	d := h.deadline.Sub(r.clk.Now())
	if d < 0 {
		d = 0
	}
	return d, true
}

// Armed reports whether a live handle exists for the key and kind.
func (r *Registry) Armed(sessionID, playerID string, kind Kind) bool {
	_, ok := r.Remaining(sessionID, playerID, kind)
	return ok
}
