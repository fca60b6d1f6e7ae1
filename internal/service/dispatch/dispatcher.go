package dispatch

import (
	"sync"

	"koi-service/internal/model"
	"koi-service/pkg/logger"

	"go.uber.org/zap"
)

type Handler func(model.SessionEvent)

type chain struct {
	queue    []model.SessionEvent
	draining bool
	handlers map[int64]Handler
	order    []int64
	nextID   int64
}

// Dispatcher delivers events per session strictly in Route call order. Each
// session has an explicit FIFO queue drained to completion by whichever
// goroutine enqueued first, so two events for one session can never
// interleave their handler side effects. Handler panics are swallowed and
// logged; they never stall the chain.
type Dispatcher struct {
	mu     sync.Mutex
	chains map[string]*chain
}

func New() *Dispatcher {
	return &Dispatcher{chains: make(map[string]*chain)}
}

func (d *Dispatcher) chainLocked(sessionID string) *chain {
	c, ok := d.chains[sessionID]
	if !ok {
		c = &chain{handlers: make(map[int64]Handler)}
		d.chains[sessionID] = c
	}
	return c
}

// Subscribe registers a handler and returns its unsubscribe func.
func (d *Dispatcher) Subscribe(sessionID string, h Handler) func() {
	d.mu.Lock()
	c := d.chainLocked(sessionID)
	id := c.nextID
	c.nextID++
	c.handlers[id] = h
	c.order = append(c.order, id)
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		c, ok := d.chains[sessionID]
		if !ok {
			return
		}
		delete(c.handlers, id)
		for i, oid := range c.order {
			if oid == id {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
}

// Route enqueues the event and, unless another goroutine is already
// draining this session's queue, drains it to empty.
func (d *Dispatcher) Route(sessionID string, ev model.SessionEvent) {
	d.mu.Lock()
	c := d.chainLocked(sessionID)
	c.queue = append(c.queue, ev)
	if c.draining {
		d.mu.Unlock()
		return
	}
	c.draining = true

	for {
		cur, ok := d.chains[sessionID]
		if !ok || len(cur.queue) == 0 {
			if ok {
				cur.draining = false
			}
			d.mu.Unlock()
			return
		}
		next := cur.queue[0]
		cur.queue = cur.queue[1:]
		handlers := make([]Handler, 0, len(cur.order))
		for _, id := range cur.order {
			handlers = append(handlers, cur.handlers[id])
		}
		d.mu.Unlock()

		for _, h := range handlers {
			invoke(h, next)
		}

		d.mu.Lock()
	}
}

func invoke(h Handler, ev model.SessionEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Log.Error("event handler panic",
				zap.String("sessionID", ev.SessionID),
				zap.String("event", string(ev.Type)),
				zap.Any("panic", rec),
			)
		}
	}()
	h(ev)
}

// Clear drops queued-but-undelivered events, keeping subscriptions. Used on
// reconnect, when everything queued during the disconnect window is
// obsoleted by the snapshot.
func (d *Dispatcher) Clear(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.chains[sessionID]; ok {
		c.queue = nil
	}
}

// Drop discards the whole chain, subscriptions included. Used on session
// termination.
func (d *Dispatcher) Drop(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.chains, sessionID)
}
