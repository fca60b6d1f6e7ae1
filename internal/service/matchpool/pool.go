package matchpool

import (
	"sync"
	"time"

	appErr "koi-service/pkg/errors"
)

type Status string

const (
	StatusSearching       Status = "SEARCHING"
	StatusLowAvailability Status = "LOW_AVAILABILITY"
	StatusMatched         Status = "MATCHED"
	StatusCancelled       Status = "CANCELLED"
)

// Entry is one waiting player. SessionID points at the WAITING session the
// player opened while queued, so a match winner knows which session to claim.
type Entry struct {
	PlayerID   string
	Nickname   string
	RoomType   string
	SessionID  string
	Status     Status
	EnqueuedAt time.Time

	seq int64
}

// Pool is a FIFO queue of waiting players segregated by room type. It only
// pairs entries; session creation belongs to the caller.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*Entry // by player id
	nextSeq int64
}

func NewPool() *Pool {
	return &Pool{entries: make(map[string]*Entry)}
}

func (p *Pool) Enqueue(entry Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[entry.PlayerID]; ok {
		return appErr.ErrAlreadyQueued
	}
	entry.Status = StatusSearching
	entry.seq = p.nextSeq
	p.nextSeq++
	p.entries[entry.PlayerID] = &entry
	return nil
}

func (p *Pool) Dequeue(playerID string) *Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[playerID]
	if !ok {
		return nil
	}
	delete(p.entries, playerID)
	out := *entry
	return &out
}

func (p *Pool) Get(playerID string) *Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[playerID]
	if !ok {
		return nil
	}
	out := *entry
	return &out
}

// FindMatch returns the searchable entry of the same room type with the
// smallest enqueue timestamp, ties broken by insertion order. The requester
// itself is never a candidate; entries of other room types never compare.
func (p *Pool) FindMatch(requester Entry) *Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	var best *Entry
	for _, e := range p.entries {
		if e.PlayerID == requester.PlayerID || e.RoomType != requester.RoomType {
			continue
		}
		if e.Status != StatusSearching && e.Status != StatusLowAvailability {
			continue
		}
		if best == nil || earlier(e, best) {
			best = e
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}

func earlier(a, b *Entry) bool {
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.seq < b.seq
}

// MarkMatched flips the entries to MATCHED and removes them from the
// searchable set.
func (p *Pool) MarkMatched(playerIDs ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range playerIDs {
		if e, ok := p.entries[id]; ok {
			e.Status = StatusMatched
			delete(p.entries, id)
		}
	}
}

// MarkLowAvailability is called by the coordinator once the configured
// elapsed-time threshold passes; the pool itself keeps no clock.
func (p *Pool) MarkLowAvailability(playerID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[playerID]
	if !ok || e.Status != StatusSearching {
		return false
	}
	e.Status = StatusLowAvailability
	return true
}
