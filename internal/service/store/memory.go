package store

import (
	"context"
	"sync"

	"koi-service/internal/model"
	appErr "koi-service/pkg/errors"
)

// MemoryArchiver keeps archived sessions in a map. It backs tests and
// database-less development runs; restart recovery is obviously lost.
type MemoryArchiver struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	rounds   []model.SessionRoundLog
}

var _ Archiver = (*MemoryArchiver)(nil)

func NewMemoryArchiver() *MemoryArchiver {
	return &MemoryArchiver{sessions: make(map[string]*model.Session)}
}

func (a *MemoryArchiver) Save(_ context.Context, sess *model.Session) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions[sess.ID] = sess.Clone()
	return nil
}

func (a *MemoryArchiver) FindByID(_ context.Context, id string) (*model.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	sess, ok := a.sessions[id]
	if !ok {
		return nil, appErr.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

func (a *MemoryArchiver) FindWaiting(_ context.Context, roomType string) (*model.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var found *model.Session
	for _, sess := range a.sessions {
		if sess.Status != model.StatusWaiting || sess.RoomType != roomType {
			continue
		}
		if found == nil || sess.CreatedAt.Before(found.CreatedAt) {
			found = sess
		}
	}
	if found == nil {
		return nil, appErr.ErrSessionNotFound
	}
	return found.Clone(), nil
}

func (a *MemoryArchiver) Delete(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, id)
	return nil
}

func (a *MemoryArchiver) LogRound(_ context.Context, entry *model.SessionRoundLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rounds = append(a.rounds, *entry)
	return nil
}

// RoundLogs returns a copy of every logged round, oldest first.
func (a *MemoryArchiver) RoundLogs(sessionID string) []model.SessionRoundLog {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []model.SessionRoundLog
	for _, r := range a.rounds {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out
}
