package store

import (
	"sync"

	"koi-service/internal/model"
	appErr "koi-service/pkg/errors"
)

// Store is the authoritative in-memory map of session id to session state.
// Sessions cross its boundary only as deep copies; writers replace the whole
// object. Round mutations go through Swap, which enforces the optimistic
// version discipline; Put is reserved for non-round transitions serialized
// by the lifecycle coordinator's pessimistic lock.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*model.Session)}
}

func (s *Store) Get(id string) (*model.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return sess.Clone(), true
}

func (s *Store) Put(sess *model.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess.Clone()
}

// Swap replaces the stored session only if its version is still the one the
// writer read. Accepted writes must carry exactly expected+1.
func (s *Store) Swap(sess *model.Session, expected int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sessions[sess.ID]
	if !ok {
		return appErr.ErrSessionNotFound
	}
	if cur.StateVersion != expected || sess.StateVersion != expected+1 {
		return appErr.ErrVersionConflict
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// FindWaiting returns the earliest-created WAITING session of the room type,
// or nil.
func (s *Store) FindWaiting(roomType string) *model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *model.Session
	for _, sess := range s.sessions {
		if sess.Status != model.StatusWaiting || sess.RoomType != roomType {
			continue
		}
		if found == nil || sess.CreatedAt.Before(found.CreatedAt) {
			found = sess
		}
	}
	if found == nil {
		return nil
	}
	return found.Clone()
}

func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}
