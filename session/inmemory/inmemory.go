package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/counselgraph/counselgraph/session"
	"github.com/counselgraph/counselgraph/session/session_object"
	"github.com/google/uuid"
)

type Store struct {
	sessions map[string]*session_object.Session
	mu       sync.RWMutex
}

func NewStore() session.Store {
	return &Store{sessions: make(map[string]*session_object.Session)}
}

func (store *Store) EnsureSession(_ context.Context, id string, ttl time.Duration) (session.Session, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if id != "" {
		if sess, ok := store.sessions[id]; ok {
			sess.Expire(ttl)
			return sess, nil
		}
	}
	if id == "" {
		id = uuid.NewString()
	}

	sess, err := session_object.NewSession(id, ttl)
	if err != nil {
		return nil, err
	}

	store.sessions[sess.ID()] = sess
	return sess, nil
}

func (store *Store) GetSession(_ context.Context, id string) (session.Session, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()
	sess, ok := store.sessions[id]
	if !ok || sess.Expired() {
		return nil, nil
	}
	return sess, nil
}
