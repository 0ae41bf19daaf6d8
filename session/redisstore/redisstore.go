package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/counselgraph/counselgraph/session"
	"github.com/counselgraph/counselgraph/session/session_models"
	"github.com/counselgraph/counselgraph/session/session_object"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Store persists session chunks and vectors in a redis hash so a matter's
// local index survives process restarts. The bleve index itself is
// memory-only and rebuilt on first access after a restart.
type Store struct {
	rdb *redis.Client

	mu    sync.Mutex
	cache map[string]*hydrated
}

type hydrated struct {
	sess *session_object.Session
}

type persistedChunk struct {
	Chunk  session_models.DocChunk `json:"chunk"`
	Vector []float32               `json:"vector,omitempty"`
}

func NewStore(rdb *redis.Client) session.Store {
	return &Store{rdb: rdb, cache: make(map[string]*hydrated)}
}

func key(id string) string { return "cg:session:" + id }

func (store *Store) EnsureSession(ctx context.Context, id string, ttl time.Duration) (session.Session, error) {
	if id == "" {
		id = uuid.NewString()
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if h, ok := store.cache[id]; ok {
		h.sess.Expire(ttl)
		store.rdb.Expire(ctx, key(id), ttl)
		return &redisSession{Session: h.sess, store: store, ttl: ttl}, nil
	}

	sess, err := store.hydrate(ctx, id, ttl)
	if err != nil {
		return nil, err
	}
	store.cache[id] = &hydrated{sess: sess}
	return &redisSession{Session: sess, store: store, ttl: ttl}, nil
}

func (store *Store) GetSession(ctx context.Context, id string) (session.Session, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if h, ok := store.cache[id]; ok {
		return &redisSession{Session: h.sess, store: store}, nil
	}
	n, err := store.rdb.Exists(ctx, key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis exists: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	sess, err := store.hydrate(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	store.cache[id] = &hydrated{sess: sess}
	return &redisSession{Session: sess, store: store}, nil
}

func (store *Store) hydrate(ctx context.Context, id string, ttl time.Duration) (*session_object.Session, error) {
	sess, err := session_object.NewSession(id, ttl)
	if err != nil {
		return nil, err
	}
	entries, err := store.rdb.HGetAll(ctx, key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	for _, raw := range entries {
		var pc persistedChunk
		if err := json.Unmarshal([]byte(raw), &pc); err != nil {
			continue
		}
		if err := sess.AddChunk(pc.Chunk); err != nil {
			return nil, err
		}
		if len(pc.Vector) > 0 {
			sess.SetVector(pc.Chunk.DocID, pc.Vector)
		}
	}
	if ttl > 0 {
		store.rdb.Expire(ctx, key(id), ttl)
	}
	return sess, nil
}

// redisSession writes chunks and vectors through to redis on top of the
// in-memory session it wraps.
type redisSession struct {
	*session_object.Session
	store *Store
	ttl   time.Duration

	mu      sync.Mutex
	pending map[string]*persistedChunk
}

func (s *redisSession) AddChunk(chunk session_models.DocChunk) error {
	if err := s.Session.AddChunk(chunk); err != nil {
		return err
	}
	s.mu.Lock()
	if s.pending == nil {
		s.pending = make(map[string]*persistedChunk)
	}
	pc, ok := s.pending[chunk.DocID]
	if !ok {
		pc = &persistedChunk{}
		s.pending[chunk.DocID] = pc
	}
	pc.Chunk = chunk
	s.mu.Unlock()
	return s.flush(chunk.DocID)
}

func (s *redisSession) SetVector(docID string, v []float32) {
	s.Session.SetVector(docID, v)
	s.mu.Lock()
	if s.pending == nil {
		s.pending = make(map[string]*persistedChunk)
	}
	pc, ok := s.pending[docID]
	if !ok {
		pc = &persistedChunk{}
		if c, found := s.Session.GetChunk(docID); found {
			pc.Chunk = c
		}
		s.pending[docID] = pc
	}
	pc.Vector = v
	s.mu.Unlock()
	_ = s.flush(docID)
}

func (s *redisSession) flush(docID string) error {
	s.mu.Lock()
	pc, ok := s.pending[docID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	raw, err := json.Marshal(pc)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	k := key(s.ID())
	if err := s.store.rdb.HSet(ctx, k, docID, raw).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	if s.ttl > 0 {
		s.store.rdb.Expire(ctx, k, s.ttl)
	}
	return nil
}
