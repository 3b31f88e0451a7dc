package memory

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Turn is one persisted message of a conversation.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Persister is the durable side of the store. Append must be atomic per user.
type Persister interface {
	LoadAll(ctx context.Context) (map[string][]Turn, error)
	Append(ctx context.Context, userID string, turns []Turn) error
}

// NopPersister keeps nothing durable; a Store over it lives only in process memory.
type NopPersister struct{}

func (NopPersister) LoadAll(context.Context) (map[string][]Turn, error) { return nil, nil }

func (NopPersister) Append(context.Context, string, []Turn) error { return nil }

// Store keeps every user's history in memory and writes each append through to
// the persister. The in-memory copy stays authoritative if a write fails.
type Store struct {
	persister Persister
	log       *zap.Logger

	mu    sync.RWMutex
	turns map[string][]Turn

	locks  keyedMutex
	writes keyedMutex
}

// Open loads existing state. A missing or unreadable durable store starts empty.
func Open(ctx context.Context, p Persister, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{persister: p, log: log, turns: map[string][]Turn{}}

	loaded, err := p.LoadAll(ctx)
	if err != nil {
		log.Warn("conversation history unreadable, starting fresh", zap.Error(err))
		return s
	}
	if loaded != nil {
		s.turns = loaded
	}
	log.Info("conversation history loaded", zap.Int("users", len(s.turns)))
	return s
}

// History returns a copy of the user's turns in order. Unknown users get an empty slice.
func (s *Store) History(userID string) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.turns[userID]
	out := make([]Turn, len(src))
	copy(out, src)
	return out
}

// Append adds turns for the user and persists them before returning.
func (s *Store) Append(ctx context.Context, userID string, turns ...Turn) {
	if len(turns) == 0 {
		return
	}

	unlock := s.writes.lock(userID)
	defer unlock()

	s.mu.Lock()
	s.turns[userID] = append(s.turns[userID], turns...)
	s.mu.Unlock()

	// a caller that hung up must not lose the write
	if err := s.persister.Append(context.WithoutCancel(ctx), userID, turns); err != nil {
		s.log.Error("failed to persist conversation turns",
			zap.String("user_id", userID), zap.Int("turns", len(turns)), zap.Error(err))
	}
}

// Lock serializes work on one user's conversation. Call the returned func to release.
func (s *Store) Lock(userID string) func() {
	return s.locks.lock(userID)
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = map[string]*refMutex{}
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
