package contextstore

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Store is the workflow context contract consumed by the worker loop and
// the transition dispatcher.
type Store interface {
	// EnsureContextID resolves a stable context id for the given token,
	// creating an empty context on first use.
	EnsureContextID(ctx context.Context, token string) (string, error)

	// Load returns the full context map for the id. A missing context
	// loads as an empty map.
	Load(ctx context.Context, contextID string) (map[string]any, error)

	// Patch shallow-merges partial into the stored context and returns
	// the merged result. A nil value in partial deletes the key.
	Patch(ctx context.Context, contextID string, partial map[string]any) (map[string]any, error)
}

// merge applies the shallow-merge patch semantics shared by all
// implementations: nil deletes, everything else overwrites.
func merge(base, partial map[string]any) map[string]any {
	for k, v := range partial {
		if v == nil {
			delete(base, k)
			continue
		}
		base[k] = v
	}
	return base
}

// MemoryStore is an in-memory Store used by tests.
type MemoryStore struct {
	mu       sync.Mutex
	tokens   map[string]string
	contexts map[string]map[string]any
}

// NewMemoryStore creates an empty in-memory context store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tokens:   make(map[string]string),
		contexts: make(map[string]map[string]any),
	}
}

// EnsureContextID resolves or creates the context id for a token.
func (s *MemoryStore) EnsureContextID(_ context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.tokens[token]; ok {
		return id, nil
	}
	id := uuid.NewString()
	s.tokens[token] = id
	s.contexts[id] = make(map[string]any)
	return id, nil
}

// Load returns a copy of the context map.
func (s *MemoryStore) Load(_ context.Context, contextID string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.contexts[contextID]
	out := make(map[string]any, len(stored))
	for k, v := range stored {
		out[k] = v
	}
	return out, nil
}

// Patch merges partial into the stored context.
func (s *MemoryStore) Patch(_ context.Context, contextID string, partial map[string]any) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.contexts[contextID]
	if !ok {
		stored = make(map[string]any)
		s.contexts[contextID] = stored
	}
	merge(stored, partial)
	out := make(map[string]any, len(stored))
	for k, v := range stored {
		out[k] = v
	}
	return out, nil
}
