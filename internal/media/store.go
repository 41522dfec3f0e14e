package media

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "github.com/shipslog/backend/internal/errors"
)

// Store persists pipeline items. Implementations must reject backward status
// transitions.
type Store interface {
	Create(ctx context.Context, item *Item) error
	Get(ctx context.Context, id string) (*Item, error)
	Update(ctx context.Context, item *Item) error
	List(ctx context.Context, limit int) ([]*Item, error)
}

// MemoryStore is an in-memory Store for tests and single-node deployments.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*Item
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*Item)}
}

func (s *MemoryStore) Create(ctx context.Context, item *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item.clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, apperrors.ItemNotFound(id)
	}
	return item.clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, item *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.items[item.ID]
	if !ok {
		return apperrors.ItemNotFound(item.ID)
	}
	if existing.Status != item.Status && !existing.Status.CanTransitionTo(item.Status) {
		return apperrors.InvalidTransition(string(existing.Status), string(item.Status))
	}
	cp := item.clone()
	cp.UpdatedAt = time.Now().UTC()
	s.items[item.ID] = cp
	return nil
}

func (s *MemoryStore) List(ctx context.Context, limit int) ([]*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Item, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
