package queue

import (
	"context"
	"sync"

	apperrors "github.com/shipslog/backend/internal/errors"
)

// MemoryTaskStore keeps tasks in a map under one mutex. Suitable for tests
// and single-process deployments.
type MemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{tasks: make(map[string]*Task)}
}

func (s *MemoryTaskStore) Save(ctx context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *task
	s.tasks[task.ID] = &cp
	return nil
}

func (s *MemoryTaskStore) Get(ctx context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, apperrors.TaskNotFound(id)
	}
	cp := *task
	return &cp, nil
}

func (s *MemoryTaskStore) All(ctx context.Context) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		cp := *task
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryTaskStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}
