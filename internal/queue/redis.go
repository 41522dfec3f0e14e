package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/shipslog/backend/internal/errors"
)

const (
	keyTaskPrefix = "pipeline:task:"
	keyTaskIndex  = "pipeline:tasks"
)

// RedisTaskStore persists tasks in Redis so a restarted process resumes where
// it left off. Each task lives at its own key with membership tracked in a
// set for enumeration.
type RedisTaskStore struct {
	client *redis.Client
}

func NewRedisTaskStore(redisURL string) (*RedisTaskStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisTaskStore{client: client}, nil
}

// Client returns the underlying Redis client for health checks.
func (s *RedisTaskStore) Client() *redis.Client {
	return s.client
}

func (s *RedisTaskStore) Close() error {
	return s.client.Close()
}

func (s *RedisTaskStore) Save(ctx context.Context, task *Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, keyTaskPrefix+task.ID, data, 0)
	pipe.SAdd(ctx, keyTaskIndex, task.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

func (s *RedisTaskStore) Get(ctx context.Context, id string) (*Task, error) {
	data, err := s.client.Get(ctx, keyTaskPrefix+id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.TaskNotFound(id)
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	var task Task
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &task, nil
}

func (s *RedisTaskStore) All(ctx context.Context) ([]*Task, error) {
	ids, err := s.client.SMembers(ctx, keyTaskIndex).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list task IDs: %w", err)
	}

	var tasks []*Task
	for _, id := range ids {
		task, err := s.Get(ctx, id)
		if err != nil {
			// Index entry with no backing key; clean it up and move on.
			var appErr *apperrors.AppError
			if errors.As(err, &appErr) && appErr.Code == apperrors.CodeTaskNotFound {
				s.client.SRem(ctx, keyTaskIndex, id)
				continue
			}
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (s *RedisTaskStore) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keyTaskPrefix+id)
	pipe.SRem(ctx, keyTaskIndex, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}
