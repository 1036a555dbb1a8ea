// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisService is a Redis-backed Service. Each task's checkpoint is a
// single hash keyed by step name, so MarkStepComplete/IsStepComplete
// never race against each other for distinct steps of the same task.
type RedisService struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisService creates a Redis-backed checkpoint Service. prefix
// namespaces keys ("checkpoint" if empty); ttl is the idle expiry
// applied after every write (DefaultTTL if zero or negative).
func NewRedisService(client *redis.Client, prefix string, ttl time.Duration) *RedisService {
	if prefix == "" {
		prefix = "checkpoint"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisService{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisService) key(taskID string) string {
	return fmt.Sprintf("%s:%s", s.prefix, taskID)
}

type stepRecord struct {
	Metadata    map[string]any `json:"metadata"`
	CompletedAt time.Time      `json:"completed_at"`
}

func (s *RedisService) MarkStepComplete(ctx context.Context, taskID, step string, metadata map[string]any) error {
	rec := stepRecord{Metadata: metadata, CompletedAt: time.Now().UTC()}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal step record: %w", err)
	}

	key := s.key(taskID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, step, raw)
	pipe.PExpire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("checkpoint: mark step complete: %w", err)
	}
	return nil
}

func (s *RedisService) IsStepComplete(ctx context.Context, taskID, step string) (bool, error) {
	n, err := s.client.HExists(ctx, s.key(taskID), step).Result()
	if err != nil {
		return false, fmt.Errorf("checkpoint: is step complete: %w", err)
	}
	return n, nil
}

func (s *RedisService) GetStepMetadata(ctx context.Context, taskID, step string) (map[string]any, bool, error) {
	raw, err := s.client.HGet(ctx, s.key(taskID), step).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("checkpoint: get step metadata: %w", err)
	}
	var rec stepRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, fmt.Errorf("checkpoint: unmarshal step record: %w", err)
	}
	return rec.Metadata, true, nil
}

func (s *RedisService) GetCompletedSteps(ctx context.Context, taskID string) ([]string, error) {
	fields, err := s.client.HKeys(ctx, s.key(taskID)).Result()
	if err != nil {
		return nil, fmt.Errorf("checkpoint: get completed steps: %w", err)
	}
	return fields, nil
}

func (s *RedisService) GetProgress(ctx context.Context, taskID string) (*Progress, error) {
	all, err := s.client.HGetAll(ctx, s.key(taskID)).Result()
	if err != nil {
		return nil, fmt.Errorf("checkpoint: get progress: %w", err)
	}

	progress := &Progress{
		TaskID:   taskID,
		Metadata: make(map[string]map[string]any, len(all)),
	}
	for step, raw := range all {
		var rec stepRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("checkpoint: unmarshal step %q: %w", step, err)
		}
		progress.CompletedSteps = append(progress.CompletedSteps, step)
		progress.Metadata[step] = rec.Metadata
		if rec.CompletedAt.After(progress.UpdatedAt) {
			progress.UpdatedAt = rec.CompletedAt
		}
	}
	return progress, nil
}

func (s *RedisService) Clear(ctx context.Context, taskID string) error {
	if err := s.client.Del(ctx, s.key(taskID)).Err(); err != nil {
		return fmt.Errorf("checkpoint: clear: %w", err)
	}
	return nil
}
