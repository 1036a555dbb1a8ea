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

package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue is a Queue backed by a Redis sorted set (score = unix
// nanos of CreatedAt, so entries list chronologically) plus a hash
// holding each entry's JSON body.
type RedisQueue struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

// NewRedisQueue creates a Redis-backed Queue.
func NewRedisQueue(client *redis.Client, prefix string, retention time.Duration) *RedisQueue {
	if prefix == "" {
		prefix = "dlq"
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisQueue{client: client, prefix: prefix, retention: retention}
}

func (q *RedisQueue) indexKey() string   { return q.prefix + ":index" }
func (q *RedisQueue) entriesKey() string { return q.prefix + ":entries" }

func (q *RedisQueue) Add(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("dlq: marshal entry: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.entriesKey(), entry.ID, raw)
	pipe.ZAdd(ctx, q.indexKey(), redis.Z{Score: float64(entry.CreatedAt.UnixNano()), Member: entry.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dlq: add entry: %w", err)
	}
	return nil
}

func (q *RedisQueue) Get(ctx context.Context, id string) (*Entry, bool, error) {
	raw, err := q.client.HGet(ctx, q.entriesKey(), id).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("dlq: get entry: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("dlq: unmarshal entry: %w", err)
	}
	return &entry, true, nil
}

func (q *RedisQueue) List(ctx context.Context, filters Filters) ([]Entry, error) {
	ids, err := q.client.ZRevRange(ctx, q.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("dlq: list index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	raws, err := q.client.HMGet(ctx, q.entriesKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("dlq: list entries: %w", err)
	}

	out := make([]Entry, 0, len(raws))
	for _, raw := range raws {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(s), &entry); err != nil {
			continue
		}
		if !matches(entry, filters) {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func matches(entry Entry, f Filters) bool {
	if f.TaskID != "" && entry.TaskID != f.TaskID {
		return false
	}
	if f.Stage != "" && entry.Stage != f.Stage {
		return false
	}
	if !f.Since.IsZero() && entry.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && entry.CreatedAt.After(f.Until) {
		return false
	}
	return true
}

func (q *RedisQueue) Retry(ctx context.Context, id string, retryFn func(ctx context.Context, entry Entry) error) error {
	entry, ok, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("dlq: entry %s not found", id)
	}
	if err := retryFn(ctx, *entry); err != nil {
		return fmt.Errorf("dlq: retry %s failed: %w", id, err)
	}
	return q.Remove(ctx, id)
}

func (q *RedisQueue) Remove(ctx context.Context, id string) error {
	pipe := q.client.TxPipeline()
	pipe.HDel(ctx, q.entriesKey(), id)
	pipe.ZRem(ctx, q.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dlq: remove entry: %w", err)
	}
	return nil
}

func (q *RedisQueue) Statistics(ctx context.Context) (Statistics, error) {
	entries, err := q.List(ctx, Filters{})
	if err != nil {
		return Statistics{}, err
	}

	stats := Statistics{ByStage: make(map[string]int)}
	for _, e := range entries {
		stats.TotalEntries++
		stats.ByStage[e.Stage]++
		if stats.OldestEntry.IsZero() || e.CreatedAt.Before(stats.OldestEntry) {
			stats.OldestEntry = e.CreatedAt
		}
	}
	return stats, nil
}

func (q *RedisQueue) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		olderThan = q.retention
	}
	cutoff := time.Now().Add(-olderThan).UnixNano()

	ids, err := q.client.ZRangeByScore(ctx, q.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", cutoff),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("dlq: cleanup scan: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := q.client.TxPipeline()
	pipe.HDel(ctx, q.entriesKey(), ids...)
	pipe.ZRem(ctx, q.indexKey(), toInterfaceSlice(ids)...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("dlq: cleanup delete: %w", err)
	}
	return len(ids), nil
}

func toInterfaceSlice(ids []string) []interface{} {
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
