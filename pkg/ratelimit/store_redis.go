// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis-backed implementation of Store, for rate limits that
// must be shared across multiple chapterforge API replicas. Each (scope,
// identifier, limitType, window) tuple is kept as a two-field hash: "amount"
// and "window_end" (unix nanos). incrementScript resets both fields
// atomically when the window has lapsed, so concurrent callers never observe
// a torn read between an expired window and its replacement.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis-backed store. prefix namespaces keys so a
// shared Redis instance can host other subsystems (checkpoint, DLQ, circuit
// breaker) without collision.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(scope Scope, identifier string, limitType LimitType, window TimeWindow) string {
	return fmt.Sprintf("%s:%s:%s:%s:%s", s.prefix, scope, identifier, limitType, window)
}

// incrementScript atomically increments the amount field, resetting the
// window when it has expired. Returns the new amount and the window end as
// unix nanos.
var incrementScript = redis.NewScript(`
local key = KEYS[1]
local amount = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local window_ns = tonumber(ARGV[3])

local cur_end = redis.call("HGET", key, "window_end")
if cur_end == false or tonumber(cur_end) <= now then
	local new_end = now + window_ns
	redis.call("HSET", key, "amount", amount, "window_end", new_end)
	redis.call("PEXPIRE", key, math.ceil(window_ns / 1e6) + 1000)
	return {amount, new_end}
end

local new_amount = redis.call("HINCRBY", key, "amount", amount)
return {new_amount, tonumber(cur_end)}
`)

// GetUsage gets current usage for a specific limit.
func (s *RedisStore) GetUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow) (int64, time.Time, error) {
	key := s.key(scope, identifier, limitType, window)

	vals, err := s.client.HMGet(ctx, key, "amount", "window_end").Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis store: get usage: %w", err)
	}

	now := time.Now()
	if vals[0] == nil || vals[1] == nil {
		return 0, now.Add(window.Duration()), nil
	}

	amount, err := strconv.ParseInt(vals[0].(string), 10, 64)
	if err != nil {
		return 0, now.Add(window.Duration()), fmt.Errorf("redis store: parse amount: %w", err)
	}
	windowEndNs, err := strconv.ParseInt(vals[1].(string), 10, 64)
	if err != nil {
		return 0, now.Add(window.Duration()), fmt.Errorf("redis store: parse window_end: %w", err)
	}
	windowEnd := time.Unix(0, windowEndNs)

	if windowEnd.Before(now) {
		return 0, now.Add(window.Duration()), nil
	}
	return amount, windowEnd, nil
}

// IncrementUsage increments usage for a specific limit, resetting the window
// if it has expired.
func (s *RedisStore) IncrementUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow, amount int64) (int64, time.Time, error) {
	key := s.key(scope, identifier, limitType, window)
	now := time.Now().UnixNano()
	windowNs := window.Duration().Nanoseconds()

	res, err := incrementScript.Run(ctx, s.client, []string{key}, amount, now, windowNs).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis store: increment usage: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return 0, time.Time{}, fmt.Errorf("redis store: unexpected script result %v", res)
	}

	newAmount, err := toInt64(vals[0])
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis store: parse new amount: %w", err)
	}
	newEndNs, err := toInt64(vals[1])
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis store: parse new window_end: %w", err)
	}

	return newAmount, time.Unix(0, newEndNs), nil
}

// SetUsage sets usage for a specific limit explicitly.
func (s *RedisStore) SetUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow, amount int64, windowEnd time.Time) error {
	key := s.key(scope, identifier, limitType, window)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "amount", amount, "window_end", windowEnd.UnixNano())
	ttl := time.Until(windowEnd) + time.Second
	if ttl > 0 {
		pipe.PExpire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis store: set usage: %w", err)
	}
	return nil
}

// DeleteUsage deletes all usage records for an identifier across every
// scope/limitType/window combination the identifier may have accumulated.
func (s *RedisStore) DeleteUsage(ctx context.Context, scope Scope, identifier string) error {
	pattern := fmt.Sprintf("%s:%s:%s:*:*", s.prefix, scope, identifier)
	return s.deleteByPattern(ctx, pattern)
}

// DeleteExpired is a no-op: Redis key TTLs already reclaim expired windows.
// It exists to satisfy Store and to give callers a place to hook an explicit
// sweep if TTL-based expiry is ever disabled.
func (s *RedisStore) DeleteExpired(ctx context.Context, before time.Time) error {
	return nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) deleteByPattern(ctx context.Context, pattern string) error {
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis store: scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis store: delete: %w", err)
	}
	return nil
}

func toInt64(v interface{}) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case string:
		return strconv.ParseInt(t, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
