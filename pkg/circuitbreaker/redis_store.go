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

package circuitbreaker

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists breaker state as a plain string key per
// provider. Save overwrites the key; Load reads it back, reporting
// closed when the key is absent.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed Store.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "breaker"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(provider string) string {
	return fmt.Sprintf("%s:%s", s.prefix, provider)
}

func (s *RedisStore) Load(ctx context.Context, provider string) (State, error) {
	val, err := s.client.Get(ctx, s.key(provider)).Result()
	if err == redis.Nil {
		return StateClosed, nil
	}
	if err != nil {
		return StateClosed, fmt.Errorf("circuitbreaker: load state: %w", err)
	}
	return State(val), nil
}

func (s *RedisStore) Save(ctx context.Context, provider string, state State) error {
	if err := s.client.Set(ctx, s.key(provider), string(state), 0).Err(); err != nil {
		return fmt.Errorf("circuitbreaker: save state: %w", err)
	}
	return nil
}
