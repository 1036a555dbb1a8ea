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

package research

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/neurocore/chapterforge/pkg/chapter"
)

// ExternalCacheTTL is how long an external query's result is cached,
// per spec.md §4.4.
const ExternalCacheTTL = 7 * 24 * time.Hour

// ExternalAPI is a single external publication search backend (e.g. a
// Semantic Scholar or arXiv client).
type ExternalAPI interface {
	Name() string
	Query(ctx context.Context, query string, params map[string]any) ([]chapter.SourceRef, error)
}

// Cache stores external query results keyed by hash(provider+query+params).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// ExternalSearcher runs the external research stage: cached, rate
// limited queries against one or more ExternalAPIs, retrying with
// exponential backoff on rate-limit responses.
type ExternalSearcher struct {
	apis  []ExternalAPI
	cache Cache
	sem   *semaphore.Weighted
}

// NewExternalSearcher creates an ExternalSearcher. maxConcurrent
// bounds simultaneous outbound calls across all apis combined.
func NewExternalSearcher(apis []ExternalAPI, cache Cache, maxConcurrent int64) *ExternalSearcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &ExternalSearcher{apis: apis, cache: cache, sem: semaphore.NewWeighted(maxConcurrent)}
}

// Search queries every configured API for query, merging results.
func (s *ExternalSearcher) Search(ctx context.Context, query string, params map[string]any) ([]chapter.SourceRef, error) {
	var merged []chapter.SourceRef
	for _, api := range s.apis {
		refs, err := s.searchOne(ctx, api, query, params)
		if err != nil {
			return nil, err
		}
		merged = append(merged, refs...)
	}
	return merged, nil
}

func (s *ExternalSearcher) searchOne(ctx context.Context, api ExternalAPI, query string, params map[string]any) ([]chapter.SourceRef, error) {
	key := cacheKey(api.Name(), query, params)

	if s.cache != nil {
		if raw, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var refs []chapter.SourceRef
			if err := json.Unmarshal(raw, &refs); err == nil {
				return refs, nil
			}
		}
	}

	refs, err := s.queryWithBackoff(ctx, api, query, params)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if raw, err := json.Marshal(refs); err == nil {
			_ = s.cache.Set(ctx, key, raw, ExternalCacheTTL)
		}
	}

	return refs, nil
}

const (
	backoffBase   = time.Second
	backoffFactor = 2
	backoffCap    = 30 * time.Second
	maxAttempts   = 3
)

func (s *ExternalSearcher) queryWithBackoff(ctx context.Context, api ExternalAPI, query string, params map[string]any) ([]chapter.SourceRef, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("research: acquire external-api semaphore: %w", err)
	}
	defer s.sem.Release(1)

	delay := backoffBase
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		refs, err := api.Query(ctx, query, params)
		if err == nil {
			return refs, nil
		}
		lastErr = err

		if !isRateLimited(err) {
			return nil, fmt.Errorf("research: external query to %s failed: %w", api.Name(), err)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay *= backoffFactor
		if delay > backoffCap {
			delay = backoffCap
		}
	}
	return nil, fmt.Errorf("research: external query to %s rate limited after %d attempts: %w", api.Name(), maxAttempts, lastErr)
}

type rateLimitedErr interface {
	RateLimited() bool
}

func isRateLimited(err error) bool {
	rl, ok := err.(rateLimitedErr)
	return ok && rl.RateLimited()
}

func cacheKey(provider, query string, params map[string]any) string {
	raw, _ := json.Marshal(params)
	sum := sha256.Sum256([]byte(provider + "|" + query + "|" + string(raw)))
	return hex.EncodeToString(sum[:])
}
