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

// Package dlq holds chapters and ingestion tasks whose retries were
// exhausted, for operator inspection and manual retry via the
// administrative API (spec.md §4.8, §4.12).
package dlq

import (
	"context"
	"time"
)

// DefaultRetention is how long an entry survives before cleanup
// reclaims it.
const DefaultRetention = 30 * 24 * time.Hour

// Entry is one dead-lettered task.
type Entry struct {
	ID          string         `json:"id"`
	TaskID      string         `json:"task_id"`
	Stage       string         `json:"stage"`
	Error       string         `json:"error"`
	Attempts    int            `json:"attempts"`
	Payload     map[string]any `json:"payload,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Filters narrows List results.
type Filters struct {
	TaskID string
	Stage  string
	Since  time.Time
	Until  time.Time
}

// Statistics summarizes the queue's current contents.
type Statistics struct {
	TotalEntries int
	ByStage      map[string]int
	OldestEntry  time.Time
}

// Queue is the dead-letter queue service.
type Queue interface {
	// Add records a new dead-lettered entry.
	Add(ctx context.Context, entry Entry) error

	// Get retrieves a single entry by id.
	Get(ctx context.Context, id string) (*Entry, bool, error)

	// List returns entries matching filters, newest first.
	List(ctx context.Context, filters Filters) ([]Entry, error)

	// Retry hands an entry back to its retry callback and removes it
	// from the queue on success.
	Retry(ctx context.Context, id string, retryFn func(ctx context.Context, entry Entry) error) error

	// Remove deletes an entry without retrying it.
	Remove(ctx context.Context, id string) error

	// Statistics summarizes queue contents.
	Statistics(ctx context.Context) (Statistics, error)

	// Cleanup removes entries older than olderThan.
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)
}
