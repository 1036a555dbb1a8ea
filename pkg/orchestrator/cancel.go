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

package orchestrator

import (
	"context"
	"sync"
)

// CancelRegistry tracks the cancel func for every chapter currently
// being generated, so the REST layer's cancel(chapter_id) call
// (spec.md §4.9 "Cancellation is a separate authenticated call") can
// reach an in-flight Run without either side holding a reference to
// the other's goroutine.
type CancelRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewCancelRegistry creates an empty CancelRegistry.
func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{cancels: make(map[string]context.CancelFunc)}
}

// Track derives a cancellable context from parent and registers it
// under chapterID. The returned func must be deferred by the caller to
// unregister once Run returns, regardless of outcome.
func (r *CancelRegistry) Track(parent context.Context, chapterID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	r.mu.Lock()
	r.cancels[chapterID] = cancel
	r.mu.Unlock()

	return ctx, func() {
		r.mu.Lock()
		delete(r.cancels, chapterID)
		r.mu.Unlock()
		cancel()
	}
}

// Cancel signals the in-flight Run for chapterID to stop, if one is
// registered. Returns false if no generation is currently running for
// that chapter.
func (r *CancelRegistry) Cancel(chapterID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[chapterID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}
