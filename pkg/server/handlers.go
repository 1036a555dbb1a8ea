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

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/neurocore/chapterforge/pkg/auth"
	"github.com/neurocore/chapterforge/pkg/chapter"
	"github.com/neurocore/chapterforge/pkg/chaptererr"
	"github.com/neurocore/chapterforge/pkg/dlq"
	"github.com/neurocore/chapterforge/pkg/orchestrator"
	"github.com/neurocore/chapterforge/pkg/progress"
)

type handlers struct {
	orch      *orchestrator.Orchestrator
	queue     dlq.Queue
	hub       *progress.Hub
	validator auth.TokenValidator
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch chaptererr.KindOf(err) {
	case chaptererr.InvalidInput:
		status = http.StatusBadRequest
	case chaptererr.Cancelled:
		status = http.StatusConflict
	case chaptererr.ProviderUnavailable, chaptererr.StoreError:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// startGenerationRequest is the body of POST /v1/chapters.
type startGenerationRequest struct {
	Topic string `json:"topic"`
}

func (h *handlers) startGeneration(w http.ResponseWriter, r *http.Request) {
	var req startGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, chaptererr.New(chaptererr.InvalidInput, "malformed request body"))
		return
	}
	if req.Topic == "" {
		writeError(w, chaptererr.New(chaptererr.InvalidInput, "topic is required"))
		return
	}

	claims := auth.GetClaims(r)
	userID := ""
	if claims != nil {
		userID = claims.Subject
	}

	chapterID, err := h.orch.StartGeneration(r.Context(), userID, req.Topic)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"chapter_id": chapterID})
}

func (h *handlers) getChapter(w http.ResponseWriter, r *http.Request) {
	chapterID := chi.URLParam(r, "chapterID")
	ch, err := h.orch.GetChapter(r.Context(), chapterID)
	if err != nil {
		writeError(w, err)
		return
	}
	if ch == nil {
		writeError(w, chaptererr.New(chaptererr.InvalidInput, "chapter not found: "+chapterID))
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	chapterID := chi.URLParam(r, "chapterID")
	if !h.orch.Cancel(chapterID) {
		writeError(w, chaptererr.New(chaptererr.InvalidInput, "no generation in flight for chapter: "+chapterID))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// regenerateSectionRequest is the body of
// POST /v1/chapters/{chapterID}/sections/{sectionNumber}/regenerate.
type regenerateSectionRequest struct {
	AddedSources []chapter.SourceRef `json:"added_sources,omitempty"`
	Instructions string              `json:"instructions,omitempty"`
}

func (h *handlers) regenerateSection(w http.ResponseWriter, r *http.Request) {
	chapterID := chi.URLParam(r, "chapterID")
	sectionNumber, err := strconv.Atoi(chi.URLParam(r, "sectionNumber"))
	if err != nil {
		writeError(w, chaptererr.New(chaptererr.InvalidInput, "section number must be an integer"))
		return
	}

	var req regenerateSectionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, chaptererr.New(chaptererr.InvalidInput, "malformed request body"))
			return
		}
	}

	if err := h.orch.RegenerateSection(r.Context(), chapterID, sectionNumber, req.AddedSources, req.Instructions); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "regenerating"})
}

func (h *handlers) subscribe(w http.ResponseWriter, r *http.Request) {
	chapterID := chi.URLParam(r, "chapterID")
	if h.hub == nil {
		writeError(w, chaptererr.New(chaptererr.InvalidInput, "progress channel is not configured"))
		return
	}
	if err := h.hub.Subscribe(w, r, chapterID); err != nil {
		writeError(w, err)
	}
}

func (h *handlers) listDLQ(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		writeJSON(w, http.StatusOK, []dlq.Entry{})
		return
	}

	filters := dlq.Filters{
		TaskID: r.URL.Query().Get("task_id"),
		Stage:  r.URL.Query().Get("stage"),
	}
	if since := r.URL.Query().Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			filters.Since = t
		}
	}

	entries, err := h.queue.List(r.Context(), filters)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handlers) getDLQEntry(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		writeError(w, chaptererr.New(chaptererr.InvalidInput, "dead-letter queue is not configured"))
		return
	}
	id := chi.URLParam(r, "id")
	entry, ok, err := h.queue.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, chaptererr.New(chaptererr.InvalidInput, "dead-letter entry not found: "+id))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// retryDLQEntry re-runs the chapter generation pipeline for a
// dead-lettered entry's task. Run resumes from the first stage whose
// checkpoint was not marked complete, which is always the stage that
// originally dead-lettered (onStageFailure never marks it complete).
func (h *handlers) retryDLQEntry(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		writeError(w, chaptererr.New(chaptererr.InvalidInput, "dead-letter queue is not configured"))
		return
	}
	id := chi.URLParam(r, "id")

	err := h.queue.Retry(r.Context(), id, func(ctx context.Context, entry dlq.Entry) error {
		return h.orch.Run(ctx, entry.TaskID)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "retried"})
}
