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

package progress

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/neurocore/chapterforge/pkg/auth"
)

// MetricsRecorder is the subset of observability.Recorder the hub
// needs to report live subscriber counts. Defined here rather than
// imported so pkg/progress doesn't depend on pkg/observability;
// *observability.Metrics and observability.NoopMetrics both satisfy it
// structurally.
type MetricsRecorder interface {
	SetProgressSubscribers(count int)
}

type noopRecorder struct{}

func (noopRecorder) SetProgressSubscribers(int) {}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// subscriber is one connected client's write-side. Writes are
// serialized through writeCh so a chapter's connection has a single
// writer, per spec.md §4.9.
type subscriber struct {
	conn    *websocket.Conn
	writeCh chan Event
	done    chan struct{}
}

// Hub fans Events out to subscribers grouped by chapter id.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string][]*subscriber
	validator   auth.TokenValidator
	metrics     MetricsRecorder
	total       int
}

// NewHub creates a Hub. validator authenticates the bearer token
// passed as a query parameter on connect (browsers can't set
// Authorization headers on a websocket upgrade request).
func NewHub(validator auth.TokenValidator) *Hub {
	return &Hub{
		subscribers: make(map[string][]*subscriber),
		validator:   validator,
		metrics:     noopRecorder{},
	}
}

// SetMetrics attaches a MetricsRecorder. nil restores the no-op default.
func (h *Hub) SetMetrics(m MetricsRecorder) {
	if m == nil {
		m = noopRecorder{}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metrics = m
}

// Subscribe upgrades r to a websocket connection and registers it to
// receive Events for chapterID, until the client disconnects or
// cancels.
func (h *Hub) Subscribe(w http.ResponseWriter, r *http.Request, chapterID string) error {
	if h.validator != nil {
		if _, err := auth.ValidateQueryToken(h.validator, r, "token"); err != nil {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return err
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	sub := &subscriber{conn: conn, writeCh: make(chan Event, 64), done: make(chan struct{})}
	h.addSubscriber(chapterID, sub)
	defer h.removeSubscriber(chapterID, sub)

	go h.writePump(sub)
	h.readPump(sub)
	return nil
}

func (h *Hub) addSubscriber(chapterID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[chapterID] = append(h.subscribers[chapterID], sub)
	h.total++
	h.metrics.SetProgressSubscribers(h.total)
}

func (h *Hub) removeSubscriber(chapterID string, sub *subscriber) {
	close(sub.done)
	_ = sub.conn.Close()

	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subscribers[chapterID]
	for i, s := range subs {
		if s == sub {
			h.subscribers[chapterID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(h.subscribers[chapterID]) == 0 {
		delete(h.subscribers, chapterID)
	}
	h.total--
	h.metrics.SetProgressSubscribers(h.total)
}

// Publish delivers event to every subscriber of event.ChapterID.
func (h *Hub) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	h.mu.RLock()
	subs := append([]*subscriber(nil), h.subscribers[event.ChapterID]...)
	h.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.writeCh <- event:
		default:
			slog.Warn("progress subscriber write buffer full, dropping event", "chapter_id", event.ChapterID, "kind", event.Kind)
		}
	}
}

func (h *Hub) writePump(sub *subscriber) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sub.done:
			return
		case event := <-sub.writeCh:
			if err := sub.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			if err := sub.conn.WriteJSON(Event{Kind: EventHeartbeat, Timestamp: time.Now().UTC()}); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(sub *subscriber) {
	// Inbound messages are read and discarded: cancellation is the
	// separate POST /v1/chapters/{chapterID}/cancel route in pkg/server,
	// and closing the connection does not cancel generation. Reading
	// continues so ping/pong control frames are processed and a closed
	// connection is detected.
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}
