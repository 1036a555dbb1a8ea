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

// Package worker runs chapter generation and ingestion tasks pulled off
// NATS JetStream, per spec.md §4.10. Each workload class (default,
// embeddings, images) gets its own durable consumer so a backlog of
// image analysis work never starves chapter-stage processing.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/neurocore/chapterforge/pkg/chaptererr"
	"github.com/neurocore/chapterforge/pkg/dlq"
)

// WorkloadClass groups tasks that should be rate-limited and scaled
// independently.
type WorkloadClass string

const (
	WorkloadDefault    WorkloadClass = "default"
	WorkloadEmbeddings WorkloadClass = "embeddings"
	WorkloadImages     WorkloadClass = "images"
)

// Task is the envelope published to a workload's subject.
type Task struct {
	ID      string          `json:"id"`
	Stage   string          `json:"stage"`
	Payload json.RawMessage `json:"payload"`
}

// Handler executes one task. Returning an error that satisfies
// chaptererr.Retryable (such as a chaptererr with Kind ProviderTransient)
// triggers a backoff retry by redelivery, up to MaxAttempts deliveries;
// any other error dead-letters the task at once.
type Handler func(ctx context.Context, task Task) error

// Backoff parameters shared with the orchestrator's own retry policy
// (spec.md §4.1).
const (
	BackoffBase   = 1 * time.Second
	BackoffFactor = 2
	BackoffCap    = 30 * time.Second
	MaxAttempts   = 3
)

func backoff(attempt int) time.Duration {
	d := BackoffBase
	for i := 1; i < attempt; i++ {
		d *= BackoffFactor
		if d > BackoffCap {
			return BackoffCap
		}
	}
	return d
}

// subjectFor maps a workload class to its JetStream subject.
func subjectFor(class WorkloadClass) string {
	return "chapterforge.tasks." + string(class)
}

// durableFor names the durable consumer for a workload class.
func durableFor(class WorkloadClass) string {
	return "chapterforge-worker-" + string(class)
}

// Consumer pulls Tasks for one WorkloadClass off JetStream and runs
// them through a Handler with redelivery-based retry and DLQ-on-exhaustion.
type Consumer struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	class   WorkloadClass
	handler Handler
	queue   dlq.Queue
	log     *slog.Logger
}

// NewConsumer creates a Consumer. js must have a stream covering
// subjectFor(class) already configured (see EnsureStream).
func NewConsumer(nc *nats.Conn, js nats.JetStreamContext, class WorkloadClass, handler Handler, queue dlq.Queue, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{nc: nc, js: js, class: class, handler: handler, queue: queue, log: log}
}

// EnsureStream idempotently creates the JetStream stream backing every
// workload subject. Call once at startup before any Consumer runs.
func EnsureStream(js nats.JetStreamContext, streamName string) error {
	_, err := js.StreamInfo(streamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("worker: stream info: %w", err)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{"chapterforge.tasks.*"},
		Storage:  nats.FileStorage,
		MaxAge:   7 * 24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("worker: add stream: %w", err)
	}
	return nil
}

// Run pulls messages until ctx is cancelled. Each message carries its
// delivery attempt in the JetStream metadata; Run consults it to decide
// between retry-via-redelivery and dead-lettering.
func (c *Consumer) Run(ctx context.Context) error {
	sub, err := c.js.PullSubscribe(subjectFor(c.class), durableFor(c.class), nats.ManualAck(), nats.AckWait(2*time.Minute))
	if err != nil {
		return fmt.Errorf("worker: pull subscribe %s: %w", c.class, err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgs, err := sub.Fetch(1, nats.MaxWait(2*time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				continue
			}
			c.log.Error("worker: fetch failed", "class", c.class, "error", err)
			continue
		}

		for _, msg := range msgs {
			c.process(ctx, msg)
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg *nats.Msg) {
	var task Task
	if err := json.Unmarshal(msg.Data, &task); err != nil {
		c.log.Error("worker: malformed task, dropping", "error", err)
		_ = msg.Ack()
		return
	}

	meta, err := msg.Metadata()
	attempt := 1
	if err == nil {
		attempt = int(meta.NumDelivered)
	}

	handlerErr := c.handler(ctx, task)
	if handlerErr == nil {
		_ = msg.Ack()
		return
	}

	c.log.Warn("worker: task failed", "class", c.class, "task_id", task.ID, "stage", task.Stage, "attempt", attempt, "error", handlerErr)

	if attempt >= MaxAttempts || !chaptererr.Retryable(handlerErr) {
		c.deadLetter(ctx, task, handlerErr, attempt)
		_ = msg.Ack()
		return
	}

	_ = msg.NakWithDelay(backoff(attempt))
}

func (c *Consumer) deadLetter(ctx context.Context, task Task, cause error, attempts int) {
	if c.queue == nil {
		return
	}
	payload := map[string]any{}
	_ = json.Unmarshal(task.Payload, &payload)

	entry := dlq.Entry{
		TaskID:   task.ID,
		Stage:    task.Stage,
		Error:    cause.Error(),
		Attempts: attempts,
		Payload:  payload,
	}
	if err := c.queue.Add(ctx, entry); err != nil {
		c.log.Error("worker: dlq add failed", "task_id", task.ID, "error", err)
	}
}

// Publish enqueues a task onto its workload's subject.
func Publish(ctx context.Context, js nats.JetStreamContext, class WorkloadClass, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("worker: marshal task: %w", err)
	}
	_, err = js.Publish(subjectFor(class), data, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("worker: publish task: %w", err)
	}
	return nil
}
