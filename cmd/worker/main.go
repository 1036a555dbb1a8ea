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

// Command chapterforge-worker runs the background document-ingestion
// consumers described in spec.md §4.10/§4.11: one durable NATS
// JetStream consumer per workload class (default, embeddings, images),
// each driving source documents through the ingestion Pipeline.
//
// Usage:
//
//	chapterforge-worker run --config config.yaml
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/neurocore/chapterforge/pkg/checkpoint"
	"github.com/neurocore/chapterforge/pkg/circuitbreaker"
	"github.com/neurocore/chapterforge/pkg/config"
	"github.com/neurocore/chapterforge/pkg/dlq"
	"github.com/neurocore/chapterforge/pkg/ingestion"
	"github.com/neurocore/chapterforge/pkg/logger"
	"github.com/neurocore/chapterforge/pkg/provider"
	"github.com/neurocore/chapterforge/pkg/store/postgres"
	"github.com/neurocore/chapterforge/pkg/vectorindex"
	"github.com/neurocore/chapterforge/pkg/worker"
)

// CLI defines the command-line interface.
type CLI struct {
	Run RunCmd `cmd:"" help:"Start the background ingestion worker."`

	Config string `short:"c" help:"Path to config file." type:"path" default:"config.yaml"`
}

// RunCmd starts every workload-class consumer.
type RunCmd struct{}

// streamName is the single JetStream stream backing every workload
// class's subject (worker.EnsureStream creates it once at startup).
const streamName = "chapterforge-tasks"

// ingestTask is the payload published to the default/embeddings/images
// workload classes: one source document to run through the ingestion
// Pipeline. The three classes share this payload and Handler; routing
// a document to "embeddings" or "images" instead of "default" is an
// operator decision to isolate a backlog of LLM-heavy documents from
// cheap, CPU-only ones (spec.md §4.10).
type ingestTask struct {
	DocumentID string            `json:"document_id"`
	Metadata   map[string]string `json:"metadata"`
	RawBase64  string            `json:"raw_base64"`
}

func (c *RunCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("chapterforge-worker: shutting down")
		cancel()
	}()

	cfg, loader, err := config.LoadConfigFile(ctx, cli.Config)
	if err != nil {
		return fmt.Errorf("chapterforge-worker: load config: %w", err)
	}
	defer loader.Close()

	level, _ := logger.ParseLevel(cfg.Logger.Level)
	logger.Init(level, os.Stderr, cfg.Logger.Format)

	dbCfg, _ := cfg.GetDatabase("primary")
	sqlDB, err := config.NewDBPool().Get(dbCfg)
	if err != nil {
		return fmt.Errorf("chapterforge-worker: connect postgres: %w", err)
	}
	store := postgres.New(sqlDB)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("chapterforge-worker: connect redis: %w", err)
	}
	defer redisClient.Close()

	checkpoints := checkpoint.NewRedisService(redisClient, "chapterforge", 0)
	deadLetter := dlq.NewRedisQueue(redisClient, "chapterforge", time.Duration(cfg.DLQ.RetentionDays)*24*time.Hour)
	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
		FailureThreshold:      uint32(cfg.CircuitBreaker.FailureThreshold),
		Window:                time.Duration(cfg.CircuitBreaker.FailureWindowSeconds) * time.Second,
		RecoveryTimeout:       time.Duration(cfg.CircuitBreaker.RecoveryTimeoutSeconds) * time.Second,
		HalfOpenSuccessThresh: uint32(cfg.CircuitBreaker.HalfOpenSuccessThreshold),
	}, circuitbreaker.NewRedisStore(redisClient, "chapterforge"))

	router, err := provider.BuildRouter(ctx, cfg, breakers)
	if err != nil {
		return fmt.Errorf("chapterforge-worker: build provider router: %w", err)
	}

	vectorProvider, err := vectorindex.NewQdrantProvider(vectorindex.QdrantConfig{
		Host:   cfg.VectorStore.Host,
		Port:   cfg.VectorStore.Port,
		APIKey: cfg.VectorStore.APIKey,
		UseTLS: config.BoolValue(cfg.VectorStore.UseTLS, false),
	})
	if err != nil {
		return fmt.Errorf("chapterforge-worker: connect qdrant: %w", err)
	}
	defer vectorProvider.Close()

	pipeline := ingestion.NewPipeline(ingestion.NewTextProcessor(), router, checkpoints, store, vectorProvider, cfg.VectorStore.Collection)

	nc, err := nats.Connect(cfg.Worker.NATSUrl)
	if err != nil {
		return fmt.Errorf("chapterforge-worker: connect nats: %w", err)
	}
	defer nc.Close()

	js, err := nc.JetStream()
	if err != nil {
		return fmt.Errorf("chapterforge-worker: jetstream context: %w", err)
	}
	if err := worker.EnsureStream(js, streamName); err != nil {
		return fmt.Errorf("chapterforge-worker: ensure stream: %w", err)
	}

	handler := ingestHandler(pipeline)
	log := slog.Default()
	consumers := []*worker.Consumer{
		worker.NewConsumer(nc, js, worker.WorkloadDefault, handler, deadLetter, log),
		worker.NewConsumer(nc, js, worker.WorkloadEmbeddings, handler, deadLetter, log),
		worker.NewConsumer(nc, js, worker.WorkloadImages, handler, deadLetter, log),
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range consumers {
		c := c
		g.Go(func() error { return c.Run(gctx) })
	}

	slog.Info("chapterforge-worker: consuming", "nats_url", cfg.Worker.NATSUrl)
	if err := g.Wait(); err != nil && gctx.Err() == nil {
		return fmt.Errorf("chapterforge-worker: consumer exited: %w", err)
	}
	return nil
}

// ingestHandler adapts a worker.Task carrying an ingestTask payload
// into a Pipeline.Run call.
func ingestHandler(pipeline *ingestion.Pipeline) worker.Handler {
	return func(ctx context.Context, task worker.Task) error {
		var t ingestTask
		if err := json.Unmarshal(task.Payload, &t); err != nil {
			return fmt.Errorf("chapterforge-worker: unmarshal ingest task: %w", err)
		}
		raw, err := base64.StdEncoding.DecodeString(t.RawBase64)
		if err != nil {
			return fmt.Errorf("chapterforge-worker: decode raw document: %w", err)
		}
		doc := &ingestion.Document{ID: t.DocumentID, Metadata: t.Metadata}
		return pipeline.Run(ctx, doc, raw)
	}
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("chapterforge-worker"),
		kong.Description("Background document-ingestion worker: text extraction, vision analysis, embeddings, citations."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(&cli); err != nil {
		slog.Error("chapterforge-worker: fatal", "error", err)
		os.Exit(1)
	}
}
