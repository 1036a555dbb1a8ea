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

// Command chapterforge runs the REST API, progress websocket, and
// admin DLQ surface described in spec.md §4.1/§4.9/§4.12.
//
// Usage:
//
//	chapterforge serve --config config.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/redis/go-redis/v9"

	"github.com/neurocore/chapterforge/pkg/auth"
	"github.com/neurocore/chapterforge/pkg/checkpoint"
	"github.com/neurocore/chapterforge/pkg/circuitbreaker"
	"github.com/neurocore/chapterforge/pkg/config"
	"github.com/neurocore/chapterforge/pkg/dlq"
	"github.com/neurocore/chapterforge/pkg/factcheck"
	"github.com/neurocore/chapterforge/pkg/gapanalysis"
	"github.com/neurocore/chapterforge/pkg/logger"
	"github.com/neurocore/chapterforge/pkg/observability"
	"github.com/neurocore/chapterforge/pkg/orchestrator"
	"github.com/neurocore/chapterforge/pkg/progress"
	"github.com/neurocore/chapterforge/pkg/provider"
	"github.com/neurocore/chapterforge/pkg/ratelimit"
	"github.com/neurocore/chapterforge/pkg/research"
	"github.com/neurocore/chapterforge/pkg/server"
	"github.com/neurocore/chapterforge/pkg/store/postgres"
	"github.com/neurocore/chapterforge/pkg/vectorindex"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the REST API server."`

	Config    string `short:"c" help:"Path to config file." type:"path" default:"config.yaml"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, or custom)." default:"simple"`
}

// VersionCmd prints build version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("chapterforge %s\n", version)
	return nil
}

// ServeCmd starts the REST API server.
type ServeCmd struct {
	Port int `help:"Override the configured HTTP port (0 = use config)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("chapterforge: shutting down")
		cancel()
	}()

	cfg, loader, err := config.LoadConfigFile(ctx, cli.Config)
	if err != nil {
		return fmt.Errorf("chapterforge: load config: %w", err)
	}
	defer loader.Close()

	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	app, err := buildApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("chapterforge: build app: %w", err)
	}
	defer app.shutdown(ctx)

	srv, err := server.New(server.Options{
		Config:        &cfg.Server,
		Orchestrator:  app.orchestrator,
		DeadLetter:    app.deadLetter,
		Hub:           app.hub,
		Validator:     app.validator,
		Limiter:       app.limiter,
		Observability: app.observability,
	})
	if err != nil {
		return fmt.Errorf("chapterforge: build server: %w", err)
	}

	slog.Info("chapterforge: listening", "host", cfg.Server.Host, "port", cfg.Server.Port)
	return srv.Start(ctx)
}

// app gathers every collaborator the REST API process builds from the
// config file. cmd/worker does not use it; it constructs its own
// Postgres/Redis/Qdrant/provider wiring from the same config.
type app struct {
	store         *postgres.Store
	redis         *redis.Client
	deadLetter    dlq.Queue
	checkpoints   checkpoint.Service
	breakers      *circuitbreaker.Registry
	router        *provider.Router
	internal      *research.InternalSearcher
	external      *research.ExternalSearcher
	factChecker   *factcheck.Checker
	gapAnalyzer   *gapanalysis.Analyzer
	orchestrator  *orchestrator.Orchestrator
	hub           *progress.Hub
	validator     auth.TokenValidator
	limiter       ratelimit.RateLimiter
	observability *observability.Manager
}

func (a *app) shutdown(ctx context.Context) {
	if a.observability != nil {
		if err := a.observability.Shutdown(ctx); err != nil {
			slog.Error("chapterforge: observability shutdown", "error", err)
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

// buildApp constructs every collaborator named in SPEC_FULL.md §4.1-4.12
// from cfg: the Postgres-backed Store, the Redis-backed checkpoint/DLQ/
// circuit-breaker stores, the Qdrant-backed internal research index,
// the Provider Router and its fallback chains, the Fact Checker and Gap
// Analyzer, the Orchestrator wiring them all together with metrics
// attached, the Progress Hub, and the auth/rate-limit/observability
// cross-cutting layers.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	initLogging(cfg)

	dbCfg, _ := cfg.GetDatabase("primary")
	dbPool := config.NewDBPool()
	sqlDB, err := dbPool.Get(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := postgres.New(sqlDB)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	checkpoints := checkpoint.NewRedisService(redisClient, "chapterforge", 0)
	deadLetter := dlq.NewRedisQueue(redisClient, "chapterforge", durationDays(cfg.DLQ.RetentionDays))
	breakerStore := circuitbreaker.NewRedisStore(redisClient, "chapterforge")
	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
		FailureThreshold:      uint32(cfg.CircuitBreaker.FailureThreshold),
		Window:                durationSeconds(cfg.CircuitBreaker.FailureWindowSeconds),
		RecoveryTimeout:       durationSeconds(cfg.CircuitBreaker.RecoveryTimeoutSeconds),
		HalfOpenSuccessThresh: uint32(cfg.CircuitBreaker.HalfOpenSuccessThreshold),
	}, breakerStore)

	router, err := provider.BuildRouter(ctx, cfg, breakers)
	if err != nil {
		return nil, fmt.Errorf("build provider router: %w", err)
	}

	vectorProvider, err := vectorindex.NewQdrantProvider(vectorindex.QdrantConfig{
		Host:   cfg.VectorStore.Host,
		Port:   cfg.VectorStore.Port,
		APIKey: cfg.VectorStore.APIKey,
		UseTLS: config.BoolValue(cfg.VectorStore.UseTLS, false),
	})
	if err != nil {
		return nil, fmt.Errorf("connect qdrant: %w", err)
	}
	internal := research.NewInternalSearcher(vectorProvider, cfg.VectorStore.Collection, func(ctx context.Context, text string) ([]float32, error) {
		return router.GenerateEmbedding(ctx, "", text)
	})
	external := research.NewExternalSearcher(nil, research.NewRedisCache(redisClient, "chapterforge"), int64(cfg.Research.ExternalConcurrency))

	const blockOnFactCheckFailure = false
	factChecker := factcheck.NewChecker(router, blockOnFactCheckFailure)
	gapAnalyzer := gapanalysis.NewAnalyzer(gapanalysis.DefaultScorers()...)

	validator, err := auth.NewValidatorFromConfig(cfg.Server.Auth)
	if err != nil {
		return nil, fmt.Errorf("build auth validator: %w", err)
	}
	hub := progress.NewHub(validator)

	orch := orchestrator.New(
		store,
		checkpoints,
		deadLetter,
		hub,
		router,
		internal,
		external,
		factChecker,
		gapAnalyzer,
		store.ImageLookup,
		orchestrator.Config{BatchSize: cfg.Progress.SendBufferSize, ParallelSectionGeneration: true, BlockOnFactCheckFailure: blockOnFactCheckFailure},
	)

	obsManager, err := observability.NewManager(ctx, cfg.Server.Observability)
	if err != nil {
		return nil, fmt.Errorf("build observability: %w", err)
	}
	orch.SetMetrics(obsManager.Metrics())
	hub.SetMetrics(obsManager.Metrics())

	limiter, err := ratelimit.NewRateLimiterFromConfig(cfg, redisClient)
	if err != nil {
		return nil, fmt.Errorf("build rate limiter: %w", err)
	}

	return &app{
		store:         store,
		redis:         redisClient,
		deadLetter:    deadLetter,
		checkpoints:   checkpoints,
		breakers:      breakers,
		router:        router,
		internal:      internal,
		external:      external,
		factChecker:   factChecker,
		gapAnalyzer:   gapAnalyzer,
		orchestrator:  orch,
		hub:           hub,
		validator:     validator,
		limiter:       limiter,
		observability: obsManager,
	}, nil
}

func durationDays(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}

func durationSeconds(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

func initLogging(cfg *config.Config) {
	level, _ := logger.ParseLevel(cfg.Logger.Level)
	output := os.Stderr
	if cfg.Logger.File != "" {
		if f, _, err := logger.OpenLogFile(cfg.Logger.File); err == nil {
			output = f
		}
	}
	logger.Init(level, output, cfg.Logger.Format)
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("chapterforge"),
		kong.Description("Chapter generation pipeline: research, draft, fact-check, and gap analysis."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(&cli); err != nil {
		slog.Error("chapterforge: fatal", "error", err)
		os.Exit(1)
	}
}
