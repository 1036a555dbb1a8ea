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

// Package server exposes the Orchestrator's REST API (spec.md §4.1
// "Orchestrator API to the REST layer"), the progress-channel websocket
// (spec.md §4.9), and the administrative DLQ surface (spec.md §4.12)
// over a go-chi router.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/neurocore/chapterforge/pkg/auth"
	"github.com/neurocore/chapterforge/pkg/config"
	"github.com/neurocore/chapterforge/pkg/dlq"
	"github.com/neurocore/chapterforge/pkg/observability"
	"github.com/neurocore/chapterforge/pkg/orchestrator"
	"github.com/neurocore/chapterforge/pkg/progress"
	"github.com/neurocore/chapterforge/pkg/ratelimit"
)

// Server is the HTTP surface wrapping an Orchestrator, a DLQ, and a
// progress Hub.
type Server struct {
	cfg    *config.ServerConfig
	orch   *orchestrator.Orchestrator
	queue  dlq.Queue
	hub    *progress.Hub
	router chi.Router
	srv    *http.Server
}

// Options gathers every collaborator the HTTP surface depends on.
type Options struct {
	Config        *config.ServerConfig
	Orchestrator  *orchestrator.Orchestrator
	DeadLetter    dlq.Queue
	Hub           *progress.Hub
	Validator     auth.TokenValidator    // nil disables authentication
	Limiter       ratelimit.RateLimiter  // nil disables rate limiting
	Observability *observability.Manager // nil disables tracing/metrics middleware
}

// New builds a Server and wires its routes.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("server: config is required")
	}
	if opts.Orchestrator == nil {
		return nil, fmt.Errorf("server: orchestrator is required")
	}
	opts.Config.SetDefaults()

	s := &Server{
		cfg:   opts.Config,
		orch:  opts.Orchestrator,
		queue: opts.DeadLetter,
		hub:   opts.Hub,
	}
	s.router = s.buildRouter(opts)
	return s, nil
}

func (s *Server) buildRouter(opts Options) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Timeout(60 * time.Second))

	if opts.Limiter != nil {
		r.Use(ratelimit.Middleware(ratelimit.MiddlewareConfig{
			Limiter:       opts.Limiter,
			ExcludedPaths: []string{"/healthz"},
		}))
	}

	if opts.Observability != nil {
		r.Use(observability.HTTPMiddleware(opts.Observability.Tracer(), opts.Observability.Metrics()))
		r.Get(opts.Observability.MetricsEndpoint(), opts.Observability.MetricsHandler().ServeHTTP)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	authenticated := func(next http.Handler) http.Handler {
		if opts.Validator == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			auth.HTTPMiddleware(opts.Validator, next).ServeHTTP(w, req)
		})
	}

	h := &handlers{orch: s.orch, queue: s.queue, hub: s.hub, validator: opts.Validator}

	r.Route("/v1/chapters", func(r chi.Router) {
		r.Use(authenticated)
		r.Post("/", h.startGeneration)
		r.Get("/{chapterID}", h.getChapter)
		r.Post("/{chapterID}/cancel", h.cancel)
		r.Post("/{chapterID}/sections/{sectionNumber}/regenerate", h.regenerateSection)
		r.Get("/{chapterID}/events", h.subscribe) // websocket; auth via query-param token
	})

	r.Route("/admin/dlq", func(r chi.Router) {
		r.Use(authenticated)
		r.Use(auth.RequireRole("admin"))
		r.Get("/", h.listDLQ)
		r.Get("/{id}", h.getDLQEntry)
		r.Post("/{id}/retry", h.retryDLQEntry)
	})

	return r
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server: listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
