// Package server exposes the pipeline service over HTTP: pipeline
// submission, run inspection, health and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stagehand/internal/core"
	"stagehand/internal/history"
	"stagehand/internal/queue"
	"stagehand/internal/storage"
)

// Server is the pipeline service's HTTP front. Submissions go to the run
// queue; finished runs are answered from the history store.
type Server struct {
	Addr   string
	router *chi.Mux
	server *http.Server

	queue *queue.Queue
	store *history.Store
	logs  *storage.LogStore
}

// NewServer wires the HTTP API. The metrics registry backs /metrics; pass
// the registry the runner's recorder was built on.
func NewServer(addr string, q *queue.Queue, store *history.Store, logs *storage.LogStore, reg *prom.Registry) *Server {
	s := &Server{
		Addr:   addr,
		router: chi.NewRouter(),
		queue:  q,
		store:  store,
		logs:   logs,
	}
	s.setupRoutes(reg)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes(reg *prom.Registry) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/pipelines", s.handleSubmit)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Get("/runs/{id}/log", s.handleRunLog)
	})
}

// Handler returns the routed handler, for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSubmit accepts a pipeline YAML body. Every query parameter is a
// parameter override, so `?submodule_branch=v2` works the way -p does on
// the CLI.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read body")
		return
	}
	p, err := core.ParsePipeline(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	overrides := make(map[string]string)
	for name, vals := range r.URL.Query() {
		if len(vals) > 0 {
			overrides[name] = vals[0]
		}
	}

	job, err := s.queue.Submit(r.Context(), p, overrides)
	if err != nil {
		if errors.Is(err, queue.ErrFull) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

type listRunsResponse struct {
	Active    []queue.Job      `json:"active"`
	Completed []history.Record `json:"completed"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	recs, err := s.store.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, listRunsResponse{Active: s.queue.Active(), Completed: recs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if job, ok := s.queue.Snapshot(id); ok {
		writeJSON(w, http.StatusOK, job)
		return
	}
	rec, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRunLog(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeError(w, http.StatusNotFound, "log retention is disabled")
		return
	}
	id := chi.URLParam(r, "id")
	body, err := s.logs.Concat(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "no logs for run")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
