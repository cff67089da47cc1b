package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/phuslu/log"

	"cio-queue/internal/logging"
	"cio-queue/internal/models"
	"cio-queue/internal/queue"
	"cio-queue/internal/ratelimit"
	"cio-queue/internal/telemetry"
)

// Limiter is satisfied by ratelimit.TokenBucket.
type Limiter interface {
	Allow(ctx context.Context, producer string) (ratelimit.Decision, error)
}

// StatusProcessor is told about the queue after every add; satisfied by queue.Scheduler.
type StatusProcessor interface {
	ProcessQueueStatus(status models.QueueStatus)
}

// Server wires HTTP handlers for the producer API.
type Server struct {
	queue     *queue.Queue
	scheduler StatusProcessor
	limiter   Limiter
	logger    *log.Logger
}

// New constructs the API server. limiter and scheduler may be nil.
func New(q *queue.Queue, scheduler StatusProcessor, limiter Limiter, logger *log.Logger) *Server {
	return &Server{
		queue:     q,
		scheduler: scheduler,
		limiter:   limiter,
		logger:    logging.OrDiscard(logger),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Get("/queue", s.handleStatus)
	r.Get("/queue/tasks", s.handleInventory)
	r.Get("/queue/tasks/{id}", s.handleGetTask)
	r.Post("/queue/run", s.handleRun)
	r.Post("/queue/cleanup", s.handleCleanup)
	r.With(s.rateLimit).Post("/tasks/{type}", s.handleEnqueue)
	return r
}

type statusResponse struct {
	models.QueueStatus
	Running bool `json:"running"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{QueueStatus: s.queue.Status(r.Context()), Running: s.queue.IsRunning()})
}

func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tasks": s.queue.Inventory(r.Context())})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.queue.Task(r.Context(), chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if !wait {
		// the drain must outlive this request
		s.queue.Run(context.WithoutCancel(r.Context()), nil)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
		return
	}
	// only the wait ends with the request; the drain may have other waiters
	result, err := s.queue.RunDetachedAndWait(r.Context())
	if err != nil {
		s.logger.Debug().Err(err).Msg("client left before the drain finished")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
		"pruned":    result.Pruned,
		"remaining": result.Remaining,
		"halted":    result.Halted,
		"queue":     s.queue.Status(r.Context()),
	})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	expired := s.queue.DeleteExpiredTasks(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"expired": expired})
}

const maxBodyBytes = 1 << 20

type enqueueResponse struct {
	Queue models.QueueStatus `json:"queue"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	taskType := models.QueueTaskType(chi.URLParam(r, "type"))
	if !taskType.Valid() {
		http.Error(w, "unknown task type", http.StatusNotFound)
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	status, err := s.queue.AddJSONTask(r.Context(), taskType, raw)
	switch {
	case errors.Is(err, queue.ErrInvalidTask):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, "enqueue failed", http.StatusInternalServerError)
		return
	}
	if s.scheduler != nil {
		s.scheduler.ProcessQueueStatus(status)
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{Queue: status})
}

// rateLimit charges one token per enqueue to the producer named by X-Producer-ID.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		decision, err := s.limiter.Allow(r.Context(), producerFromRequest(r))
		if err != nil {
			s.logger.Error().Err(err).Msg("rate limiter unavailable")
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !decision.Allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func producerFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Producer-ID"); v != "" {
		return v
	}
	return "default"
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
