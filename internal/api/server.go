package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"receipt-ingest/internal/models"
	"receipt-ingest/internal/store"
	"receipt-ingest/internal/telemetry"
)

// Store is the persistence surface the API needs.
type Store interface {
	CreateJob(ctx context.Context, idempotencyKey, imageURI string) (models.Job, bool, error)
	GetJob(ctx context.Context, id string) (models.Job, error)
	MarkJobFailed(ctx context.Context, id, errText string) error
	GetReceipt(ctx context.Context, id string) (models.Receipt, error)
	ListReceipts(ctx context.Context, limit int) ([]models.Receipt, error)
	SearchReceipts(ctx context.Context, vec []float32, limit int) ([]models.SearchHit, error)
}

// Enqueuer schedules a created job for processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
}

// Embedder turns a search query into a vector. May be nil, which disables
// the search endpoint.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Limiter gates ingest requests per client. May be nil.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Server is the HTTP API for submitting receipt images and reading back
// jobs and receipts.
type Server struct {
	store    Store
	queue    Enqueuer
	embedder Embedder
	limiter  Limiter
}

func New(store Store, queue Enqueuer, embedder Embedder, limiter Limiter) *Server {
	return &Server{store: store, queue: queue, embedder: embedder, limiter: limiter}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/receipts/ingest", s.handleIngest)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Get("/receipts", s.handleListReceipts)
	r.Get("/receipts/search", s.handleSearchReceipts)
	r.Get("/receipts/{id}", s.handleGetReceipt)

	return r
}

type ingestRequest struct {
	ImageURI string `json:"image_uri"`
}

type ingestResponse struct {
	Job     models.Job `json:"job"`
	Created bool       `json:"created"`
}

// handleIngest accepts an image reference and returns the job tracking its
// extraction. Submissions sharing an idempotency key converge on one job:
// only the submission that created it schedules work, everyone else gets
// the existing job back with 200.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ImageURI == "" {
		writeError(w, http.StatusBadRequest, "image_uri is required")
		return
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(r.Context(), clientKey(r))
		if err != nil {
			log.Printf("rate limit check: %v", err)
		} else if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
	}

	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		key = uuid.New().String()
	}

	job, created, err := s.store.CreateJob(r.Context(), key, req.ImageURI)
	if err != nil {
		log.Printf("create job: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	if !created {
		telemetry.IngestDuplicate.Inc()
		writeJSON(w, http.StatusOK, ingestResponse{Job: job, Created: false})
		return
	}

	if err := s.queue.Enqueue(r.Context(), job.ID); err != nil {
		log.Printf("enqueue job %s: %v", job.ID, err)
		if err := s.store.MarkJobFailed(r.Context(), job.ID, "internal: enqueue failed: "+err.Error()); err != nil {
			log.Printf("mark job %s failed: %v", job.ID, err)
		}
		writeError(w, http.StatusInternalServerError, "failed to schedule job")
		return
	}

	telemetry.IngestAccepted.Inc()
	writeJSON(w, http.StatusAccepted, ingestResponse{Job: job, Created: true})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		log.Printf("get job: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.store.GetReceipt(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "receipt not found")
		return
	}
	if err != nil {
		log.Printf("get receipt: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load receipt")
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 200 {
		limit = 200
	}

	receipts, err := s.store.ListReceipts(r.Context(), limit)
	if err != nil {
		log.Printf("list receipts: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list receipts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipts": receipts})
}

func (s *Server) handleSearchReceipts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	if s.embedder == nil {
		writeError(w, http.StatusServiceUnavailable, "search is not configured")
		return
	}

	vec, err := s.embedder.Embed(r.Context(), query)
	if err != nil {
		log.Printf("embed query: %v", err)
		writeError(w, http.StatusBadGateway, "failed to embed query")
		return
	}

	hits, err := s.store.SearchReceipts(r.Context(), vec, 10)
	if err != nil {
		log.Printf("search receipts: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to search receipts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": query, "results": hits})
}

func clientKey(r *http.Request) string {
	if id := r.Header.Get("X-Client-ID"); id != "" {
		return id
	}
	return "default"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
