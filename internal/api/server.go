package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"nestsync/internal/config"
	"nestsync/internal/models"
	"nestsync/internal/ratelimit"
	"nestsync/internal/store"
	"nestsync/internal/telemetry"
)

// Server wires the ops HTTP API: job enqueue for onboarding, job and
// sync-status inspection, and on-demand content refresh.
type Server struct {
	cfg     config.Config
	store   *store.Store
	limiter *ratelimit.TokenBucket
	log     zerolog.Logger
}

// New constructs the API server.
func New(cfg config.Config, st *store.Store, limiter *ratelimit.TokenBucket, log zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		store:   st,
		limiter: limiter,
		log:     log.With().Str("component", "api").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := s.store.Ping(req.Context()); err != nil {
			http.Error(w, `{"status":"degraded"}`, http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/jobs", s.handleEnqueue)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Get("/tenants/{tenantID}/sync-status", s.handleSyncStatus)
	r.Post("/tenants/{tenantID}/content/{contentID}/refresh", s.handleRefresh)
	r.Get("/stats/queue", s.handleQueueStats)
	return r
}

type enqueueRequest struct {
	TenantID   string         `json:"tenant_id"`
	JobType    string         `json:"job_type"`
	Priority   int            `json:"priority"`
	Payload    map[string]any `json:"payload"`
	MaxRetries int            `json:"max_retries"`
}

type enqueueResponse struct {
	Job     models.SyncJob `json:"job"`
	Created bool           `json:"created"`
}

// handleEnqueue creates a sync job. The credential service calls this with
// job_type backfill on successful tenant onboarding.
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.TenantID == "" {
		http.Error(w, "tenant_id is required", http.StatusBadRequest)
		return
	}
	if req.JobType == "" {
		req.JobType = models.JobBackfill
	}
	if req.JobType != models.JobBackfill && req.JobType != models.JobDailySync {
		http.Error(w, fmt.Sprintf("unsupported job type %q", req.JobType), http.StatusBadRequest)
		return
	}
	if req.Priority == 0 {
		req.Priority = models.PriorityBackfill
	}
	if req.MaxRetries == 0 {
		req.MaxRetries = s.cfg.MaxRetries
	}

	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), "rl:"+req.TenantID)
		if err != nil {
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.EnqueueRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	// The status row doubles as the tenant registry for the daily fan-out.
	if err := s.store.EnsureSyncStatus(r.Context(), req.TenantID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	job, created, err := s.store.EnqueueJob(r.Context(), store.EnqueueJobParams{
		TenantID:     req.TenantID,
		JobType:      req.JobType,
		Priority:     req.Priority,
		Payload:      req.Payload,
		MaxRetries:   req.MaxRetries,
		SkipIfActive: true,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if created {
		telemetry.JobsEnqueued.Inc()
		s.log.Info().Str("tenant_id", req.TenantID).Str("job_type", req.JobType).Str("job_id", job.ID).Msg("job enqueued")
	}

	writeJSON(w, http.StatusAccepted, enqueueResponse{Job: job, Created: created})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	status, err := s.store.GetSyncStatus(r.Context(), tenantID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleRefresh enqueues an on-demand refresh for one content item,
// the only refresh path for items past the automatic horizon.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	contentID := chi.URLParam(r, "contentID")

	if _, err := s.store.GetPost(r.Context(), tenantID, contentID); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	job, created, err := s.store.EnqueueJob(r.Context(), store.EnqueueJobParams{
		TenantID:   tenantID,
		JobType:    models.JobRefresh,
		Priority:   models.PriorityRefresh,
		Payload:    map[string]any{"content_id": contentID},
		MaxRetries: s.cfg.MaxRetries,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if created {
		telemetry.JobsEnqueued.Inc()
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{Job: job, Created: created})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	pending, err := s.store.CountPending(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": pending})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
