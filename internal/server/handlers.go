package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kensaku/internal/embedding"
	"github.com/hyperjump/kensaku/internal/ingest"
	"github.com/hyperjump/kensaku/internal/jobs"
	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/retrieval"
	"github.com/hyperjump/kensaku/internal/store"
)

// Machine-readable error types returned in the error_type field.
const (
	errTypeNoContent   = "no_content"
	errTypeUnavailable = "provider_unavailable"
	errTypeValidation  = "validation"
	errTypeNotFound    = "not_found"
	errTypeForbidden   = "path_not_allowed"
	errTypeInternal    = "internal"
)

type queryRequest struct {
	Query string `json:"query"`
	models.RetrievalConfig
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, errTypeValidation, "invalid request body")
		return
	}
	s.logger.Debug("query request", zap.String("query", req.Query))
	response, err := s.engine.Retrieve(r.Context(), req.Query, &req.RetrievalConfig)
	if err != nil {
		s.respondRetrievalError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

// respondRetrievalError maps retrieval failures to status codes: an empty
// corpus answer is 404 so that callers can tell "nothing relevant" from a
// broken backend, which is 503.
func (s *Server) respondRetrievalError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, retrieval.ErrNoContent):
		s.respondError(w, http.StatusNotFound, errTypeNoContent, "no content has been ingested yet; ingest a corpus before querying")
	case errors.Is(err, retrieval.ErrEmptyQuery):
		s.respondError(w, http.StatusBadRequest, errTypeValidation, "query must not be empty")
	case embedding.IsProviderError(err), errors.Is(err, store.ErrUnavailable):
		s.logger.Error("retrieval backend unavailable", zap.Error(err))
		s.respondError(w, http.StatusServiceUnavailable, errTypeUnavailable, err.Error())
	case errors.Is(err, models.ErrInvalidConfig):
		s.respondError(w, http.StatusUnprocessableEntity, errTypeValidation, err.Error())
	default:
		s.logger.Error("query failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, errTypeInternal, err.Error())
	}
}

type ingestRequest struct {
	SourcePath     string                 `json:"source_path"`
	ForceReindex   bool                   `json:"force_reindex,omitempty"`
	IndexTemplates bool                   `json:"index_templates,omitempty"`
	Config         *ingestConfigOverrides `json:"config,omitempty"`
}

// ingestConfigOverrides carries optional per-request chunking settings.
// Omitted fields keep the server's configured values.
type ingestConfigOverrides struct {
	ChunkSize        int      `json:"chunk_size,omitempty"`
	ChunkOverlap     int      `json:"chunk_overlap,omitempty"`
	ExcludePatterns  []string `json:"exclude_patterns,omitempty"`
	TemplatePatterns []string `json:"template_patterns,omitempty"`
}

func (r *ingestRequest) options(forceReindex bool) ingest.Options {
	opts := ingest.Options{ForceReindex: forceReindex, IndexTemplates: r.IndexTemplates}
	if r.Config != nil {
		opts.Chunking = &ingest.ChunkingOverrides{
			ChunkSize:        r.Config.ChunkSize,
			ChunkOverlap:     r.Config.ChunkOverlap,
			ExcludePatterns:  r.Config.ExcludePatterns,
			TemplatePatterns: r.Config.TemplatePatterns,
		}
	}
	return opts
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, errTypeValidation, "invalid request body")
		return
	}
	if req.SourcePath == "" {
		s.respondError(w, http.StatusBadRequest, errTypeValidation, "source_path is required")
		return
	}
	s.logger.Debug("ingest request",
		zap.String("source_path", req.SourcePath),
		zap.Bool("force_reindex", req.ForceReindex),
	)
	opts := req.options(req.ForceReindex)
	job, err := s.pipeline.Prepare(r.Context(), req.SourcePath, opts)
	if err != nil {
		s.respondIngestError(w, err)
		return
	}
	s.pipeline.Start(job, opts)
	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"job":                    job,
		"estimated_time_seconds": estimateSeconds(job.FilesTotal),
	})
}

// estimateSeconds is a coarse progress hint for clients that poll the job.
func estimateSeconds(files int) int {
	const perFile = 2 * time.Second
	return int((time.Duration(files) * perFile) / time.Second)
}

func (s *Server) respondIngestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ingest.ErrPathNotAllowed):
		s.respondError(w, http.StatusForbidden, errTypeForbidden, err.Error())
	case errors.Is(err, ingest.ErrNoFiles):
		s.respondError(w, http.StatusNotFound, errTypeNotFound, err.Error())
	case errors.Is(err, ingest.ErrInvalidOptions):
		s.respondError(w, http.StatusUnprocessableEntity, errTypeValidation, err.Error())
	default:
		s.logger.Error("ingest failed to start", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, errTypeInternal, err.Error())
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, errTypeNotFound, "job not found")
			return
		}
		s.logger.Error("job lookup failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, errTypeInternal, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"job":              job,
		"percent_complete": job.PercentComplete(),
	})
}

// handleReindex is a forced re-ingestion of a source path: every chunk is
// re-embedded and overwritten even if its content hash is already stored.
func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, errTypeValidation, "invalid request body")
		return
	}
	if req.SourcePath == "" {
		s.respondError(w, http.StatusBadRequest, errTypeValidation, "source_path is required")
		return
	}
	s.logger.Info("reindex request", zap.String("source_path", req.SourcePath))
	opts := req.options(true)
	job, err := s.pipeline.Prepare(r.Context(), req.SourcePath, opts)
	if err != nil {
		s.respondIngestError(w, err)
		return
	}
	s.pipeline.Start(job, opts)
	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"job":                    job,
		"estimated_time_seconds": estimateSeconds(job.FilesTotal),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	connected, vectorCount := s.engine.Health(ctx)

	status := "healthy"
	if !connected {
		status = "degraded"
	}
	resp := map[string]interface{}{
		"status": status,
		"vector_store": map[string]interface{}{
			"connected":    connected,
			"vector_count": vectorCount,
		},
	}
	if latest, err := s.jobs.Latest(ctx); err == nil && latest != nil {
		resp["last_ingestion"] = map[string]interface{}{
			"job_id":       latest.JobID,
			"status":       latest.Status,
			"started_at":   latest.StartedAt,
			"completed_at": latest.CompletedAt,
		}
	}
	code := http.StatusOK
	if !connected {
		code = http.StatusServiceUnavailable
	}
	s.respondJSON(w, code, resp)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, errType, message string) {
	s.respondJSON(w, status, map[string]string{"error": message, "error_type": errType})
}
