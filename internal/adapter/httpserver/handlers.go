package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/univac-1/risk-analyzer/internal/config"
	"github.com/univac-1/risk-analyzer/internal/domain"
	"github.com/univac-1/risk-analyzer/internal/usecase"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Server aggregates the handlers' dependencies.
type Server struct {
	Cfg      config.Config
	Ingest   usecase.IngestService
	Jobs     usecase.JobQueryService
	Sessions usecase.EditSessionService
	Exports  usecase.ExportService

	DBCheck    func(ctx context.Context) error
	RedisCheck func(ctx context.Context) error
	BlobCheck  func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, ingest usecase.IngestService, jobs usecase.JobQueryService, sessions usecase.EditSessionService, exports usecase.ExportService, dbCheck, redisCheck, blobCheck func(context.Context) error) *Server {
	return &Server{
		Cfg:        cfg,
		Ingest:     ingest,
		Jobs:       jobs,
		Sessions:   sessions,
		Exports:    exports,
		DBCheck:    dbCheck,
		RedisCheck: redisCheck,
		BlobCheck:  blobCheck,
	}
}

// UploadHandler accepts a multipart video upload and enqueues its
// analysis job. Validation order: form fields, extension, sniffed
// content, size.
func (s *Server) UploadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
			writeError(w, r, fmt.Errorf("%w: content-type must be multipart/form-data", domain.ErrInvalidArgument), nil)
			return
		}

		maxBytes := s.Cfg.MaxUploadBytes()
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "too large") {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorEnvelope{Error: apiError{
					Code:    "PAYLOAD_TOO_LARGE",
					Message: "payload too large",
					Details: map[string]any{"max_mb": s.Cfg.MaxUploadMB},
				}})
				return
			}
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
			return
		}

		meta, details := parseUploadForm(r)
		if details != nil {
			writeError(w, r, fmt.Errorf("%w: invalid upload fields", domain.ErrInvalidArgument), details)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: file required", domain.ErrInvalidArgument), map[string]string{"field": "file"})
			return
		}
		defer func() { _ = file.Close() }()

		if !allowedExt(header.Filename, s.Cfg.AllowedVideoExt) {
			writeJSON(w, http.StatusUnsupportedMediaType, errorEnvelope{Error: apiError{
				Code:    "UNSUPPORTED_MEDIA_TYPE",
				Message: "unsupported video extension",
				Details: map[string]any{"filename": header.Filename, "allowed": s.Cfg.AllowedVideoExt},
			}})
			return
		}

		contentType, err := sniffVideoMIME(file)
		if err != nil {
			writeJSON(w, http.StatusUnsupportedMediaType, errorEnvelope{Error: apiError{
				Code:    "UNSUPPORTED_MEDIA_TYPE",
				Message: "unsupported video content",
				Details: map[string]any{"mime": contentType, "filename": header.Filename},
			}})
			return
		}

		if header.Size > maxBytes {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorEnvelope{Error: apiError{
				Code:    "PAYLOAD_TOO_LARGE",
				Message: "payload too large",
				Details: map[string]any{"max_mb": s.Cfg.MaxUploadMB, "size_bytes": header.Size},
			}})
			return
		}

		job, err := s.Ingest.Ingest(r.Context(), file, header.Size, contentType, header.Filename, meta)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, toJobView(job))
	}
}

// ListJobsHandler pages jobs newest first.
func (s *Server) ListJobsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offset := queryInt(r, "offset", 0)
		limit := queryInt(r, "limit", defaultListLimit)
		if limit <= 0 || limit > maxListLimit {
			limit = defaultListLimit
		}
		if offset < 0 {
			offset = 0
		}
		jobs, err := s.Jobs.List(r.Context(), offset, limit)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": toJobViews(jobs)})
	}
}

// GetJobHandler returns one job with its metadata.
func (s *Server) GetJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := s.Jobs.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, toJobView(job))
	}
}

// ProgressHandler returns the job's progress snapshot.
func (s *Server) ProgressHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := s.Jobs.Snapshot(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

// ResultsHandler returns the completed assessment with its risk items and
// a presigned URL of the source clip.
func (s *Server) ResultsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		results, err := s.Jobs.Results(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		view := resultsView{
			Job:   toJobView(results.Job),
			Risks: toRiskItemViews(results.Risks),
		}
		url, err := s.Jobs.VideoURL(r.Context(), id, s.Cfg.PresignExpiry)
		if err != nil {
			LoggerFrom(r).Warn("results: presign failed", slog.String("job_id", id), slog.Any("error", err))
		} else {
			view.VideoURL = url
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// VideoStreamHandler streams the job's source clip inline.
func (s *Server) VideoStreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc, video, info, err := s.Jobs.VideoStream(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		defer func() { _ = rc.Close() }()

		contentType := info.ContentType
		if contentType == "" {
			contentType = "video/mp4"
		}
		w.Header().Set("Content-Type", contentType)
		if info.Size > 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", video.OriginalName))
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, rc); err != nil {
			LoggerFrom(r).Warn("video stream interrupted", slog.Any("error", err))
		}
	}
}

// VideoURLHandler returns a presigned URL for the source clip.
func (s *Server) VideoURLHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		url, err := s.Jobs.VideoURL(r.Context(), chi.URLParam(r, "id"), s.Cfg.PresignExpiry)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"url":        url,
			"expires_in": int(s.Cfg.PresignExpiry.Seconds()),
		})
	}
}

// EditSessionGetHandler returns the job's edit session, creating it on
// first access.
func (s *Server) EditSessionGetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sa, err := s.Sessions.GetOrCreate(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, toSessionView(sa))
	}
}

// actionInput mirrors one requested edit action on the wire.
type actionInput struct {
	ID         string                `json:"id,omitempty"`
	Type       string                `json:"type"`
	StartSec   float64               `json:"start_sec"`
	EndSec     float64               `json:"end_sec"`
	RiskItemID *string               `json:"risk_item_id,omitempty"`
	Mosaic     *domain.MosaicOptions `json:"mosaic,omitempty"`
	Telop      *domain.TelopOptions  `json:"telop,omitempty"`
}

// EditSessionPutHandler replaces the session's action set with the
// requested one and returns the full post-image.
func (s *Server) EditSessionPutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var req struct {
			Actions []actionInput `json:"actions"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		specs := make([]usecase.ActionSpec, 0, len(req.Actions))
		for _, a := range req.Actions {
			specs = append(specs, usecase.ActionSpec{
				ID:         a.ID,
				Type:       domain.EditActionType(a.Type),
				StartSec:   a.StartSec,
				EndSec:     a.EndSec,
				RiskItemID: a.RiskItemID,
				Mosaic:     a.Mosaic,
				Telop:      a.Telop,
			})
		}
		sa, err := s.Sessions.UpdateActions(r.Context(), chi.URLParam(r, "id"), specs)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, toSessionView(sa))
	}
}

// ExportRequestHandler enqueues a render of the job's edit session.
func (s *Server) ExportRequestHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		exp, err := s.Exports.Request(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, toExportView(usecase.ExportStatusView{Export: exp}))
	}
}

// ExportStatusHandler returns the latest export merged with its live
// progress document.
func (s *Server) ExportStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := s.Exports.Status(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, toExportView(view))
	}
}

// ExportDownloadHandler returns a presigned URL for the latest completed
// export.
func (s *Server) ExportDownloadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		url, err := s.Exports.DownloadURL(r.Context(), chi.URLParam(r, "id"), s.Cfg.PresignExpiry)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"url":        url,
			"expires_in": int(s.Cfg.PresignExpiry.Seconds()),
		})
	}
}

// HealthzHandler is the liveness probe.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler probes the DB, Redis and the blob store.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 3)
		probe := func(name string, fn func(context.Context) error) {
			if fn == nil {
				return
			}
			if err := fn(ctx); err != nil {
				checks = append(checks, check{Name: name, OK: false, Details: err.Error()})
				return
			}
			checks = append(checks, check{Name: name, OK: true})
		}
		probe("db", s.DBCheck)
		probe("redis", s.RedisCheck)
		probe("blob", s.BlobCheck)

		status := http.StatusOK
		for _, c := range checks {
			if !c.OK {
				status = http.StatusServiceUnavailable
				break
			}
		}
		writeJSON(w, status, map[string]any{"checks": checks})
	}
}

// OpenAPIServe serves api/openapi.yaml when present.
func (s *Server) OpenAPIServe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := os.ReadFile("api/openapi.yaml")
		if err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(b)
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
