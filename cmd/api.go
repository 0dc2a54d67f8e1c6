package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/export"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/prospect"
	"github.com/sells-group/prospector/internal/store"
)

// api bundles the dashboard handlers' dependencies.
type api struct {
	store  store.Store
	runner *prospect.Runner
}

// newRouter builds the dashboard API router.
func newRouter(st store.Store, runner *prospect.Runner, allowedOrigins []string) http.Handler {
	a := &api{store: st, runner: runner}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", a.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/states", a.handleListStates)
		r.Post("/jobs", a.handleCreateJob)
		r.Get("/jobs", a.handleListJobs)
		r.Route("/jobs/{jobID}", func(r chi.Router) {
			r.Get("/", a.handleGetJob)
			r.Get("/results", a.handleListResults)
			r.Post("/pause", a.handlePauseJob)
			r.Post("/resume", a.handleResumeJob)
			r.Get("/export", a.handleExport)
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps store/runner errors onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	var ve *prospect.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Msg)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "job is not in a state that allows this action")
	default:
		zap.L().Error("api: internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) handleListStates(w http.ResponseWriter, r *http.Request) {
	states, err := a.store.ListStates(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"states": states})
}

func (a *api) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Description string `json:"description"`
		State       string `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := a.runner.StartJob(r.Context(), req.Description, req.State)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (a *api) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	filter := store.JobFilter{
		Status: model.JobStatus(r.URL.Query().Get("status")),
		Limit:  limit,
	}

	jobs, err := a.store.ListJobs(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (a *api) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.runner.GetStatus(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	resultCount, err := a.store.CountResults(r.Context(), job.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"job": job,
		"progress": map[string]any{
			"total":      job.CountiesTotal,
			"processed":  job.CountiesProcessed,
			"percentage": job.ProgressPercent(),
		},
		"results_count": resultCount,
	})
}

func (a *api) handleListResults(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if _, err := a.store.GetJob(r.Context(), jobID); err != nil {
		writeStoreError(w, err)
		return
	}

	results, err := a.store.ListResults(r.Context(), jobID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (a *api) handlePauseJob(w http.ResponseWriter, r *http.Request) {
	if err := a.runner.PauseJob(r.Context(), chi.URLParam(r, "jobID")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (a *api) handleResumeJob(w http.ResponseWriter, r *http.Request) {
	if err := a.runner.ResumeJob(r.Context(), chi.URLParam(r, "jobID")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (a *api) handleExport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if _, err := a.store.GetJob(r.Context(), jobID); err != nil {
		writeStoreError(w, err)
		return
	}

	results, err := a.store.ListResults(r.Context(), jobID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	format := r.URL.Query().Get("format")
	switch format {
	case "xlsx":
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=job_%s_results.xlsx`, jobID))
		if err := export.WriteXLSX(w, results); err != nil {
			zap.L().Error("api: write xlsx export", zap.Error(err))
		}
	case "csv", "":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=job_%s_results.csv`, jobID))
		if err := export.WriteCSV(w, results); err != nil {
			zap.L().Error("api: write csv export", zap.Error(err))
		}
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown export format %q", format))
	}
}
