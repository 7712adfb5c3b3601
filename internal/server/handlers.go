package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rickgao/eve-market/internal/jobs"
	"github.com/rickgao/eve-market/internal/snipes"
	"github.com/rickgao/eve-market/internal/version"
)

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
	Job    string `json:"job,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := struct {
		Status     string         `json:"status"`
		Instance   string         `json:"instance,omitempty"`
		Version    version.Info   `json:"version"`
		Components map[string]any `json:"components"`
	}{
		Status:     "healthy",
		Instance:   s.cfg.InstanceID,
		Version:    version.Get(),
		Components: make(map[string]any),
	}

	if err := s.deps.Store.Ping(ctx); err != nil {
		health.Status = "unhealthy"
		health.Components["store"] = map[string]string{
			"status": "disconnected",
			"error":  err.Error(),
		}
	} else {
		health.Components["store"] = "connected"
	}

	if s.deps.Scheduler == nil {
		health.Components["scheduler"] = "disabled"
	} else {
		health.Components["scheduler"] = "running"
	}

	status := http.StatusOK
	if health.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Events.Snapshot())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "BadRequest", Detail: "limit must be 1..1000"})
			return
		}
		limit = n
	}

	runs, err := s.deps.Store.RecentJobRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to load job history", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal", Detail: err.Error()})
		return
	}

	type runJSON struct {
		Name    string         `json:"name"`
		TS      time.Time      `json:"ts"`
		OK      bool           `json:"ok"`
		Details map[string]any `json:"details"`
	}
	out := make([]runJSON, 0, len(runs))
	for _, run := range runs {
		out = append(out, runJSON(run))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSnipes(w http.ResponseWriter, r *http.Request) {
	if s.deps.Snipes == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "SnipesDisabled"})
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "BadRequest", Detail: "limit must be 1..500"})
			return
		}
		limit = n
	}

	found, err := s.deps.Snipes.Find(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to find snipes", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal", Detail: err.Error()})
		return
	}
	if found == nil {
		found = []snipes.Snipe{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"snipes": found, "count": len(found)})
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	runID, err := s.deps.Jobs.EnqueueName(name, jobs.P0)
	switch {
	case errors.Is(err, jobs.ErrUnknownJob):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "UnknownJob", Job: name})
		return
	case err != nil:
		s.logger.Error("failed to enqueue job", "job", name, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal", Detail: err.Error(), Job: name})
		return
	}

	s.logger.Info("job queued by request", "job", name, "run_id", runID)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job":      name,
		"run_id":   runID,
		"priority": jobs.P0.String(),
	})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "SchedulerDisabled"})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Scheduler.Settings())
}

// handlePutSettings applies several settings. Every entry is validated
// before any is applied.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "SchedulerDisabled"})
		return
	}

	var body map[string]jobs.Setting
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "BadRequest", Detail: err.Error()})
		return
	}
	s.applySettings(w, r, body)
}

func (s *Server) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "SchedulerDisabled"})
		return
	}

	var set jobs.Setting
	if err := json.NewDecoder(r.Body).Decode(&set); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "BadRequest", Detail: err.Error()})
		return
	}
	s.applySettings(w, r, map[string]jobs.Setting{chi.URLParam(r, "name"): set})
}

func (s *Server) applySettings(w http.ResponseWriter, r *http.Request, settings map[string]jobs.Setting) {
	err := s.deps.Scheduler.UpdateAll(r.Context(), settings)
	if err != nil {
		var job string
		var setErr *jobs.SettingError
		if errors.As(err, &setErr) {
			job = setErr.Job
		}
		switch {
		case errors.Is(err, jobs.ErrUnknownJob):
			writeJSON(w, http.StatusNotFound, errorBody{Error: "UnknownJob", Job: job})
		case errors.Is(err, jobs.ErrInvalidSetting):
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "InvalidSetting", Detail: err.Error(), Job: job})
		default:
			s.logger.Error("failed to save job settings", "error", err)
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal", Detail: err.Error()})
		}
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Scheduler.Settings())
}
