package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/bc-dunia/casgen/internal/jobrunner"
	"github.com/bc-dunia/casgen/internal/types"
)

const maxRequestBodyBytes = 1 << 20 // 1 MiB

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, status int, resp *ErrorResponse) {
	s.writeJSON(w, status, resp)
}

// writeJobError maps a typed runner error to an HTTP response.
func (s *Server) writeJobError(w http.ResponseWriter, err error) {
	jErr := jobrunner.AsJobError(err)
	if jErr == nil {
		s.writeError(w, http.StatusInternalServerError, NewInternalErrorResponse(err.Error()))
		return
	}
	switch jErr.Kind {
	case jobrunner.ErrKindNotFound:
		s.writeError(w, http.StatusNotFound, NewNotFoundErrorResponse(jErr.JobID))
	case jobrunner.ErrKindNotReady:
		s.writeError(w, http.StatusConflict, NewNotReadyErrorResponse(jErr.JobID, string(jErr.Status)))
	case jobrunner.ErrKindInvalidState, jobrunner.ErrKindInvalidTransition, jobrunner.ErrKindTerminalState:
		s.writeError(w, http.StatusConflict, &ErrorResponse{
			ErrorType:    ErrorTypeConflict,
			ErrorCode:    "INVALID_STATE",
			ErrorMessage: jErr.Message,
			Retryable:    false,
			Details:      map[string]interface{}{"job_id": jErr.JobID},
		})
	case jobrunner.ErrKindResourceLimit:
		s.writeError(w, http.StatusServiceUnavailable, &ErrorResponse{
			ErrorType:    ErrorTypeResourceExhausted,
			ErrorCode:    "RESOURCE_LIMIT",
			ErrorMessage: jErr.Message,
			Retryable:    true,
			Details:      map[string]interface{}{"job_id": jErr.JobID, "limit": jErr.Limit},
		})
	default:
		s.writeError(w, http.StatusInternalServerError, NewInternalErrorResponse(jErr.Message))
	}
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req types.JobRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, NewInvalidRequestErrorResponse(
			"Request body is not valid JSON",
			map[string]interface{}{"error": err.Error()},
		))
		return
	}

	report := s.validator.ValidateJobRequest(&req)
	if !report.OK {
		s.writeError(w, http.StatusBadRequest, NewValidationErrorResponse(report))
		return
	}

	state, err := s.manager.Submit(r.Context(), &req)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/jobs/%s", state.JobID))
	s.writeJSON(w, http.StatusAccepted, state)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	states, err := s.manager.List(r.Context())
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": states})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	state, err := s.manager.Get(r.Context(), jobID)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	state, err := s.manager.Cancel(r.Context(), jobID)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleDownloadOutput(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	filename := chi.URLParam(r, "filename")

	path, err := s.manager.OutputPath(r.Context(), jobID, filename)
	if err != nil {
		s.writeJobError(w, err)
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, NewInternalErrorResponse("output file unavailable"))
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))
	http.ServeFile(w, r, path)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":      "ok",
		"time":        time.Now().UTC().Format(time.RFC3339),
		"active_jobs": s.manager.ActiveCount(),
		"goroutines":  runtime.NumGoroutine(),
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		health["memory_used_percent"] = vm.UsedPercent
	}
	s.writeJSON(w, http.StatusOK, health)
}
