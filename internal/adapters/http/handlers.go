package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/jobrunner/seriesview/internal/domain"
)

const (
	maxRequestBody   = 1 << 20 // 1 MiB
	defaultListLimit = 50
	maxListLimit     = 500
	maxWaitTimeout   = 5 * time.Minute
	waitWriteSlack   = 5 * time.Second
)

// OpenSeriesRequest is the body of POST /api/v1/series/open.
type OpenSeriesRequest struct {
	Locators []string `json:"locators"`
	Format   string   `json:"format,omitempty"`
}

// handleOpenSeries accepts a series and starts the workflow in the background.
func (s *Server) handleOpenSeries(w http.ResponseWriter, r *http.Request) {
	var body OpenSeriesRequest

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	format, err := domain.ParseFormat(body.Format)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	inv, err := s.series.Submit(r.Context(), domain.DownloadRequest{
		Locators: body.Locators,
		Format:   format,
	})
	if err != nil {
		s.handleSeriesError(w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/invocations/"+inv.ID)
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"id":    inv.ID,
		"state": inv.State,
	})
}

// handleGetInvocation returns the current snapshot of an invocation.
func (s *Server) handleGetInvocation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	inv, err := s.series.Get(r.Context(), id)
	if err != nil {
		s.handleSeriesError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, formatInvocation(inv, time.Now()))
}

// handleWaitInvocation blocks until the invocation finishes or the timeout
// passes, then returns the snapshot. A timed out wait is not an error; the
// snapshot reports done=false.
func (s *Server) handleWaitInvocation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	timeout := 30 * time.Second
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid timeout parameter")
			return
		}
		timeout = min(d, maxWaitTimeout)
	}

	timeout = s.extendWriteDeadline(w, timeout)

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	if _, err := s.series.Wait(ctx, id); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		s.handleSeriesError(w, err)
		return
	}

	inv, err := s.series.Get(r.Context(), id)
	if err != nil {
		s.handleSeriesError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, formatInvocation(inv, time.Now()))
}

// extendWriteDeadline moves the connection's write deadline past a wait of
// d so the server's WriteTimeout does not cut the response off. When the
// writer cannot extend it, the wait is shortened to fit the configured
// timeout instead.
func (s *Server) extendWriteDeadline(w http.ResponseWriter, d time.Duration) time.Duration {
	err := http.NewResponseController(w).SetWriteDeadline(time.Now().Add(d + waitWriteSlack))
	if err == nil {
		return d
	}

	s.logger.Debug("cannot extend write deadline", "error", err)
	if wt := s.config.WriteTimeout; wt > 0 && d > wt-waitWriteSlack {
		d = max(wt-waitWriteSlack, wt/2)
	}
	return d
}

// handleListInvocations returns recent invocations, newest first.
func (s *Server) handleListInvocations(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > maxListLimit {
			s.writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = v
	}

	list, err := s.series.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing invocations failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to list invocations")
		return
	}

	now := time.Now()
	response := make([]map[string]interface{}, len(list))
	for i := range list {
		response[i] = formatInvocation(list[i], now)
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"invocations": response,
		"count":       len(response),
	})
}

// handleHealth returns detailed health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	details := s.health.GetHealthDetails(r.Context())

	status := http.StatusOK
	if !details.Healthy {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":             boolToStatus(details.Healthy),
		"ready":              details.Ready,
		"active_invocations": details.ActiveInvocations,
		"components":         details.Components,
	})
}

// handleLiveness returns liveness status.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsHealthy(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

// handleReadiness returns readiness status.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsReady(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
}

// formatInvocation formats an invocation for JSON output. Failure details
// stay in the logs; clients only see the coarse reason.
func formatInvocation(inv domain.Invocation, now time.Time) map[string]interface{} {
	out := map[string]interface{}{
		"id":          inv.ID,
		"state":       inv.State,
		"format":      inv.Request.Format,
		"files":       inv.Request.ExpectedFiles(),
		"staging_dir": inv.StagingDir,
		"started_at":  inv.StartedAt,
		"duration_ms": inv.Duration(now).Milliseconds(),
		"done":        inv.Done(),
	}

	if inv.Done() {
		out["finished_at"] = inv.FinishedAt
		out["outcome"] = map[string]interface{}{
			"ok":     inv.Outcome.OK(),
			"reason": inv.Outcome.Reason,
		}
	}

	return out
}

// handleSeriesError maps service errors to HTTP status codes.
func (s *Server) handleSeriesError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr):
		s.writeError(w, http.StatusBadRequest, validationErr.Message)
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrUnsupported):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "Invocation not found")
	case errors.Is(err, domain.ErrUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, "Service unavailable")
	default:
		s.logger.Error("series request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Request failed")
	}
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func boolToStatus(b bool) string {
	if b {
		return "ok"
	}
	return "unhealthy"
}
