package http

import (
	"encoding/json"
	"net/http"
	"time"
)

// handleHealth answers 200 with the full status, or 503 when a required
// check failed. Degraded optional checks still answer 200.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if status.Version == "" {
		status.Version = s.deps.Version
	}

	code := http.StatusOK
	switch {
	case !status.Healthy:
		code = http.StatusServiceUnavailable
		s.logger.Warn("health check failed", "message", status.Message, "request_id", RequestID(r.Context()))
	case len(status.Degraded) > 0:
		s.logger.Debug("running degraded", "degraded", status.Degraded)
	}
	writeJSON(w, code, status)
}

// handleReady is the readiness probe.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Ready {
		writeJSON(w, http.StatusServiceUnavailable, probeBody{Status: "not_ready", Reason: status.Message})
		return
	}
	writeJSON(w, http.StatusOK, probeBody{Status: "ready"})
}

// handleLive is the liveness probe. It never touches a dependency.
func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, probeBody{Status: "alive"})
}

type probeBody struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSES
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse is the envelope of every ops response.
type JSONResponse struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     *APIError `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, JSONResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeEnvelope(w, status, JSONResponse{Error: &APIError{Code: code, Message: message}})
}

func writeEnvelope(w http.ResponseWriter, status int, body JSONResponse) {
	body.Timestamp = time.Now().UTC()
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
