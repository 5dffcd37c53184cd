package handlers

import (
	"net/http"
	"os"
	"os/exec"
)

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// HealthCheck reports that the server is up.
// GET /health/
func (h *Handlers) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSONStatusCode(w, HealthResponse{Status: "healthy", Message: "Chromi is running!"}, http.StatusOK)
}

// LivenessCheck is a simple liveness probe (always returns 200 if server is running)
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	// For HEAD requests, only send headers (no body)
	if r.Method != http.MethodHead {
		writeJSON(w, map[string]string{
			"status": "alive",
		})
	}
}

// ReadinessCheck returns 200 only when conversions can run: ffmpeg is on
// PATH and the output directory accepts new files.
func (h *Handlers) ReadinessCheck(w http.ResponseWriter, _ *http.Request) {
	if reason := h.notReadyReason(); reason != "" {
		writeJSONStatusCode(w, map[string]string{
			"status": "not_ready",
			"reason": reason,
		}, http.StatusServiceUnavailable)
		return
	}
	writeJSONStatusCode(w, map[string]string{"status": "ready"}, http.StatusOK)
}

func (h *Handlers) notReadyReason() string {
	if _, err := exec.LookPath(h.ffmpegPath); err != nil {
		return "ffmpeg not found"
	}
	if h.converted == nil {
		return "work directory not configured"
	}
	f, err := os.CreateTemp(h.converted.Dir(), ".ready-*")
	if err != nil {
		return "work directory not writable"
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return ""
}
