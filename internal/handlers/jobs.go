package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"chromi/internal/logging"
	"chromi/internal/queue"
)

// JobResponse reports a queued conversion.
type JobResponse struct {
	ID           string        `json:"id"`
	Status       string        `json:"status"`
	Result       *queue.Result `json:"result,omitempty"`
	ConvertedURL string        `json:"converted_url,omitempty"`
}

// JobStatus reports the state of a queued conversion.
// GET /jobs/{id}/
func (h *Handlers) JobStatus(w http.ResponseWriter, r *http.Request) {
	if !h.jobs.Enabled() {
		writeJSONError(w, "Job queue is not enabled", http.StatusBadRequest)
		return
	}

	id := mux.Vars(r)["id"]
	st, err := h.jobs.Fetch(r.Context(), id)
	switch {
	case errors.Is(err, queue.ErrJobNotFound):
		writeJSONError(w, "Job not found", http.StatusNotFound)
		return
	case err != nil:
		logging.Error("Failed to fetch job %s: %v", id, err)
		writeJSONError(w, "Job queue unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSONStatusCode(w, JobResponse{
		ID:           st.ID,
		Status:       st.Status,
		Result:       st.Result,
		ConvertedURL: st.ConvertedURL(),
	}, http.StatusOK)
}
