package handlers

import (
	"errors"
	"net/http"

	"chromi/internal/converter"
	"chromi/internal/logging"
)

const (
	// Form fields beyond the video itself.
	multipartOverhead = 1 << 20
	// Multipart bodies above this are spooled to disk by net/http.
	multipartMemory = 8 << 20
)

// ConvertResponse is returned by a synchronous conversion.
type ConvertResponse struct {
	Success      bool   `json:"success"`
	ConvertedURL string `json:"converted_url"`
}

// EnqueuedResponse is returned when the conversion was queued.
type EnqueuedResponse struct {
	Enqueued bool   `json:"enqueued"`
	JobID    string `json:"job_id"`
}

// Convert accepts a clip and returns a download URL or a job ID.
// POST /convert/ (multipart: video, start_time, duration)
func (h *Handlers) Convert(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeConvertError(w, converter.ErrUploadTooLarge)
			return
		}
		logging.Debug("Unreadable convert form: %v", err)
		writeConvertError(w, converter.ErrNoVideo)
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			logging.Warn("Failed to remove multipart temp files: %v", err)
		}
	}()

	file, header, err := r.FormFile("video")
	if err != nil {
		writeConvertError(w, converter.ErrNoVideo)
		return
	}
	defer func() {
		if err := file.Close(); err != nil {
			logging.Warn("Failed to close uploaded file: %v", err)
		}
	}()

	out, err := h.conv.Convert(r.Context(), converter.Upload{
		Filename:  header.Filename,
		Body:      file,
		StartTime: r.FormValue("start_time"),
		Duration:  r.FormValue("duration"),
	})
	if err != nil {
		writeConvertError(w, err)
		return
	}

	if out.Enqueued {
		writeJSONStatusCode(w, EnqueuedResponse{Enqueued: true, JobID: out.JobID}, http.StatusOK)
		return
	}
	writeJSONStatusCode(w, ConvertResponse{Success: true, ConvertedURL: out.ConvertedURL}, http.StatusOK)
}

// writeConvertError is the one place conversion errors become HTTP
// responses. Details go to the log, the caller gets converter.Message.
func writeConvertError(w http.ResponseWriter, err error) {
	status := convertErrorStatus(err)
	if status >= http.StatusInternalServerError {
		logging.Error("Conversion failed: %v", err)
	} else {
		logging.Warn("Conversion rejected: %v", err)
	}
	writeJSONError(w, converter.Message(err), status)
}

func convertErrorStatus(err error) int {
	switch {
	case errors.Is(err, converter.ErrNoVideo),
		errors.Is(err, converter.ErrUnsupportedFormat),
		errors.Is(err, converter.ErrStartExceedsDuration):
		return http.StatusBadRequest
	case errors.Is(err, converter.ErrUploadTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		// Queue outages land here too: a configured queue that is down is a
		// server fault, not something the caller can retry around.
		return http.StatusInternalServerError
	}
}
