package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"chromi/internal/filesystem"
	"chromi/internal/logging"
	"chromi/internal/mediatypes"
	"chromi/internal/streaming"
	"chromi/internal/tokens"
)

const downloadFilename = "chromi-background.gif"

// Download redeems a token and streams its GIF once. The token is spent
// and the file released whether or not the transfer completes.
// GET /download/{token}/
func (h *Handlers) Download(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]

	path, err := h.tokens.TakeOnce(r.Context(), token)
	if err != nil {
		if !errors.Is(err, tokens.ErrTokenNotFound) {
			logging.Error("Token lookup failed: %v", err)
		}
		writeJSONError(w, "File not found or expired", http.StatusNotFound)
		return
	}
	defer func() {
		if err := h.converted.Release(path); err != nil {
			logging.Warn("Failed to release download: %v", err)
		}
	}()

	f, err := filesystem.OpenWithRetry(path, filesystem.DefaultRetryConfig())
	if err != nil {
		logging.Error("Token pointed at unreadable file: %v", err)
		writeJSONError(w, "File not found or expired", http.StatusNotFound)
		return
	}
	defer func() {
		if err := f.Close(); err != nil {
			logging.Warn("Failed to close download: %v", err)
		}
	}()

	w.Header().Set("Content-Type", mediatypes.GIF)
	w.Header().Set("Content-Disposition", `attachment; filename="`+downloadFilename+`"`)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if info, err := f.Stat(); err == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	}
	w.WriteHeader(http.StatusOK)

	n, err := streaming.Copy(r.Context(), w, f, streaming.DefaultConfig())
	switch {
	case errors.Is(err, streaming.ErrClientGone):
		logging.Info("Client left after %d bytes of download", n)
	case err != nil:
		logging.Warn("Download interrupted after %d bytes: %v", n, err)
	}
}
