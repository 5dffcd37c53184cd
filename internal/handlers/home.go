package handlers

import (
	"net/http"
	"path/filepath"
)

// Home serves the upload page.
// GET /
func (h *Handlers) Home(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, filepath.Join(h.staticDir, "index.html"))
}
