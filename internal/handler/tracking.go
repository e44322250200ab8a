package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/mailchymp/mailchymp/internal/tracking"
)

// TrackOpen serves the open pixel. It always answers with the GIF, even
// for unknown tokens or when recording fails.
func (h *Handler) TrackOpen(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSuffix(strings.TrimSpace(r.PathValue("file")), ".gif")
	h.trackingSvc.RecordOpen(r.Context(), token)

	hdr := w.Header()
	hdr.Set("Content-Type", "image/gif")
	hdr.Set("Content-Length", strconv.Itoa(len(tracking.PixelGIF)))
	hdr.Set("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
	hdr.Set("Pragma", "no-cache")
	hdr.Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	w.Write(tracking.PixelGIF)
}

// TrackClick counts a click and redirects to the original link
func (h *Handler) TrackClick(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.PathValue("token"))
	raw := r.URL.Query().Get("url")
	if token == "" || raw == "" {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	target, err := h.trackingSvc.RecordClick(r.Context(), token, raw)
	if err != nil {
		http.Error(w, "Invalid URL", http.StatusBadRequest)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}
