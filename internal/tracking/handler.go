package tracking

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/mailscope/mailscope/internal/domain"
	"github.com/mailscope/mailscope/internal/pkg/logger"
)

// 1x1 transparent PNG served for every pixel request.
var pixelPNG, _ = base64.StdEncoding.DecodeString(
	"iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg==")

// Handler serves the beacon endpoints. Tracking failures never surface to
// the requester: the pixel always renders and the redirect always happens.
type Handler struct {
	recorder *Recorder
	homeURL  string // fallback redirect for malformed click paths
}

// NewHandler creates a beacon handler. homeURL is where malformed click
// requests are redirected, since the requester is an end user's mail client.
func NewHandler(recorder *Recorder, homeURL string) *Handler {
	return &Handler{recorder: recorder, homeURL: homeURL}
}

// Routes returns the beacon router. Wildcard mounts let the codec own path
// parsing, so percent-encoded segments (including encoded slashes in click
// destinations) survive intact.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/tracking/pixel/*", h.HandlePixel)
	r.Get("/tracking/click/*", h.HandleClick)
	r.Get("/health", h.HandleHealth)
	return r
}

// HandlePixel serves the open beacon. Always 200 with a valid image.
func (h *Handler) HandlePixel(w http.ResponseWriter, r *http.Request) {
	trackingID, recipient, err := ParsePixelPath(r.URL.EscapedPath())
	if err != nil {
		logger.Debug("malformed pixel path", "path", r.URL.Path, "err", err.Error())
		h.servePixel(w)
		return
	}

	if err := h.recorder.RecordOpen(r.Context(), trackingID, recipient, requestMeta(r)); err != nil {
		logger.Error("record open", "tracking_id", trackingID, "err", err.Error())
	}
	h.servePixel(w)
}

// HandleClick records the click (unless suppressed) and redirects to the
// original destination. Malformed paths fall back to the application home
// rather than erroring.
func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	trackingID, recipient, destination, err := ParseClickPath(r.URL.EscapedPath())
	if err != nil {
		logger.Debug("malformed click path", "path", r.URL.Path, "err", err.Error())
		http.Redirect(w, r, h.homeURL, http.StatusFound)
		return
	}

	dest, err := h.recorder.RecordClick(r.Context(), trackingID, recipient, destination, requestMeta(r))
	if err != nil {
		logger.Error("record click", "tracking_id", trackingID, "err", err.Error())
	}
	http.Redirect(w, r, dest, http.StatusFound)
}

// HandleHealth reports liveness for the standalone beacon deployment.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelPNG)
}

func requestMeta(r *http.Request) domain.RequestMeta {
	return domain.RequestMeta{
		IPAddress: realIP(r),
		UserAgent: r.UserAgent(),
	}
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
