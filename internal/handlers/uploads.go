package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sweetcrumb/accounts/internal/logger"
	"github.com/sweetcrumb/accounts/internal/storage"
)

// UploadsHandler serves stored profile pictures.
type UploadsHandler struct {
	pics *storage.ProfilePics
}

func NewUploadsHandler(pics *storage.ProfilePics) *UploadsHandler {
	return &UploadsHandler{pics: pics}
}

// UploadsRouter registers the picture route. Mount it at storage.URLPrefix.
func UploadsRouter(r chi.Router, pics *storage.ProfilePics) {
	handler := NewUploadsHandler(pics)
	r.Get("/*", handler.Get)
}

func (h *UploadsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.pics == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	body, contentType, err := h.pics.Open(r.Context(), chi.URLParam(r, "*"))
	if err != nil {
		if errors.Is(err, storage.ErrInvalidKey) || errors.Is(err, storage.ErrObjectNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		logger.FromContext(r.Context()).ErrorContext(r.Context(), "open profile picture", "error", err)
		writeError(w, http.StatusBadGateway, "failed to load picture")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}
