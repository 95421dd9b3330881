package media

import (
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/northwind-digital/agency/internal/platform/httpx"
)

// MaxUploadBytes caps a single upload.
const MaxUploadBytes = 10 << 20

var allowedExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}, ".svg": {}, ".mp4": {}, ".webm": {},
}

// Handler accepts multipart uploads.
type Handler struct {
	uploader *Uploader
	logger   *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(uploader *Uploader, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{uploader: uploader, logger: logger}
}

// MountRoutes registers the upload route. Callers wrap it with a role check.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/object/{bucket}", h.handleUpload)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.RespondError(w, httpx.ErrTooLarge)
			return
		}
		httpx.RespondError(w, fmt.Errorf("%w: multipart field file is required", httpx.ErrValidation))
		return
	}
	defer file.Close()

	if header.Size > MaxUploadBytes {
		httpx.RespondError(w, httpx.ErrTooLarge)
		return
	}
	ext := strings.ToLower(path.Ext(header.Filename))
	if _, ok := allowedExtensions[ext]; !ok {
		httpx.RespondError(w, fmt.Errorf("%w: unsupported file type %q", httpx.ErrValidation, ext))
		return
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mime.TypeByExtension(ext)
	}

	url, err := h.uploader.Upload(r.Context(), chi.URLParam(r, "bucket"), header.Filename, contentType, header.Size, file)
	if err != nil {
		if errors.Is(err, ErrUnknownBucket) {
			httpx.RespondError(w, fmt.Errorf("%w: bucket", httpx.ErrNotFound))
			return
		}
		h.logger.Error("media upload", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]string{"url": url})
}
