package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/useraccounts/apiserver/internal/logging"
	"github.com/useraccounts/apiserver/internal/services"
	"github.com/useraccounts/apiserver/internal/store"
)

const (
	formFieldProfileImage = "profileImage"
	maxMultipartMemory    = 8 << 20
	multipartOverhead     = 64 << 10
)

// ImageHandler provides HTTP handlers for profile images.
type ImageHandler struct {
	images *services.ImageService
	log    logging.Logger
}

// NewImageHandler constructs a handler with the provided service.
func NewImageHandler(images *services.ImageService, log logging.Logger) *ImageHandler {
	return &ImageHandler{images: images, log: log}
}

// ImageRouter registers profile image routes. Every route requires authentication.
func ImageRouter(r chi.Router, handler *ImageHandler, authMiddleware, limit func(http.Handler) http.Handler) {
	r.MethodNotAllowed(MethodNotAllowed)
	r.NotFound(NotFound)

	r.Group(func(r chi.Router) {
		r.Use(limit, authMiddleware)
		r.Post("/", handler.Upload)
		r.Get("/", handler.Get)
		r.Delete("/", handler.Delete)
	})
}

func (h *ImageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		unauthorized(w)
		return
	}
	if r.URL.RawQuery != "" {
		writeError(w, http.StatusBadRequest, errUnexpectedQuery.Error())
		return
	}

	upload, err := h.parseUpload(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	image, err := h.images.Upload(r.Context(), user.ID, upload)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to upload profile image")
		return
	}

	writeJSON(w, http.StatusCreated, image)
}

func (h *ImageHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		unauthorized(w)
		return
	}
	if r.URL.RawQuery != "" {
		writeError(w, http.StatusBadRequest, errUnexpectedQuery.Error())
		return
	}

	image, err := h.images.Get(r.Context(), user.ID)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to fetch profile image")
		return
	}

	writeJSON(w, http.StatusOK, image)
}

func (h *ImageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		unauthorized(w)
		return
	}
	if r.URL.RawQuery != "" {
		writeError(w, http.StatusBadRequest, errUnexpectedQuery.Error())
		return
	}

	if err := h.images.Delete(r.Context(), user.ID); err != nil {
		h.writeServiceError(w, r, err, "failed to delete profile image")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// parseUpload reads a multipart form holding exactly one file under
// profileImage and nothing else.
func (h *ImageHandler) parseUpload(w http.ResponseWriter, r *http.Request) (services.ImageUpload, error) {
	maxBytes := h.images.MaxBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return services.ImageUpload{}, services.ErrImageTooLarge
		}
		return services.ImageUpload{}, errors.New("invalid multipart form")
	}
	form := r.MultipartForm
	defer func() {
		_ = form.RemoveAll()
	}()

	if len(form.Value) > 0 {
		return services.ImageUpload{}, errors.New("only the profileImage file is allowed")
	}
	for name := range form.File {
		if name != formFieldProfileImage {
			return services.ImageUpload{}, fmt.Errorf("unknown form field %q", name)
		}
	}
	files := form.File[formFieldProfileImage]
	if len(files) == 0 {
		return services.ImageUpload{}, errors.New("profileImage file is required")
	}
	if len(files) > 1 {
		return services.ImageUpload{}, errors.New("only one profileImage file is allowed")
	}

	header := files[0]
	if header.Size > maxBytes {
		return services.ImageUpload{}, services.ErrImageTooLarge
	}
	data, err := readFileLimited(header, maxBytes)
	if err != nil {
		return services.ImageUpload{}, err
	}

	return services.ImageUpload{FileName: header.Filename, Data: data}, nil
}

func readFileLimited(header *multipart.FileHeader, limit int64) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, errors.New("failed to read uploaded file")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, errors.New("failed to read uploaded file")
	}
	if int64(len(data)) > limit {
		return nil, services.ErrImageTooLarge
	}
	return data, nil
}

func (h *ImageHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, services.ErrImageExists),
		errors.Is(err, services.ErrInvalidImage),
		errors.Is(err, services.ErrImageTooLarge):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrImageNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrStorageDisabled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case store.IsUnavailable(err):
		h.log.Error(r.Context(), fallback, "error", err)
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		h.log.Error(r.Context(), fallback, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
