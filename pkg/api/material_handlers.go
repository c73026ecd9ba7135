package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/lectern/pkg/apperr"
	"github.com/platinummonkey/lectern/pkg/content"
	"github.com/platinummonkey/lectern/pkg/httputil"
)

// multipartMemory is how much of an upload is buffered in memory
const multipartMemory = 8 << 20

// MaterialHandlers serves lecture material uploads
type MaterialHandlers struct {
	content   *content.Service
	maxUpload int64
}

// NewMaterialHandlers creates a new MaterialHandlers
func NewMaterialHandlers(svc *content.Service, maxUpload int64) *MaterialHandlers {
	return &MaterialHandlers{content: svc, maxUpload: maxUpload}
}

// RegisterRoutes registers material routes
func (h *MaterialHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/subjects/{subject_id:[0-9]+}/materials", h.Upload).Methods(http.MethodPost)
	router.HandleFunc("/subjects/{subject_id:[0-9]+}/materials", h.List).Methods(http.MethodGet)
	router.HandleFunc("/materials/{material_id:[0-9]+}", h.Get).Methods(http.MethodGet)
	router.HandleFunc("/materials/{material_id:[0-9]+}", h.Delete).Methods(http.MethodDelete)
}

// Upload takes a multipart form with a "file" part and an optional "title"
func (h *MaterialHandlers) Upload(w http.ResponseWriter, r *http.Request) {
	pid, ok := principalID(w, r)
	if !ok {
		return
	}
	subjectID, ok := httputil.ParsePathInt64OrError(w, r, "subject_id")
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteErrorMessage(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		httputil.WriteBadRequest(w, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.WriteServiceError(w, r, apperr.Validation("file", "file is required"))
		return
	}
	defer file.Close()

	if h.maxUpload > 0 && header.Size > h.maxUpload {
		httputil.WriteErrorMessage(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read file")
		return
	}

	title := r.FormValue("title")
	if title == "" {
		title = header.Filename
	}
	m, err := h.content.Upload(r.Context(), pid, subjectID, title, data)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, m)
}

func (h *MaterialHandlers) List(w http.ResponseWriter, r *http.Request) {
	pid, ok := principalID(w, r)
	if !ok {
		return
	}
	subjectID, ok := httputil.ParsePathInt64OrError(w, r, "subject_id")
	if !ok {
		return
	}
	materials, err := h.content.List(r.Context(), pid, subjectID)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, materials)
}

func (h *MaterialHandlers) Get(w http.ResponseWriter, r *http.Request) {
	pid, ok := principalID(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "material_id")
	if !ok {
		return
	}
	m, err := h.content.Get(r.Context(), pid, id)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, m)
}

func (h *MaterialHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	pid, ok := principalID(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "material_id")
	if !ok {
		return
	}
	if err := h.content.Delete(r.Context(), pid, id); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
