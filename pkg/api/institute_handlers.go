package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/lectern/pkg/httputil"
	"github.com/platinummonkey/lectern/pkg/institutes"
	"github.com/platinummonkey/lectern/pkg/licensing"
	"github.com/platinummonkey/lectern/pkg/permissions"
	"github.com/platinummonkey/lectern/pkg/quota"
)

// InstituteHandlers serves the institute hierarchy and its statistics
type InstituteHandlers struct {
	institutes *institutes.Service
	quota      *quota.Tracker
	ledger     *licensing.Service
	authz      *permissions.Authorizer
}

// NewInstituteHandlers creates a new InstituteHandlers
func NewInstituteHandlers(svc *institutes.Service, tracker *quota.Tracker, ledger *licensing.Service, authz *permissions.Authorizer) *InstituteHandlers {
	return &InstituteHandlers{institutes: svc, quota: tracker, ledger: ledger, authz: authz}
}

// RegisterRoutes registers hierarchy routes
func (h *InstituteHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/institutes", h.CreateInstitute).Methods(http.MethodPost)
	router.HandleFunc("/institutes/by-slug/{slug}", h.GetInstituteBySlug).Methods(http.MethodGet)
	router.HandleFunc("/institutes/{institute_id:[0-9]+}", h.GetInstitute).Methods(http.MethodGet)
	router.HandleFunc("/institutes/{institute_id:[0-9]+}/statistics", h.GetStatistics).Methods(http.MethodGet)

	router.HandleFunc("/institutes/{institute_id:[0-9]+}/classes", h.CreateClass).Methods(http.MethodPost)
	router.HandleFunc("/institutes/{institute_id:[0-9]+}/classes", h.ListClasses).Methods(http.MethodGet)
	router.HandleFunc("/classes/{class_id:[0-9]+}", h.GetClass).Methods(http.MethodGet)
	router.HandleFunc("/classes/{class_id:[0-9]+}", h.DeleteClass).Methods(http.MethodDelete)

	router.HandleFunc("/classes/{class_id:[0-9]+}/subjects", h.CreateSubject).Methods(http.MethodPost)
	router.HandleFunc("/classes/{class_id:[0-9]+}/subjects", h.ListSubjects).Methods(http.MethodGet)
	router.HandleFunc("/subjects/{subject_id:[0-9]+}", h.DeleteSubject).Methods(http.MethodDelete)

	router.HandleFunc("/classes/{class_id:[0-9]+}/sections", h.CreateSection).Methods(http.MethodPost)
	router.HandleFunc("/classes/{class_id:[0-9]+}/sections", h.ListSections).Methods(http.MethodGet)
	router.HandleFunc("/sections/{section_id:[0-9]+}", h.DeleteSection).Methods(http.MethodDelete)
}

type nameRequest struct {
	Name string `json:"name"`
}

// StatisticsResponse combines usage counters with purchased storage
type StatisticsResponse struct {
	Institute    *quota.InstituteStatistics   `json:"institute_statistics"`
	License      *licensing.LicenseStatistics `json:"license_statistics"`
	StorageLimit float64                      `json:"storage_limit"`
}

func (h *InstituteHandlers) CreateInstitute(w http.ResponseWriter, r *http.Request) {
	pid, ok := principalID(w, r)
	if !ok {
		return
	}
	var req nameRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	inst, err := h.institutes.CreateInstitute(r.Context(), pid, req.Name)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, inst)
}

func (h *InstituteHandlers) GetInstitute(w http.ResponseWriter, r *http.Request) {
	pid, ok := principalID(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "institute_id")
	if !ok {
		return
	}
	inst, err := h.institutes.GetInstitute(r.Context(), pid, id)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, inst)
}

func (h *InstituteHandlers) GetInstituteBySlug(w http.ResponseWriter, r *http.Request) {
	pid, ok := principalID(w, r)
	if !ok {
		return
	}
	inst, err := h.institutes.GetInstituteBySlug(r.Context(), pid, mux.Vars(r)["slug"])
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, inst)
}

// GetStatistics is an admin read of both usage and license aggregates
func (h *InstituteHandlers) GetStatistics(w http.ResponseWriter, r *http.Request) {
	pid, ok := principalID(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "institute_id")
	if !ok {
		return
	}
	ctx := r.Context()
	if err := h.authz.RequireAdmin(ctx, id, pid); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	stats, err := h.quota.Statistics(ctx, id)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	license, err := h.ledger.LicenseStatistics(ctx, id)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	limit, err := h.quota.StorageLimit(ctx, id)
	if err != nil && !errors.Is(err, quota.ErrNoActiveLicense) {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, StatisticsResponse{Institute: stats, License: license, StorageLimit: limit})
}

func (h *InstituteHandlers) CreateClass(w http.ResponseWriter, r *http.Request) {
	pid, ok := principalID(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "institute_id")
	if !ok {
		return
	}
	var req nameRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	class, err := h.institutes.CreateClass(r.Context(), pid, id, req.Name)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, class)
}

func (h *InstituteHandlers) ListClasses(w http.ResponseWriter, r *http.Request) {
	pid, ok := principalID(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "institute_id")
	if !ok {
		return
	}
	classes, err := h.institutes.ListClasses(r.Context(), pid, id)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, classes)
}

func (h *InstituteHandlers) GetClass(w http.ResponseWriter, r *http.Request) {
	pid, ok := principalID(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "class_id")
	if !ok {
		return
	}
	class, err := h.institutes.GetClass(r.Context(), pid, id)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, class)
}

func (h *InstituteHandlers) DeleteClass(w http.ResponseWriter, r *http.Request) {
	pid, ok := principalID(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "class_id")
	if !ok {
		return
	}
	if err := h.institutes.DeleteClass(r.Context(), pid, id); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *InstituteHandlers) CreateSubject(w http.ResponseWriter, r *http.Request) {
	pid, ok := principalID(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "class_id")
	if !ok {
		return
	}
	var req nameRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	subject, err := h.institutes.CreateSubject(r.Context(), pid, id, req.Name)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, subject)
}

func (h *InstituteHandlers) ListSubjects(w http.ResponseWriter, r *http.Request) {
	pid, ok := principalID(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "class_id")
	if !ok {
		return
	}
	subjects, err := h.institutes.ListSubjects(r.Context(), pid, id)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, subjects)
}

func (h *InstituteHandlers) DeleteSubject(w http.ResponseWriter, r *http.Request) {
	pid, ok := principalID(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "subject_id")
	if !ok {
		return
	}
	if err := h.institutes.DeleteSubject(r.Context(), pid, id); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *InstituteHandlers) CreateSection(w http.ResponseWriter, r *http.Request) {
	pid, ok := principalID(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "class_id")
	if !ok {
		return
	}
	var req nameRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	section, err := h.institutes.CreateSection(r.Context(), pid, id, req.Name)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, section)
}

func (h *InstituteHandlers) ListSections(w http.ResponseWriter, r *http.Request) {
	pid, ok := principalID(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "class_id")
	if !ok {
		return
	}
	sections, err := h.institutes.ListSections(r.Context(), pid, id)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, sections)
}

func (h *InstituteHandlers) DeleteSection(w http.ResponseWriter, r *http.Request) {
	pid, ok := principalID(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "section_id")
	if !ok {
		return
	}
	if err := h.institutes.DeleteSection(r.Context(), pid, id); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
