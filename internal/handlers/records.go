package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-service-tracker/internal/models"
	"github.com/ukydev/fleet-service-tracker/internal/status"
	"github.com/ukydev/fleet-service-tracker/internal/store"
	"github.com/ukydev/fleet-service-tracker/internal/tracker"
)

// Service is the set of widget actions the handlers expose.
type Service interface {
	Submit(ctx context.Context, model string, workNames []string, d status.Details) (models.VehicleRecord, error)
	Filter(query string) []models.VehicleRecord
	Get(id int64) (models.VehicleRecord, error)
	Select(ctx context.Context, id int64) (models.VehicleRecord, error)
	Toggle(ctx context.Context, id int64, itemID string) (models.VehicleRecord, error)
	ToggleByName(ctx context.Context, id int64, name string) (models.VehicleRecord, error)
	StartWork(ctx context.Context, id int64) (models.VehicleRecord, error)
	BeginEdit(ctx context.Context, id int64) (models.VehicleRecord, error)
	SaveEdit(ctx context.Context, id int64, p status.Patch) (models.VehicleRecord, error)
	CancelEdit(ctx context.Context) error
	Delete(ctx context.Context, id int64) error
	ActivateTab(ctx context.Context, tab string) error
	Session() models.SessionState
	Restore(ctx context.Context) (tracker.View, error)
}

// CreateRequest is the add-form payload. Work may be given as a list or as
// free text split on newlines and commas.
type CreateRequest struct {
	Model     string         `json:"model"`
	WorkItems []string       `json:"workItems"`
	Work      string         `json:"work"`
	Details   status.Details `json:"details"`
}

// TabRequest switches the visible pane.
type TabRequest struct {
	Tab string `json:"tab"`
}

// ToggleRequest names the work item to flip.
type ToggleRequest struct {
	Name string `json:"name"`
}

// EditRequest opens a record in the edit form.
type EditRequest struct {
	ID int64 `json:"id"`
}

type errorResponse struct {
	Error  string                `json:"error"`
	Record *models.VehicleRecord `json:"record,omitempty"`
}

// RecordHandler serves the widget's JSON API.
type RecordHandler struct {
	service Service
	log     logrus.FieldLogger
}

// NewRecordHandler creates a new record handler
func NewRecordHandler(service Service, logger logrus.FieldLogger) *RecordHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RecordHandler{service: service, log: logger}
}

// Register mounts the routes on mux.
func (h *RecordHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/records", h.List)
	mux.HandleFunc("POST /api/records", h.Create)
	mux.HandleFunc("GET /api/records/{id}", h.Select)
	mux.HandleFunc("PUT /api/records/{id}", h.SaveEdit)
	mux.HandleFunc("DELETE /api/records/{id}", h.Delete)
	mux.HandleFunc("POST /api/records/{id}/start", h.StartWork)
	mux.HandleFunc("POST /api/records/{id}/items/{itemID}/toggle", h.Toggle)
	mux.HandleFunc("POST /api/records/{id}/toggle", h.ToggleByName)
	mux.HandleFunc("GET /api/session", h.Restore)
	mux.HandleFunc("PUT /api/session/tab", h.ActivateTab)
	mux.HandleFunc("POST /api/session/editing", h.BeginEdit)
	mux.HandleFunc("DELETE /api/session/editing", h.CancelEdit)
	mux.HandleFunc("GET /health", h.Health)
}

// List handles record listing with an optional ?q= model filter
func (h *RecordHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Filter(r.URL.Query().Get("q")))
}

// Create handles the add form
func (h *RecordHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	names := req.WorkItems
	if len(names) == 0 && req.Work != "" {
		names = status.SplitWorkNames(req.Work)
	}
	rec, err := h.service.Submit(r.Context(), req.Model, names, req.Details)
	if err != nil {
		h.writeError(w, err, &rec)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// Select handles opening one record
func (h *RecordHandler) Select(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rec, err := h.service.Select(r.Context(), id)
	if err != nil {
		h.writeError(w, err, &rec)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// SaveEdit handles the edit form submit. The path id must match the record
// open for editing.
func (h *RecordHandler) SaveEdit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var patch status.Patch
	if !decodeBody(w, r, &patch) {
		return
	}
	rec, err := h.service.SaveEdit(r.Context(), id, patch)
	if err != nil {
		h.writeError(w, err, &rec)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Delete handles record removal
func (h *RecordHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.writeError(w, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StartWork handles the start-work button
func (h *RecordHandler) StartWork(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rec, err := h.service.StartWork(r.Context(), id)
	if err != nil {
		h.writeError(w, err, &rec)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Toggle handles a work item checkbox
func (h *RecordHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rec, err := h.service.Toggle(r.Context(), id, r.PathValue("itemID"))
	if err != nil {
		h.writeError(w, err, &rec)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ToggleByName flips the first work item with the requested name
func (h *RecordHandler) ToggleByName(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req ToggleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		http.Error(w, "Work item name is required", http.StatusBadRequest)
		return
	}
	rec, err := h.service.ToggleByName(r.Context(), id, req.Name)
	if err != nil {
		h.writeError(w, err, &rec)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Restore returns the view to show after a reload
func (h *RecordHandler) Restore(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Restore(r.Context())
	if err != nil {
		h.writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ActivateTab handles tab clicks
func (h *RecordHandler) ActivateTab(w http.ResponseWriter, r *http.Request) {
	var req TabRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.service.ActivateTab(r.Context(), req.Tab); err != nil {
		h.writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, h.service.Session())
}

// BeginEdit opens the edit form
func (h *RecordHandler) BeginEdit(w http.ResponseWriter, r *http.Request) {
	var req EditRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rec, err := h.service.BeginEdit(r.Context(), req.ID)
	if err != nil {
		h.writeError(w, err, &rec)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// CancelEdit closes the edit form
func (h *RecordHandler) CancelEdit(w http.ResponseWriter, r *http.Request) {
	if err := h.service.CancelEdit(r.Context()); err != nil {
		h.writeError(w, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Health reports liveness
func (h *RecordHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeError maps tracker errors to status codes. A persistence failure
// still returns the record, since the change is live in memory.
func (h *RecordHandler) writeError(w http.ResponseWriter, err error, rec *models.VehicleRecord) {
	switch {
	case tracker.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case tracker.IsConflict(err):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case tracker.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case store.IsPersistenceError(err):
		h.log.WithError(err).Warn("Change not persisted")
		resp := errorResponse{Error: "changes may not survive a reload: " + err.Error()}
		if rec != nil && rec.ID != 0 {
			resp.Record = rec
		}
		writeJSON(w, http.StatusInsufficientStorage, resp)
	default:
		h.log.WithError(err).Error("Request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid record ID", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(body, out); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) || len(body) == 0 {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return false
		}
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
