package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-service-tracker/internal/db"
	"github.com/ukydev/fleet-service-tracker/internal/models"
	"github.com/ukydev/fleet-service-tracker/internal/status"
	"github.com/ukydev/fleet-service-tracker/internal/store"
	"github.com/ukydev/fleet-service-tracker/internal/tracker"
)

type switchableStorage struct {
	*db.MemoryStorage
	fail bool
}

func (s *switchableStorage) Set(ctx context.Context, key, value string) error {
	if s.fail {
		return errors.New("quota exceeded")
	}
	return s.MemoryStorage.Set(ctx, key, value)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func setupHandler(t *testing.T) (http.Handler, *switchableStorage) {
	t.Helper()
	storage := &switchableStorage{MemoryStorage: db.NewMemoryStorage()}
	st := store.New(storage, quietLogger())
	require.NoError(t, st.Load(context.Background()))
	tr := tracker.New(st, status.NewEngine(), nil, quietLogger())

	mux := http.NewServeMux()
	NewRecordHandler(tr, quietLogger()).Register(mux)
	return mux, storage
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeRecord(t *testing.T, w *httptest.ResponseRecorder) models.VehicleRecord {
	t.Helper()
	var rec models.VehicleRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	return rec
}

func createCamry(t *testing.T, h http.Handler) models.VehicleRecord {
	t.Helper()
	w := do(t, h, http.MethodPost, "/api/records", CreateRequest{
		Model:     "Toyota Camry",
		WorkItems: []string{"oil change", "brake pads"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeRecord(t, w)
}

func TestCreate(t *testing.T) {
	h, _ := setupHandler(t)

	rec := createCamry(t, h)
	assert.Equal(t, models.StatusNew, rec.Status)
	assert.Len(t, rec.WorkItems, 2)
	assert.Equal(t, models.Unspecified, rec.VIN)
}

func TestCreate_FreeTextWork(t *testing.T) {
	h, _ := setupHandler(t)

	w := do(t, h, http.MethodPost, "/api/records", CreateRequest{Model: "Nissan Leaf", Work: "battery check, tyres"})
	require.Equal(t, http.StatusCreated, w.Code)
	rec := decodeRecord(t, w)
	require.Len(t, rec.WorkItems, 2)
	assert.Equal(t, "tyres", rec.WorkItems[1].Name)
}

func TestCreate_BadRequests(t *testing.T) {
	h, _ := setupHandler(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{"invalid json", "{bad json"},
		{"empty body", ""},
		{"missing model", CreateRequest{WorkItems: []string{"a"}}},
		{"missing work", CreateRequest{Model: "Camry"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/records", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestListAndFilter(t *testing.T) {
	h, _ := setupHandler(t)
	createCamry(t, h)
	do(t, h, http.MethodPost, "/api/records", CreateRequest{Model: "Nissan Leaf", WorkItems: []string{"a"}})

	w := do(t, h, http.MethodGet, "/api/records", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var all []models.VehicleRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	require.Len(t, all, 2)
	assert.Equal(t, "Nissan Leaf", all[0].Model)

	w = do(t, h, http.MethodGet, "/api/records?q=CAMRY", nil)
	var filtered []models.VehicleRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &filtered))
	require.Len(t, filtered, 1)
	assert.Equal(t, "Toyota Camry", filtered[0].Model)
}

func TestToggleStartAndSelect(t *testing.T) {
	h, _ := setupHandler(t)
	rec := createCamry(t, h)

	w := do(t, h, http.MethodGet, fmt.Sprintf("/api/records/%d", rec.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodPost, fmt.Sprintf("/api/records/%d/start", rec.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StatusInProgress, decodeRecord(t, w).Status)

	for _, item := range rec.WorkItems {
		w = do(t, h, http.MethodPost, fmt.Sprintf("/api/records/%d/items/%s/toggle", rec.ID, item.ID), nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	assert.Equal(t, models.StatusCompleted, decodeRecord(t, w).Status)

	w = do(t, h, http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view tracker.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, models.TabCurrent, view.Tab)
	require.NotNil(t, view.Current)
	assert.Equal(t, rec.ID, view.Current.ID)
}

func TestToggleByName(t *testing.T) {
	h, _ := setupHandler(t)
	rec := createCamry(t, h)
	path := fmt.Sprintf("/api/records/%d/toggle", rec.ID)

	w := do(t, h, http.MethodPost, path, ToggleRequest{Name: "brake pads"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decodeRecord(t, w)
	assert.Equal(t, models.WorkPending, got.WorkItems[0].Status)
	assert.Equal(t, models.WorkDone, got.WorkItems[1].Status)
	assert.Equal(t, models.StatusInProgress, got.Status)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, path, ToggleRequest{Name: "tires"}).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, path, ToggleRequest{}).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/api/records/42/toggle", ToggleRequest{Name: "oil change"}).Code)
}

func TestNotFoundAndBadIDs(t *testing.T) {
	h, _ := setupHandler(t)
	rec := createCamry(t, h)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/records/42", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/api/records/42", nil).Code)
	assert.Equal(t, http.StatusNotFound,
		do(t, h, http.MethodPost, fmt.Sprintf("/api/records/%d/items/nope/toggle", rec.ID), nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/records/abc", nil).Code)
}

func TestEditFlow(t *testing.T) {
	h, _ := setupHandler(t)
	rec := createCamry(t, h)
	path := fmt.Sprintf("/api/records/%d", rec.ID)

	patch := status.Patch{Model: "Toyota Camry", WorkItems: []models.WorkItem{{Name: "inspection"}}}
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPut, path, patch).Code)

	w := do(t, h, http.MethodPost, "/api/session/editing", EditRequest{ID: rec.ID})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodPut, path, patch)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	edited := decodeRecord(t, w)
	assert.Equal(t, rec.ID, edited.ID)
	require.Len(t, edited.WorkItems, 1)
	assert.Equal(t, "inspection", edited.WorkItems[0].Name)

	do(t, h, http.MethodPost, "/api/session/editing", EditRequest{ID: rec.ID})
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/api/session/editing", nil).Code)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPut, path, patch).Code)
}

// interleavingService opens another record for editing just before a save
// reaches the tracker.
type interleavingService struct {
	*tracker.Tracker
	other int64
}

func (s *interleavingService) SaveEdit(ctx context.Context, id int64, p status.Patch) (models.VehicleRecord, error) {
	if _, err := s.Tracker.BeginEdit(ctx, s.other); err != nil {
		return models.VehicleRecord{}, err
	}
	return s.Tracker.SaveEdit(ctx, id, p)
}

func TestSaveEdit_OtherRecordOpenedConcurrently(t *testing.T) {
	ctx := context.Background()
	st := store.New(db.NewMemoryStorage(), quietLogger())
	require.NoError(t, st.Load(ctx))
	tr := tracker.New(st, status.NewEngine(), nil, quietLogger())

	a, err := tr.Submit(ctx, "Camry", []string{"oil change"}, status.Details{})
	require.NoError(t, err)
	b, err := tr.Submit(ctx, "Camry", []string{"brake pads"}, status.Details{})
	require.NoError(t, err)
	_, err = tr.BeginEdit(ctx, a.ID)
	require.NoError(t, err)

	mux := http.NewServeMux()
	NewRecordHandler(&interleavingService{Tracker: tr, other: b.ID}, quietLogger()).Register(mux)

	patch := status.Patch{Model: "Camry EDITED", WorkItems: []models.WorkItem{{Name: "inspection"}}}
	w := do(t, mux, http.MethodPut, fmt.Sprintf("/api/records/%d", a.ID), patch)
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	for _, id := range []int64{a.ID, b.ID} {
		rec, err := tr.Get(id)
		require.NoError(t, err)
		assert.Equal(t, "Camry", rec.Model)
	}
}

func TestActivateTab(t *testing.T) {
	h, _ := setupHandler(t)

	w := do(t, h, http.MethodPut, "/api/session/tab", TabRequest{Tab: models.TabList})
	require.Equal(t, http.StatusOK, w.Code)
	var sess models.SessionState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	assert.Equal(t, models.TabList, sess.ActiveTab)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/api/session/tab", TabRequest{Tab: "x"}).Code)
}

func TestDelete(t *testing.T) {
	h, _ := setupHandler(t)
	rec := createCamry(t, h)

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, fmt.Sprintf("/api/records/%d", rec.ID), nil).Code)
	var all []models.VehicleRecord
	require.NoError(t, json.Unmarshal(do(t, h, http.MethodGet, "/api/records", nil).Body.Bytes(), &all))
	assert.Empty(t, all)
}

func TestPersistenceFailure(t *testing.T) {
	h, storage := setupHandler(t)
	storage.fail = true

	w := do(t, h, http.MethodPost, "/api/records", CreateRequest{Model: "Toyota Camry", WorkItems: []string{"a"}})
	assert.Equal(t, http.StatusInsufficientStorage, w.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Record)
	assert.Equal(t, "Toyota Camry", resp.Record.Model)
}

func TestHealth(t *testing.T) {
	h, _ := setupHandler(t)
	w := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
