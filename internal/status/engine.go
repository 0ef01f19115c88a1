// Package status derives a vehicle record's lifecycle status from its work
// items and applies the transitions that change it. Every function takes a
// record value and returns a new one; nothing here touches storage.
//
// Status moves New -> InProgress -> Completed. A toggle that un-finishes a
// work item on a Completed record demotes it to InProgress, never to New.
// New is entered only at creation, or by an edit that replaces the work
// items with a set that has nothing done.
package status

import (
	"fmt"
	"strings"
	"time"

	"github.com/ukydev/fleet-service-tracker/internal/models"
)

// Details are the optional descriptive fields of a record.
type Details struct {
	Year    string       `json:"year"`
	VIN     string       `json:"vin"`
	Mileage string       `json:"mileage"`
	Owner   models.Owner `json:"owner"`
}

// Patch replaces the editable fields of a record. WorkItems entries that
// carry the id of an existing item keep that item's status; entries without
// a known id start out pending.
type Patch struct {
	Model     string            `json:"model"`
	Details   Details           `json:"details"`
	WorkItems []models.WorkItem `json:"workItems"`
}

// Engine applies status transitions. Clock and IDs are injectable for tests.
type Engine struct {
	Clock func() time.Time
	IDs   *IDGenerator
}

// NewEngine creates an engine on the wall clock.
func NewEngine() *Engine {
	return &Engine{Clock: time.Now, IDs: NewIDGenerator(time.Now)}
}

func (e *Engine) now() time.Time {
	if e.Clock == nil {
		return time.Now()
	}
	return e.Clock()
}

// Derive computes the status a record with the given items should have,
// given the status it had before the change.
func Derive(prev models.Status, items []models.WorkItem) models.Status {
	r := models.VehicleRecord{WorkItems: items}
	if r.AllDone() {
		return models.StatusCompleted
	}
	if prev == models.StatusCompleted {
		return models.StatusInProgress
	}
	for _, w := range items {
		if w.Status == models.WorkDone {
			return models.StatusInProgress
		}
	}
	if prev == "" {
		return models.StatusNew
	}
	return prev
}

// CreateRecord builds a new record with every work item pending.
func (e *Engine) CreateRecord(model string, workNames []string, d Details) (models.VehicleRecord, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return models.VehicleRecord{}, fmt.Errorf("model is required: %w", ErrValidation)
	}
	names := cleanNames(workNames)
	if len(names) == 0 {
		return models.VehicleRecord{}, fmt.Errorf("at least one work item is required: %w", ErrValidation)
	}

	items := make([]models.WorkItem, 0, len(names))
	for _, n := range names {
		items = append(items, models.WorkItem{ID: newWorkItemID(), Name: n, Status: models.WorkPending})
	}

	now := e.now()
	rec := models.VehicleRecord{
		ID:              e.nextID(now),
		Model:           model,
		Status:          models.StatusNew,
		StatusUpdatedAt: now,
		WorkItems:       items,
	}
	applyDetails(&rec, d)
	return rec, nil
}

func (e *Engine) nextID(now time.Time) int64 {
	if e.IDs == nil {
		return now.UnixMilli()
	}
	return e.IDs.Next()
}

// ToggleWorkItem flips the item with the given id between pending and done.
func (e *Engine) ToggleWorkItem(rec models.VehicleRecord, itemID string) (models.VehicleRecord, error) {
	for i, w := range rec.WorkItems {
		if w.ID == itemID {
			return e.toggleAt(rec, i), nil
		}
	}
	return rec, fmt.Errorf("work item %q on record %d: %w", itemID, rec.ID, ErrNotFound)
}

// ToggleWorkItemByName flips the first item whose name matches. Records
// with repeated names only ever toggle the first of them; prefer
// ToggleWorkItem.
func (e *Engine) ToggleWorkItemByName(rec models.VehicleRecord, name string) (models.VehicleRecord, error) {
	for i, w := range rec.WorkItems {
		if w.Name == name {
			return e.toggleAt(rec, i), nil
		}
	}
	return rec, fmt.Errorf("work item named %q on record %d: %w", name, rec.ID, ErrNotFound)
}

func (e *Engine) toggleAt(rec models.VehicleRecord, i int) models.VehicleRecord {
	next := rec.Clone()
	if next.WorkItems[i].Status == models.WorkDone {
		next.WorkItems[i].Status = models.WorkPending
	} else {
		next.WorkItems[i].Status = models.WorkDone
	}
	e.setStatus(&next, Derive(rec.Status, next.WorkItems))
	return next
}

// StartWork moves a New record to InProgress. Any other record is returned
// unchanged.
func (e *Engine) StartWork(rec models.VehicleRecord) models.VehicleRecord {
	if rec.Status != models.StatusNew {
		return rec
	}
	next := rec.Clone()
	e.setStatus(&next, models.StatusInProgress)
	return next
}

// EditRecord replaces the descriptive fields and work items of rec. The id
// never changes. When the work items change, status is derived from scratch
// so replacing finished items with fresh ones resets progress.
func (e *Engine) EditRecord(rec models.VehicleRecord, p Patch) (models.VehicleRecord, error) {
	model := strings.TrimSpace(p.Model)
	if model == "" {
		return rec, fmt.Errorf("model is required: %w", ErrValidation)
	}

	existing := make(map[string]models.WorkItem, len(rec.WorkItems))
	for _, w := range rec.WorkItems {
		existing[w.ID] = w
	}
	items := make([]models.WorkItem, 0, len(p.WorkItems))
	for _, w := range p.WorkItems {
		name := strings.TrimSpace(w.Name)
		if name == "" {
			continue
		}
		if old, ok := existing[w.ID]; ok && w.ID != "" {
			items = append(items, models.WorkItem{ID: old.ID, Name: name, Status: old.Status})
			delete(existing, w.ID)
			continue
		}
		items = append(items, models.WorkItem{ID: newWorkItemID(), Name: name, Status: models.WorkPending})
	}
	if len(items) == 0 {
		return rec, fmt.Errorf("at least one work item is required: %w", ErrValidation)
	}

	next := rec.Clone()
	next.Model = model
	applyDetails(&next, p.Details)
	next.WorkItems = items

	if !sameProgress(rec.WorkItems, items) {
		e.setStatus(&next, Derive("", items))
	}
	return next, nil
}

func (e *Engine) setStatus(rec *models.VehicleRecord, s models.Status) {
	if rec.Status == s {
		return
	}
	rec.Status = s
	rec.StatusUpdatedAt = e.now()
}

// sameProgress reports whether two item lists hold the same items with the
// same completion state, ignoring renames.
func sameProgress(a, b []models.WorkItem) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Status != b[i].Status {
			return false
		}
	}
	return true
}

func cleanNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// SplitWorkNames splits free-form work descriptions on newlines and commas.
func SplitWorkNames(text string) []string {
	return cleanNames(strings.FieldsFunc(text, func(r rune) bool {
		return r == '\n' || r == ',' || r == ';'
	}))
}

func applyDetails(rec *models.VehicleRecord, d Details) {
	rec.Year = orUnspecified(d.Year)
	rec.VIN = orUnspecified(d.VIN)
	rec.Mileage = orUnspecified(d.Mileage)
	rec.Owner = models.Owner{
		Name:  orUnspecified(d.Owner.Name),
		Phone: orUnspecified(d.Owner.Phone),
	}
}

func orUnspecified(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return models.Unspecified
	}
	return s
}
