// Package tracker turns widget actions into status transitions, commits
// the results to the record store and forwards new records to the host.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-service-tracker/internal/host"
	"github.com/ukydev/fleet-service-tracker/internal/models"
	"github.com/ukydev/fleet-service-tracker/internal/status"
	"github.com/ukydev/fleet-service-tracker/internal/store"
)

var (
	// ErrEditConflict is returned when a save names a record other than the
	// one open in the edit form.
	ErrEditConflict = errors.New("record is not open for editing")
	// ErrNoEdit is returned when saving while no record is open for editing.
	ErrNoEdit = fmt.Errorf("no record is being edited: %w", ErrEditConflict)
)

// View is what the widget shows after a reload.
type View struct {
	Tab     string                `json:"tab"`
	Current *models.VehicleRecord `json:"current,omitempty"`
	Editing *models.VehicleRecord `json:"editing,omitempty"`
}

// Tracker runs one action at a time against the store.
type Tracker struct {
	mu     sync.Mutex
	store  *store.RecordStore
	engine *status.Engine
	host   host.Notifier
	log    logrus.FieldLogger
	wg     sync.WaitGroup
}

// New creates a tracker over a loaded store. A nil notifier means no host.
func New(st *store.RecordStore, engine *status.Engine, notifier host.Notifier, logger logrus.FieldLogger) *Tracker {
	if notifier == nil {
		notifier = host.Nop{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if engine.IDs != nil {
		for _, r := range st.All() {
			engine.IDs.Observe(r.ID)
		}
	}
	return &Tracker{
		store:  st,
		engine: engine,
		host:   notifier,
		log:    logger.WithField("component", "tracker"),
	}
}

// Submit creates a record from the add form and switches to the list.
func (t *Tracker) Submit(ctx context.Context, model string, workNames []string, d status.Details) (models.VehicleRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.engine.CreateRecord(model, workNames, d)
	if err != nil {
		return models.VehicleRecord{}, err
	}
	records := append(t.store.All(), rec)
	err = firstErr(
		t.store.ReplaceAll(ctx, records),
		t.store.SetActiveTab(ctx, models.TabList),
	)
	t.log.WithFields(logrus.Fields{"record_id": rec.ID, "model": rec.Model, "work_items": len(rec.WorkItems)}).Info("Created record")
	if err != nil {
		return rec, err
	}
	t.notify(rec)
	return rec, nil
}

// notify forwards rec to the host in the background.
func (t *Tracker) notify(rec models.VehicleRecord) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx := context.Background()
		if err := t.host.NotifyCreated(ctx, rec); err != nil {
			t.log.WithError(err).WithField("record_id", rec.ID).Warn("Failed to forward record to host")
			return
		}
		if err := t.host.Close(); err != nil {
			t.log.WithError(err).Warn("Failed to close host view")
		}
	}()
}

// Wait blocks until pending host notifications finish.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// List returns all records, newest first.
func (t *Tracker) List() []models.VehicleRecord {
	return t.Filter("")
}

// Filter returns records whose model contains query, ignoring case, newest first.
func (t *Tracker) Filter(query string) []models.VehicleRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	q := strings.ToLower(strings.TrimSpace(query))
	all := t.store.All()
	out := make([]models.VehicleRecord, 0, len(all))
	for _, r := range all {
		if q == "" || strings.Contains(strings.ToLower(r.Model), q) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// Get returns one record.
func (t *Tracker) Get(id int64) (models.VehicleRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.find(id)
}

// Select opens a record in the current-record pane.
func (t *Tracker) Select(ctx context.Context, id int64) (models.VehicleRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.find(id)
	if err != nil {
		return models.VehicleRecord{}, err
	}
	return rec, firstErr(
		t.store.SetLastSelected(ctx, &id),
		t.store.SetActiveTab(ctx, models.TabCurrent),
	)
}

// Toggle flips one work item of a record.
func (t *Tracker) Toggle(ctx context.Context, id int64, itemID string) (models.VehicleRecord, error) {
	return t.apply(ctx, id, func(rec models.VehicleRecord) (models.VehicleRecord, error) {
		return t.engine.ToggleWorkItem(rec, itemID)
	})
}

// ToggleByName flips the first work item called name. Clients that only
// know item names, such as the chat host's quick actions, use it.
func (t *Tracker) ToggleByName(ctx context.Context, id int64, name string) (models.VehicleRecord, error) {
	return t.apply(ctx, id, func(rec models.VehicleRecord) (models.VehicleRecord, error) {
		return t.engine.ToggleWorkItemByName(rec, name)
	})
}

// StartWork moves a New record to InProgress.
func (t *Tracker) StartWork(ctx context.Context, id int64) (models.VehicleRecord, error) {
	return t.apply(ctx, id, func(rec models.VehicleRecord) (models.VehicleRecord, error) {
		return t.engine.StartWork(rec), nil
	})
}

// BeginEdit opens a record in the edit form.
func (t *Tracker) BeginEdit(ctx context.Context, id int64) (models.VehicleRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.find(id)
	if err != nil {
		return models.VehicleRecord{}, err
	}
	return rec, firstErr(
		t.store.SetEditing(ctx, &rec),
		t.store.SetActiveTab(ctx, models.TabEdit),
	)
}

// SaveEdit applies p to record id, which must be the record open in the
// edit form, and closes the form.
func (t *Tracker) SaveEdit(ctx context.Context, id int64, p status.Patch) (models.VehicleRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	editing := t.store.Editing()
	if editing == nil {
		return models.VehicleRecord{}, ErrNoEdit
	}
	if editing.ID != id {
		return models.VehicleRecord{}, fmt.Errorf("record %d: %w", id, ErrEditConflict)
	}
	current, err := t.find(id)
	if err != nil {
		// the record went away while the form was open
		if clearErr := t.store.SetEditing(ctx, nil); clearErr != nil {
			t.log.WithError(clearErr).WithField("record_id", id).Warn("Failed to clear stale edit")
			err = errors.Join(err, clearErr)
		}
		return models.VehicleRecord{}, err
	}
	next, err := t.engine.EditRecord(current, p)
	if err != nil {
		return models.VehicleRecord{}, err
	}
	err = firstErr(
		t.store.ReplaceAll(ctx, replace(t.store.All(), next)),
		t.store.SetEditing(ctx, nil),
		t.store.SetActiveTab(ctx, models.TabCurrent),
	)
	t.log.WithFields(logrus.Fields{"record_id": next.ID, "status": next.Status}).Info("Edited record")
	return next, err
}

// CancelEdit closes the edit form without saving.
func (t *Tracker) CancelEdit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tab := models.TabList
	if sel := t.store.LastSelected(); sel != nil {
		tab = models.TabCurrent
	}
	return firstErr(
		t.store.SetEditing(ctx, nil),
		t.store.SetActiveTab(ctx, tab),
	)
}

// Delete removes a record and clears any session state pointing at it.
func (t *Tracker) Delete(ctx context.Context, id int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	all := t.store.All()
	kept := all[:0]
	for _, r := range all {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	if len(kept) == len(all) {
		return fmt.Errorf("record %d: %w", id, status.ErrNotFound)
	}

	var errs []error
	if sel := t.store.LastSelected(); sel != nil && *sel == id {
		errs = append(errs, t.store.SetLastSelected(ctx, nil))
	}
	if ed := t.store.Editing(); ed != nil && ed.ID == id {
		errs = append(errs, t.store.SetEditing(ctx, nil))
	}
	errs = append([]error{t.store.ReplaceAll(ctx, kept)}, errs...)
	t.log.WithField("record_id", id).Info("Deleted record")
	return firstErr(errs...)
}

// ActivateTab switches the visible pane.
func (t *Tracker) ActivateTab(ctx context.Context, tab string) error {
	if !models.IsValidTab(tab) {
		return fmt.Errorf("unknown tab %q: %w", tab, status.ErrValidation)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.SetActiveTab(ctx, tab)
}

// Session returns the persisted UI state.
func (t *Tracker) Session() models.SessionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.Session()
}

// Restore rebuilds the view after a reload. A selection that points at a
// record that no longer exists is cleared and the pane falls back to its
// placeholder.
func (t *Tracker) Restore(ctx context.Context) (View, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	view := View{Tab: t.store.ActiveTab(), Editing: t.store.Editing()}
	if !models.IsValidTab(view.Tab) {
		view.Tab = models.DefaultTab
	}
	var err error
	if sel := t.store.LastSelected(); sel != nil {
		if rec, findErr := t.find(*sel); findErr == nil {
			view.Current = &rec
		} else {
			t.log.WithField("record_id", *sel).Warn("Dropping stale selection")
			err = t.store.SetLastSelected(ctx, nil)
		}
	}
	if view.Editing != nil {
		if _, findErr := t.find(view.Editing.ID); findErr != nil {
			view.Editing = nil
			err = firstErr(err, t.store.SetEditing(ctx, nil))
		}
	}
	return view, err
}

// apply runs fn on the stored record with the given id and commits the result.
func (t *Tracker) apply(ctx context.Context, id int64, fn func(models.VehicleRecord) (models.VehicleRecord, error)) (models.VehicleRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.find(id)
	if err != nil {
		return models.VehicleRecord{}, err
	}
	next, err := fn(rec)
	if err != nil {
		return rec, err
	}
	if err := t.store.ReplaceAll(ctx, replace(t.store.All(), next)); err != nil {
		return next, err
	}
	if next.Status != rec.Status {
		t.log.WithFields(logrus.Fields{
			"record_id": id,
			"from":      rec.Status,
			"to":        next.Status,
		}).Info("Record status changed")
	}
	return next, nil
}

func (t *Tracker) find(id int64) (models.VehicleRecord, error) {
	rec, ok := t.store.Find(id)
	if !ok {
		return models.VehicleRecord{}, fmt.Errorf("record %d: %w", id, status.ErrNotFound)
	}
	return rec, nil
}

func replace(records []models.VehicleRecord, rec models.VehicleRecord) []models.VehicleRecord {
	for i := range records {
		if records[i].ID == rec.ID {
			records[i] = rec
		}
	}
	return records
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// IsNotFound reports whether err means a record or work item is missing.
func IsNotFound(err error) bool { return errors.Is(err, status.ErrNotFound) }

// IsConflict reports whether err names a record that is not open for editing.
func IsConflict(err error) bool { return errors.Is(err, ErrEditConflict) }

// IsValidation reports whether err is a rejected input.
func IsValidation(err error) bool { return errors.Is(err, status.ErrValidation) }
