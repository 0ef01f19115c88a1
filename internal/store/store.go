// Package store owns the vehicle record collection and the UI session state
// and mirrors both into a durable key-value Storage on every write.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-service-tracker/internal/db"
	"github.com/ukydev/fleet-service-tracker/internal/models"
)

// Storage keys.
const (
	KeyRecords      = "records"
	KeyActiveTab    = "activeTab"
	KeyLastSelected = "lastSelectedRecordId"
	KeyEditing      = "editingRecord"
)

// PersistenceError reports a failed durable write. The in-memory state has
// already taken the new value when it is returned.
type PersistenceError struct {
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistenceError reports whether err is or wraps a *PersistenceError.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// RecordStore holds all records and session state. Callers get copies and
// hand back complete new collections; nothing is patched in place.
//
// RecordStore does no locking of its own; callers serialise access.
type RecordStore struct {
	storage db.Storage
	log     logrus.FieldLogger
	records []models.VehicleRecord
	session models.SessionState
}

// New creates an empty store over storage. Call Load before use.
func New(storage db.Storage, logger logrus.FieldLogger) *RecordStore {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RecordStore{
		storage: storage,
		log:     logger.WithField("component", "record_store"),
		records: []models.VehicleRecord{},
		session: models.SessionState{ActiveTab: models.DefaultTab},
	}
}

// Load reads every persisted field. Absent or unreadable values fall back
// to their defaults; only a failing storage read is an error.
func (s *RecordStore) Load(ctx context.Context) error {
	records := []models.VehicleRecord{}
	if raw, ok, err := s.storage.Get(ctx, KeyRecords); err != nil {
		return fmt.Errorf("load %s: %w", KeyRecords, err)
	} else if ok {
		var decoded []models.VehicleRecord
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			s.log.WithError(err).Warn("Discarding malformed persisted records")
		} else if decoded != nil {
			records = decoded
		}
	}

	session := models.SessionState{ActiveTab: models.DefaultTab}
	if raw, ok, err := s.storage.Get(ctx, KeyActiveTab); err != nil {
		return fmt.Errorf("load %s: %w", KeyActiveTab, err)
	} else if ok && raw != "" {
		session.ActiveTab = raw
	}

	if raw, ok, err := s.storage.Get(ctx, KeyLastSelected); err != nil {
		return fmt.Errorf("load %s: %w", KeyLastSelected, err)
	} else if ok && raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			session.LastSelected = &id
		} else {
			s.log.WithField("value", raw).Warn("Ignoring malformed last selected record id")
		}
	}

	if raw, ok, err := s.storage.Get(ctx, KeyEditing); err != nil {
		return fmt.Errorf("load %s: %w", KeyEditing, err)
	} else if ok && raw != "" {
		var rec models.VehicleRecord
		if err := json.Unmarshal([]byte(raw), &rec); err == nil {
			session.Editing = &rec
		} else {
			s.log.WithError(err).Warn("Ignoring malformed editing record")
		}
	}

	s.records = records
	s.session = session
	s.log.WithFields(logrus.Fields{
		"records":    len(records),
		"active_tab": session.ActiveTab,
	}).Info("Loaded tracker state")
	return nil
}

// All returns a copy of the record collection.
func (s *RecordStore) All() []models.VehicleRecord {
	return models.CloneRecords(s.records)
}

// Find returns a copy of the record with the given id.
func (s *RecordStore) Find(id int64) (models.VehicleRecord, bool) {
	for _, r := range s.records {
		if r.ID == id {
			return r.Clone(), true
		}
	}
	return models.VehicleRecord{}, false
}

// ReplaceAll swaps in a new collection and persists it together with the
// whole session state.
func (s *RecordStore) ReplaceAll(ctx context.Context, records []models.VehicleRecord) error {
	s.records = models.CloneRecords(records)
	return s.persist(ctx, KeyRecords, KeyActiveTab, KeyLastSelected, KeyEditing)
}

// ActiveTab returns the id of the pane shown last.
func (s *RecordStore) ActiveTab() string {
	return s.session.ActiveTab
}

// SetActiveTab records the shown pane.
func (s *RecordStore) SetActiveTab(ctx context.Context, tab string) error {
	s.session.ActiveTab = tab
	return s.persist(ctx, KeyActiveTab)
}

// LastSelected returns the id of the record opened last, if any.
func (s *RecordStore) LastSelected() *int64 {
	if s.session.LastSelected == nil {
		return nil
	}
	id := *s.session.LastSelected
	return &id
}

// SetLastSelected records the opened record. nil clears it.
func (s *RecordStore) SetLastSelected(ctx context.Context, id *int64) error {
	if id == nil {
		s.session.LastSelected = nil
	} else {
		v := *id
		s.session.LastSelected = &v
	}
	return s.persist(ctx, KeyLastSelected)
}

// Editing returns the record open in the edit form, if any.
func (s *RecordStore) Editing() *models.VehicleRecord {
	if s.session.Editing == nil {
		return nil
	}
	rec := s.session.Editing.Clone()
	return &rec
}

// SetEditing records the record open in the edit form. nil clears it.
func (s *RecordStore) SetEditing(ctx context.Context, rec *models.VehicleRecord) error {
	if rec == nil {
		s.session.Editing = nil
	} else {
		c := rec.Clone()
		s.session.Editing = &c
	}
	return s.persist(ctx, KeyEditing)
}

// Session returns a copy of the session state.
func (s *RecordStore) Session() models.SessionState {
	return models.SessionState{
		ActiveTab:    s.session.ActiveTab,
		LastSelected: s.LastSelected(),
		Editing:      s.Editing(),
	}
}

// persist writes the given keys in order and stops at the first failure.
func (s *RecordStore) persist(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if err := s.write(ctx, key); err != nil {
			s.log.WithError(err).WithField("key", key).Error("Failed to persist tracker state")
			return &PersistenceError{Key: key, Err: err}
		}
	}
	return nil
}

func (s *RecordStore) write(ctx context.Context, key string) error {
	switch key {
	case KeyRecords:
		data, err := json.Marshal(s.records)
		if err != nil {
			return err
		}
		return s.storage.Set(ctx, key, string(data))
	case KeyActiveTab:
		return s.storage.Set(ctx, key, s.session.ActiveTab)
	case KeyLastSelected:
		if s.session.LastSelected == nil {
			return s.storage.Delete(ctx, key)
		}
		return s.storage.Set(ctx, key, strconv.FormatInt(*s.session.LastSelected, 10))
	case KeyEditing:
		if s.session.Editing == nil {
			return s.storage.Delete(ctx, key)
		}
		data, err := json.Marshal(s.session.Editing)
		if err != nil {
			return err
		}
		return s.storage.Set(ctx, key, string(data))
	default:
		return fmt.Errorf("unknown key %q", key)
	}
}
