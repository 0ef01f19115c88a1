package models

import (
	"time"
)

// Unspecified is stored in optional descriptive fields the clerk left blank.
const Unspecified = "unspecified"

// Status is the lifecycle state of a vehicle record, rolled up from its work items.
type Status string

const (
	StatusNew        Status = "new"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// IsValid reports whether s is one of the known record statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusNew, StatusInProgress, StatusCompleted:
		return true
	default:
		return false
	}
}

// WorkStatus is the completion state of a single work item.
type WorkStatus string

const (
	WorkPending WorkStatus = "pending"
	WorkDone    WorkStatus = "done"
)

// WorkItem is one requested service task on a vehicle.
type WorkItem struct {
	ID     string     `bson:"id" json:"id"`
	Name   string     `bson:"name" json:"name"`
	Status WorkStatus `bson:"status" json:"status"`
}

// Owner holds the vehicle owner's contact details.
type Owner struct {
	Name  string `bson:"name" json:"name"`
	Phone string `bson:"phone" json:"phone"`
}

// VehicleRecord represents a vehicle checked in for service.
type VehicleRecord struct {
	ID              int64      `bson:"id" json:"id"`
	Model           string     `bson:"model" json:"model"`
	Year            string     `bson:"year" json:"year"`
	VIN             string     `bson:"vin" json:"vin"`
	Mileage         string     `bson:"mileage" json:"mileage"`
	Owner           Owner      `bson:"owner" json:"owner"`
	Status          Status     `bson:"status" json:"status"`
	StatusUpdatedAt time.Time  `bson:"status_updated_at" json:"statusUpdatedAt"`
	WorkItems       []WorkItem `bson:"work_items" json:"workItems"`
}

// Clone returns a copy of the record that shares no memory with r.
func (r VehicleRecord) Clone() VehicleRecord {
	out := r
	if r.WorkItems != nil {
		out.WorkItems = make([]WorkItem, len(r.WorkItems))
		copy(out.WorkItems, r.WorkItems)
	}
	return out
}

// AllDone reports whether the record has work items and every one is done.
func (r VehicleRecord) AllDone() bool {
	if len(r.WorkItems) == 0 {
		return false
	}
	for _, w := range r.WorkItems {
		if w.Status != WorkDone {
			return false
		}
	}
	return true
}

// CloneRecords deep-copies a record collection.
func CloneRecords(records []VehicleRecord) []VehicleRecord {
	out := make([]VehicleRecord, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}
