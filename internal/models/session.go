package models

// Tab ids of the widget panes.
const (
	TabAdd     = "add"
	TabList    = "list"
	TabCurrent = "current"
	TabEdit    = "edit"
)

// DefaultTab is shown when no tab was persisted.
const DefaultTab = TabAdd

// IsValidTab checks if a tab id names a known pane
func IsValidTab(tab string) bool {
	switch tab {
	case TabAdd, TabList, TabCurrent, TabEdit:
		return true
	default:
		return false
	}
}

// SessionState is the UI navigation state persisted next to the records.
type SessionState struct {
	ActiveTab    string         `json:"activeTab"`
	LastSelected *int64         `json:"lastSelectedRecordId,omitempty"`
	Editing      *VehicleRecord `json:"editingRecord,omitempty"`
}
