package models

import (
	"strings"
	"time"
)

// ScenarioRecord is a stored scenario together with its catalog metadata.
type ScenarioRecord struct {
	Scenario
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	ActiveUsers int       `json:"activeUsers"` // Connections viewing the scenario right now, filled in by the API
}

// Clone returns a deep copy of the record.
func (r *ScenarioRecord) Clone() *ScenarioRecord {
	if r == nil {
		return nil
	}

	c := *r
	c.Scenario = *r.Scenario.Clone()
	return &c
}

// ScenarioFilter narrows a catalog listing. Zero fields do not filter.
type ScenarioFilter struct {
	Name          string     // Case-insensitive substring of the name
	CreatedAfter  *time.Time // Inclusive
	CreatedBefore *time.Time // Inclusive
	UpdatedAfter  *time.Time // Inclusive
	UpdatedBefore *time.Time // Inclusive
	MinDevices    *int       // Emitters plus listeners, inclusive
	MaxDevices    *int       // Emitters plus listeners, inclusive
}

// Matches reports whether r passes every bound set on the filter.
func (f ScenarioFilter) Matches(r *ScenarioRecord) bool {
	if f.Name != "" && !strings.Contains(strings.ToLower(r.Name), strings.ToLower(f.Name)) {
		return false
	}
	if f.CreatedAfter != nil && r.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && r.CreatedAt.After(*f.CreatedBefore) {
		return false
	}
	if f.UpdatedAfter != nil && r.UpdatedAt.Before(*f.UpdatedAfter) {
		return false
	}
	if f.UpdatedBefore != nil && r.UpdatedAt.After(*f.UpdatedBefore) {
		return false
	}

	devices := r.DeviceCount()
	if f.MinDevices != nil && devices < *f.MinDevices {
		return false
	}
	if f.MaxDevices != nil && devices > *f.MaxDevices {
		return false
	}
	return true
}
