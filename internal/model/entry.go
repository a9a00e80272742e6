package model

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// TimeEntry is a single time entry booked against a bookable resource.
// Entries produced by the reconciler always cover exactly one calendar day:
// Start == End, truncated to midnight, Duration == 0.
type TimeEntry struct {
	ID          string         `json:"id,omitempty"`
	ResourceRef uuid.UUID      `json:"resource"`
	Start       time.Time      `json:"start"`
	End         time.Time      `json:"end"`
	Duration    int64          `json:"duration"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// Clone returns a copy of e without its identity. The attribute map is
// copied so siblings never share payload with the candidate.
func (e TimeEntry) Clone() TimeEntry {
	c := e
	c.ID = ""
	c.Attributes = maps.Clone(e.Attributes)
	return c
}

// Period is the stored window of an existing entry.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// DayFile is the top-level structure stored in each daily JSON file.
type DayFile struct {
	Date    string      `json:"date"`
	Entries []TimeEntry `json:"entries"`
}
