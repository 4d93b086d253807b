package model

import "time"

type TableStatus string

const (
	TableAvailable TableStatus = "available"
	TableOccupied  TableStatus = "occupied"
)

// Table is a physical seating resource identified by its number.
type Table struct {
	Number        int         `json:"number"`
	Capacity      int         `json:"capacity"`
	Location      string      `json:"location,omitempty"`
	Status        TableStatus `json:"status"`
	OccupiedSince *time.Time  `json:"occupied_since,omitempty"`
}

// Fits reports whether a party of the given size can be seated.
func (t Table) Fits(partySize int) bool {
	return partySize > 0 && t.Capacity >= partySize
}

func (t Table) IsOccupied() bool {
	return t.Status == TableOccupied
}

// Occupy marks the table as seated from at.
func (t *Table) Occupy(at time.Time) {
	t.Status = TableOccupied
	t.OccupiedSince = &at
}

// Free marks the table as available.
func (t *Table) Free() {
	t.Status = TableAvailable
	t.OccupiedSince = nil
}
