// Package entities contains the core domain objects for the river-monitor application
package entities

import (
	"time"
)

// MeasurementRecord is a single observation published by the hydrology service.
// Timestamp is the natural key; nil values mean the station reported no reading.
// It holds the source's wall-clock reading in UTC and is never converted between zones,
// so every published minute maps to exactly one key, DST gaps included.
type MeasurementRecord struct {
	Timestamp   time.Time // Civil time as published by the source, minute precision
	WaterLevel  *float64  // Water level in cm
	FlowRate    *float64  // Flow rate in m³/s
	Temperature *float64  // Water temperature in °C
}

// CivilTime returns the wall clock of instant t as seen in loc, carried in UTC.
// This is how "now" is put on the same footing as measurement timestamps.
func CivilTime(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	w := t.In(loc)
	return time.Date(w.Year(), w.Month(), w.Day(), w.Hour(), w.Minute(), w.Second(), w.Nanosecond(), time.UTC)
}

// FetchStatus is the outcome of one ingestion cycle
type FetchStatus string

const (
	FetchSuccess FetchStatus = "success"
	FetchError   FetchStatus = "error"
)

// FetchLogEntry is one row of the append-only fetch audit trail
type FetchLogEntry struct {
	ID              int64
	RunID           string
	FetchTime       time.Time
	Status          FetchStatus
	RecordsInserted int
	ErrorMessage    string // Only set when Status is FetchError
}
