package entities

import "time"

// RowStatus is the per-row outcome recorded while walking the source table
type RowStatus string

const (
	RowPending RowStatus = ""
	RowAdded   RowStatus = "ADDED"
	RowSkipped RowStatus = "SKIPPED"
)

// Skip reasons reported in the row trace
const (
	ReasonInsufficientCells = "insufficient cells (expected 4+)"
	ReasonHeaderOrEmpty     = "header or empty row"
	ReasonBadDateTime       = "failed to parse datetime"
)

// RawRow holds the raw cell text of one table row together with its diagnostic outcome.
// It only lives for the duration of a cycle.
type RawRow struct {
	Number      int           `json:"row_number" yaml:"row_number"`
	CellCount   int           `json:"cells_count" yaml:"cells_count"`
	DateTime    string        `json:"date_time,omitempty" yaml:"date_time,omitempty"`
	Level       string        `json:"level,omitempty" yaml:"level,omitempty"`
	Flow        string        `json:"flow,omitempty" yaml:"flow,omitempty"`
	Temperature string        `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	Parsed      *ParsedValues `json:"parsed_data,omitempty" yaml:"parsed_data,omitempty"`
	Status      RowStatus     `json:"status" yaml:"status"`
	Reason      string        `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Pending reports whether the row passed extraction and still awaits the record builder
func (r RawRow) Pending() bool {
	return r.Status == RowPending
}

// ParsedValues are the typed values derived from a RawRow
type ParsedValues struct {
	DateTime    *time.Time `json:"date_time" yaml:"date_time"` // nil when the datetime cell did not parse
	Level       *float64   `json:"level" yaml:"level"`
	Flow        *float64   `json:"flow" yaml:"flow"`
	Temperature *float64   `json:"temperature" yaml:"temperature"`
}

// ParseTrace is the full row-by-row diagnostic of one parse, returned by the debug surface
type ParseTrace struct {
	FetchTime      time.Time `json:"fetch_time" yaml:"fetch_time"`
	SourceURL      string    `json:"source_url" yaml:"source_url"`
	TotalRowsFound int       `json:"total_rows_found" yaml:"total_rows_found"`
	Rows           []RawRow  `json:"rows" yaml:"rows"`
	TotalProcessed int       `json:"total_processed" yaml:"total_processed"`
}
