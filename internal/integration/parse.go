package integration

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateTimeLayout is the day-first format the hydrology service uses for observation times
const DateTimeLayout = "02.01.2006 15:04"

var (
	dateTimeRe = regexp.MustCompile(`^(\d{2})\.(\d{2})\.(\d{4})\s+(\d{2}):(\d{2})$`)
	numberRe   = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)
)

// ParseDateTime parses "DD.MM.YYYY HH:MM" as civil time carried in UTC.
// No zone rules apply, so wall times inside a DST gap survive unchanged.
// Any other shape, or a date that does not exist on the calendar, reports false.
func ParseDateTime(text string) (time.Time, bool) {
	m := dateTimeRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return time.Time{}, false
	}

	// Collapse whatever whitespace separated date and time so the fixed layout applies
	normalized := m[1] + "." + m[2] + "." + m[3] + " " + m[4] + ":" + m[5]
	t, err := time.Parse(DateTimeLayout, normalized)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// FormatDateTime renders a timestamp back into the source's "DD.MM.YYYY HH:MM" form
func FormatDateTime(t time.Time) string {
	return t.Format(DateTimeLayout)
}

// ParseNumericValue converts a cell to a number.
// Empty cells and the "-" placeholder mean no reading and return nil, as does anything
// that is not a plain decimal literal once the decimal comma is replaced.
func ParseNumericValue(text string) *float64 {
	value := strings.TrimSpace(text)
	if value == "" || value == "-" {
		return nil
	}

	value = strings.ReplaceAll(value, ",", ".")
	if !numberRe.MatchString(value) {
		return nil
	}

	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil
	}
	return &f
}
