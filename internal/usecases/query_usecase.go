package usecases

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/abelzeko/river-monitor/internal/entities"
	"github.com/abelzeko/river-monitor/internal/repository"
)

const (
	DefaultLimit = 100
	MinLimit     = 1
	MaxLimit     = 500

	// Placeholder rendered for a missing reading
	NoValue = "-"

	displayTimeLayout = "02.01.2006 15:04"
)

// QueryUseCase serves read-only views of persisted measurements
type QueryUseCase struct {
	repo repository.MeasurementRepository
}

// NewQueryUseCase creates a new query use case
func NewQueryUseCase(repo repository.MeasurementRepository) *QueryUseCase {
	return &QueryUseCase{repo: repo}
}

// ClampLimit keeps limit inside [MinLimit, MaxLimit]
func ClampLimit(limit int) int {
	if limit < MinLimit {
		return MinLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// GetMeasurements returns the newest measurements first, at or after from when given
func (uc *QueryUseCase) GetMeasurements(ctx context.Context, limit int, from *time.Time) ([]entities.MeasurementRecord, error) {
	return uc.repo.ListMeasurements(ctx, ClampLimit(limit), from)
}

// GetLastFetch returns the most recent cycle outcome, or nil before the first cycle
func (uc *QueryUseCase) GetLastFetch(ctx context.Context) (*entities.FetchLogEntry, error) {
	return uc.repo.LastFetchLog(ctx)
}

// GetLatestMeasurement returns the newest stored measurement, or nil when the store is empty
func (uc *QueryUseCase) GetLatestMeasurement(ctx context.Context) (*entities.MeasurementRecord, error) {
	records, err := uc.repo.ListMeasurements(ctx, 1, nil)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// FormatDisplayTime renders a measurement time the way the dashboard shows it
func FormatDisplayTime(t time.Time) string {
	return t.Format(displayTimeLayout)
}

// FormatLevel renders water level with no decimals
func FormatLevel(v *float64) string {
	return formatNumber(v, 0, ",")
}

// FormatFlow renders flow rate with two decimals and a decimal comma
func FormatFlow(v *float64) string {
	return formatNumber(v, 2, ",")
}

// FormatTemperature renders temperature with one decimal and a decimal point.
// The dashboard feeds this field straight into parseFloat, which is why it differs from level and flow.
func FormatTemperature(v *float64) string {
	return formatNumber(v, 1, ".")
}

// formatNumber rounds half away from zero and uses sep as the decimal separator
func formatNumber(v *float64, decimals int, sep string) string {
	if v == nil {
		return NoValue
	}
	scale := math.Pow(10, float64(decimals))
	rounded := math.Round(*v*scale) / scale
	if rounded == 0 {
		rounded = 0 // drop negative zero
	}
	s := strconv.FormatFloat(rounded, 'f', decimals, 64)
	if sep != "." {
		s = strings.Replace(s, ".", sep, 1)
	}
	return s
}

// FormatLatestInfo formats the newest measurement and the last cycle outcome for chat display
func FormatLatestInfo(rec *entities.MeasurementRecord, lastFetch *entities.FetchLogEntry) string {
	if rec == nil {
		return "No measurements available yet."
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("🕒 Measured: %s\n", FormatDisplayTime(rec.Timestamp)))
	result.WriteString(fmt.Sprintf("💧 Water Level: %s cm\n", FormatLevel(rec.WaterLevel)))
	result.WriteString(fmt.Sprintf("🌊 Flow: %s m³/s\n", FormatFlow(rec.FlowRate)))
	result.WriteString(fmt.Sprintf("🌡️ Water Temperature: %s °C\n", FormatTemperature(rec.Temperature)))

	if lastFetch != nil {
		result.WriteString("\n")
		result.WriteString(FormatFetchStatus(lastFetch))
	}
	return result.String()
}

// FormatFetchStatus describes one fetch log entry for chat display
func FormatFetchStatus(entry *entities.FetchLogEntry) string {
	if entry == nil {
		return "No fetch has run yet."
	}
	msg := fmt.Sprintf("Last fetch: %s (%s, %d new records)",
		entry.FetchTime.Format(time.DateTime), entry.Status, entry.RecordsInserted)
	if entry.Status == entities.FetchError && entry.ErrorMessage != "" {
		msg += "\nError: " + entry.ErrorMessage
	}
	return msg
}
