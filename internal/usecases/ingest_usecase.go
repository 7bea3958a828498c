// Package usecases contains the application's business logic
package usecases

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/abelzeko/river-monitor/internal/entities"
	"github.com/abelzeko/river-monitor/internal/observability"
	"github.com/abelzeko/river-monitor/internal/repository"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/semaphore"
)

// DefaultRetention is how long measurements are kept
const DefaultRetention = 7 * 24 * time.Hour

// ErrNoData means the page was fetched but yielded no records, which points at a format change
var ErrNoData = errors.New("no data parsed from HTML")

// Scraper fetches the source page and turns it into records plus a row trace
type Scraper interface {
	Scrape(ctx context.Context) ([]entities.MeasurementRecord, *entities.ParseTrace, error)
}

// CycleResult summarises one ingestion cycle
type CycleResult struct {
	RunID    string
	Status   entities.FetchStatus
	Parsed   int
	Inserted int
	Deleted  int64
	Duration time.Duration
}

// IngestUseCase drives the fetch-parse-reconcile pipeline
type IngestUseCase struct {
	repo      repository.MeasurementRepository
	scraper   Scraper
	metrics   *observability.Metrics
	clock     clockwork.Clock
	location  *time.Location
	retention time.Duration
	cycles    *semaphore.Weighted
}

// NewIngestUseCase creates a new ingestion use case. loc is the source's zone and only
// decides what "now" is in civil time. A zero retention falls back to DefaultRetention;
// nil metrics are replaced by an unregistered set.
func NewIngestUseCase(repo repository.MeasurementRepository, scraper Scraper, metrics *observability.Metrics, clock clockwork.Clock, loc *time.Location, retention time.Duration) *IngestUseCase {
	if metrics == nil {
		metrics = observability.NewUnregisteredMetrics()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if loc == nil {
		loc = time.UTC
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &IngestUseCase{
		repo:      repo,
		scraper:   scraper,
		metrics:   metrics,
		clock:     clock,
		location:  loc,
		retention: retention,
		cycles:    semaphore.NewWeighted(1),
	}
}

// RefreshMeasurements runs one full cycle: fetch, parse, reconcile, log the outcome and purge old rows.
// Cycles are serialised; a second caller waits for the running one to finish.
func (uc *IngestUseCase) RefreshMeasurements(ctx context.Context) (*CycleResult, error) {
	if err := uc.cycles.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed waiting for running cycle: %w", err)
	}
	defer uc.cycles.Release(1)

	start := uc.clock.Now()
	result := &CycleResult{RunID: uuid.NewString()}
	log.Printf("[%s] Starting measurement refresh", result.RunID)

	records, trace, err := uc.scraper.Scrape(ctx)
	if err != nil {
		return uc.fail(ctx, result, start, fmt.Errorf("failed to fetch measurements: %w", err))
	}
	uc.observeTrace(trace)

	if len(records) == 0 {
		return uc.fail(ctx, result, start, ErrNoData)
	}
	result.Parsed = len(records)
	uc.metrics.RecordsParsed.Add(float64(len(records)))
	log.Printf("[%s] Parsed %d records", result.RunID, len(records))

	// The fetch was the only cancellation point; store work runs to completion
	storeCtx := context.WithoutCancel(ctx)

	latest, err := uc.repo.LatestTimestamp(storeCtx)
	if err != nil {
		return uc.fail(ctx, result, start, err)
	}

	result.Inserted = uc.Reconcile(storeCtx, records, latest)
	log.Printf("[%s] Inserted/updated %d records", result.RunID, result.Inserted)

	result.Status = entities.FetchSuccess
	uc.appendLog(storeCtx, entities.FetchLogEntry{
		RunID:           result.RunID,
		FetchTime:       start,
		Status:          entities.FetchSuccess,
		RecordsInserted: result.Inserted,
	})

	result.Deleted = uc.CleanOldData(storeCtx)

	result.Duration = uc.clock.Since(start)
	uc.metrics.CyclesTotal.WithLabelValues(string(entities.FetchSuccess)).Inc()
	uc.metrics.CycleDuration.Observe(result.Duration.Seconds())
	uc.metrics.LastSuccessUnixTime.Set(float64(uc.clock.Now().Unix()))
	log.Printf("[%s] Refresh completed successfully in %s", result.RunID, result.Duration)
	return result, nil
}

// fail records an error outcome for the cycle and hands the error back to the caller
func (uc *IngestUseCase) fail(ctx context.Context, result *CycleResult, start time.Time, err error) (*CycleResult, error) {
	log.Printf("[%s] ERROR: %v", result.RunID, err)
	result.Status = entities.FetchError
	result.Duration = uc.clock.Since(start)

	uc.appendLog(context.WithoutCancel(ctx), entities.FetchLogEntry{
		RunID:        result.RunID,
		FetchTime:    start,
		Status:       entities.FetchError,
		ErrorMessage: err.Error(),
	})

	uc.metrics.CyclesTotal.WithLabelValues(string(entities.FetchError)).Inc()
	uc.metrics.CycleDuration.Observe(result.Duration.Seconds())
	return result, err
}

// appendLog writes the audit entry; a failure here is only reported, never returned
func (uc *IngestUseCase) appendLog(ctx context.Context, entry entities.FetchLogEntry) {
	if err := uc.repo.AppendFetchLog(ctx, entry); err != nil {
		log.Printf("[%s] Failed to log fetch outcome %q: %v", entry.RunID, entry.Status, err)
	}
}

func (uc *IngestUseCase) observeTrace(trace *entities.ParseTrace) {
	if trace == nil {
		return
	}
	for _, row := range trace.Rows {
		if row.Status == entities.RowSkipped {
			uc.metrics.RowsSkipped.WithLabelValues(row.Reason).Inc()
		}
	}
}

// FilterNewer keeps the records strictly newer than latest, preserving order.
// A nil latest means the store is empty and everything is kept.
func FilterNewer(records []entities.MeasurementRecord, latest *time.Time) []entities.MeasurementRecord {
	out := make([]entities.MeasurementRecord, 0, len(records))
	for _, rec := range records {
		if latest == nil || rec.Timestamp.After(*latest) {
			out = append(out, rec)
		}
	}
	return out
}

// Reconcile upserts every record newer than latest and returns how many rows were inserted or changed.
// A failed row is logged and skipped; the rest of the batch still goes through.
func (uc *IngestUseCase) Reconcile(ctx context.Context, records []entities.MeasurementRecord, latest *time.Time) int {
	candidates := FilterNewer(records, latest)
	if latest == nil {
		log.Printf("Records in DB: empty")
	} else {
		log.Printf("Records in DB: latest is %s", latest.Format(time.DateTime))
	}
	log.Printf("New records to insert: %d", len(candidates))

	inserted := 0
	for _, rec := range candidates {
		changed, err := uc.repo.UpsertMeasurement(ctx, rec)
		if err != nil {
			log.Printf("Error inserting record %s: %v", rec.Timestamp.Format(time.DateTime), err)
			uc.metrics.WriteErrors.Inc()
			continue
		}
		if changed {
			inserted++
		}
	}

	uc.metrics.RecordsWritten.Add(float64(inserted))
	return inserted
}

// CleanOldData deletes measurements older than the retention window.
// Rows exactly at the boundary are kept. Failures are logged and reported as zero deletions.
func (uc *IngestUseCase) CleanOldData(ctx context.Context) int64 {
	cutoff := entities.CivilTime(uc.clock.Now(), uc.location).Add(-uc.retention)
	deleted, err := uc.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		log.Printf("Error cleaning old data: %v", err)
		return 0
	}
	if deleted > 0 {
		log.Printf("Cleaned %d old records", deleted)
		uc.metrics.RetentionDeleted.Add(float64(deleted))
	}
	return deleted
}

// DebugTrace fetches and parses the source and returns the row-by-row trace without touching the store
func (uc *IngestUseCase) DebugTrace(ctx context.Context) (*entities.ParseTrace, error) {
	_, trace, err := uc.scraper.Scrape(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch measurements: %w", err)
	}
	if trace == nil {
		trace = &entities.ParseTrace{}
	}
	trace.FetchTime = uc.clock.Now()
	return trace, nil
}
