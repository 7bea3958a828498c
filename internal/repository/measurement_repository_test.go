package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/abelzeko/river-monitor/internal/entities"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var prague = mustLoad("Europe/Prague")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func newTestRepo(t *testing.T) *SQLiteMeasurementRepository {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test-measurements.db")
	repo, err := NewSQLiteMeasurementRepository(dbPath, prague)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func f(v float64) *float64 {
	return &v
}

// at builds a civil measurement timestamp
func at(day, hour, minute int) time.Time {
	return time.Date(2024, time.May, day, hour, minute, 0, 0, time.UTC)
}

func randomRecord(ts time.Time) entities.MeasurementRecord {
	return entities.MeasurementRecord{
		Timestamp:   ts,
		WaterLevel:  f(float64(gofakeit.IntRange(100, 600))),
		FlowRate:    f(gofakeit.Float64Range(20, 900)),
		Temperature: f(gofakeit.Float64Range(0, 25)),
	}
}

func TestNewRepository_CreatesMissingDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "data", "nested", "measurements.db")

	repo, err := NewSQLiteMeasurementRepository(dbPath, prague)
	require.NoError(t, err)
	defer repo.Close()

	assert.NoError(t, repo.Ping(context.Background()))
	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestNewRepository_MigrationsAreRepeatable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")

	first, err := NewSQLiteMeasurementRepository(dbPath, prague)
	require.NoError(t, err)
	_, err = first.UpsertMeasurement(context.Background(), randomRecord(at(20, 10, 0)))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewSQLiteMeasurementRepository(dbPath, prague)
	require.NoError(t, err)
	defer second.Close()

	latest, err := second.LatestTimestamp(context.Background())
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.Equal(at(20, 10, 0)))
	assert.NoError(t, second.Ping(context.Background()))
}

func TestLatestTimestamp_EmptyStore(t *testing.T) {
	repo := newTestRepo(t)

	latest, err := repo.LatestTimestamp(context.Background())
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestLatestTimestamp_ReturnsMax(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, ts := range []time.Time{at(20, 10, 0), at(21, 9, 50), at(20, 23, 0)} {
		_, err := repo.UpsertMeasurement(ctx, randomRecord(ts))
		require.NoError(t, err)
	}

	latest, err := repo.LatestTimestamp(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.Equal(at(21, 9, 50)), "got %s", latest)
	assert.Equal(t, time.UTC, latest.Location(), "measurement timestamps come back as civil time")
}

func TestUpsertMeasurement_InsertUpdateUnchanged(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rec := entities.MeasurementRecord{Timestamp: at(20, 10, 0), WaterLevel: f(350), FlowRate: f(12.5), Temperature: f(15.2)}

	changed, err := repo.UpsertMeasurement(ctx, rec)
	require.NoError(t, err)
	assert.True(t, changed, "first write inserts")

	changed, err = repo.UpsertMeasurement(ctx, rec)
	require.NoError(t, err)
	assert.False(t, changed, "identical values are not a change")

	rec.Temperature = nil
	changed, err = repo.UpsertMeasurement(ctx, rec)
	require.NoError(t, err)
	assert.True(t, changed, "value to null is a change")

	changed, err = repo.UpsertMeasurement(ctx, rec)
	require.NoError(t, err)
	assert.False(t, changed, "null to null is not a change")

	rec.WaterLevel = f(351)
	changed, err = repo.UpsertMeasurement(ctx, rec)
	require.NoError(t, err)
	assert.True(t, changed)

	stored, err := repo.ListMeasurements(ctx, 10, nil)
	require.NoError(t, err)
	require.Len(t, stored, 1, "upsert never duplicates a timestamp")
	require.NotNil(t, stored[0].WaterLevel)
	assert.InDelta(t, 351, *stored[0].WaterLevel, 1e-9)
	assert.Nil(t, stored[0].Temperature)
}

func TestListMeasurements_OrderLimitFrom(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for minute := 0; minute < 60; minute += 10 {
		_, err := repo.UpsertMeasurement(ctx, randomRecord(at(20, 10, minute)))
		require.NoError(t, err)
	}

	all, err := repo.ListMeasurements(ctx, 100, nil)
	require.NoError(t, err)
	require.Len(t, all, 6)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].Timestamp.After(all[i].Timestamp), "newest first")
	}

	limited, err := repo.ListMeasurements(ctx, 2, nil)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.True(t, limited[0].Timestamp.Equal(at(20, 10, 50)))

	from := at(20, 10, 30)
	since, err := repo.ListMeasurements(ctx, 100, &from)
	require.NoError(t, err)
	require.Len(t, since, 3, "from is inclusive")
	assert.True(t, since[2].Timestamp.Equal(from))
}

func TestListMeasurements_Empty(t *testing.T) {
	repo := newTestRepo(t)

	records, err := repo.ListMeasurements(context.Background(), 10, nil)
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestDeleteOlderThan_Boundary(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	cutoff := at(13, 12, 0)
	older := cutoff.Add(-time.Minute)
	newer := cutoff.Add(time.Minute)
	for _, ts := range []time.Time{older, cutoff, newer} {
		_, err := repo.UpsertMeasurement(ctx, randomRecord(ts))
		require.NoError(t, err)
	}

	deleted, err := repo.DeleteOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	remaining, err := repo.ListMeasurements(ctx, 10, nil)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	assert.True(t, remaining[0].Timestamp.Equal(newer))
	assert.True(t, remaining[1].Timestamp.Equal(cutoff), "row exactly at the cutoff is kept")
}

func TestDeleteOlderThan_ComparesCivilTime(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.UpsertMeasurement(ctx, randomRecord(at(20, 10, 0)))
	require.NoError(t, err)

	deleted, err := repo.DeleteOlderThan(ctx, at(20, 10, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)

	deleted, err = repo.DeleteOlderThan(ctx, at(20, 10, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestUpsertMeasurement_SpringForwardGapIsItsOwnRow(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	gap := time.Date(2024, time.March, 31, 2, 30, 0, 0, time.UTC)
	after := time.Date(2024, time.March, 31, 3, 30, 0, 0, time.UTC)

	for _, ts := range []time.Time{gap, after} {
		changed, err := repo.UpsertMeasurement(ctx, randomRecord(ts))
		require.NoError(t, err)
		assert.True(t, changed, "%s is a new row", ts)
	}

	stored, err := repo.ListMeasurements(ctx, 10, nil)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, after, stored[0].Timestamp)
	assert.Equal(t, gap, stored[1].Timestamp)
}

func TestFetchLog_AppendAndLast(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	last, err := repo.LastFetchLog(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	require.NoError(t, repo.AppendFetchLog(ctx, entities.FetchLogEntry{
		RunID:           "run-1",
		FetchTime:       at(20, 10, 0),
		Status:          entities.FetchSuccess,
		RecordsInserted: 12,
	}))
	require.NoError(t, repo.AppendFetchLog(ctx, entities.FetchLogEntry{
		RunID:        "run-2",
		FetchTime:    at(20, 10, 30),
		Status:       entities.FetchError,
		ErrorMessage: "no data parsed from HTML",
	}))

	last, err = repo.LastFetchLog(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "run-2", last.RunID)
	assert.Equal(t, entities.FetchError, last.Status)
	assert.Equal(t, 0, last.RecordsInserted)
	assert.Equal(t, "no data parsed from HTML", last.ErrorMessage)
	assert.True(t, last.FetchTime.Equal(at(20, 10, 30)))
}

func TestFetchLog_KeepsInstantInSourceZone(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	instant := time.Date(2024, time.May, 20, 8, 30, 0, 0, time.UTC)
	require.NoError(t, repo.AppendFetchLog(ctx, entities.FetchLogEntry{
		RunID:     "run-1",
		FetchTime: instant,
		Status:    entities.FetchSuccess,
	}))

	last, err := repo.LastFetchLog(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.FetchTime.Equal(instant))
	assert.Equal(t, "2024-05-20 10:30:00", last.FetchTime.Format(time.DateTime))
}

func TestFetchLog_SuccessHasNoErrorMessage(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.AppendFetchLog(ctx, entities.FetchLogEntry{
		RunID:        "run-1",
		FetchTime:    at(20, 10, 0),
		Status:       entities.FetchSuccess,
		ErrorMessage: "ignored",
	}))

	last, err := repo.LastFetchLog(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Empty(t, last.ErrorMessage)
}

func TestFetchLog_RejectsUnknownStatus(t *testing.T) {
	repo := newTestRepo(t)

	err := repo.AppendFetchLog(context.Background(), entities.FetchLogEntry{
		RunID:     "run-1",
		FetchTime: at(20, 10, 0),
		Status:    entities.FetchStatus("pending"),
	})
	assert.Error(t, err)
}
