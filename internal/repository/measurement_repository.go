// Package repository provides data access implementations
package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/abelzeko/river-monitor/internal/entities"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

// timestampLayout keeps civil time as sortable text; lexical order is chronological
const timestampLayout = "2006-01-02 15:04:05"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MeasurementRepository defines the persistence operations for measurements and the fetch log
type MeasurementRepository interface {
	LatestTimestamp(ctx context.Context) (*time.Time, error)
	UpsertMeasurement(ctx context.Context, rec entities.MeasurementRecord) (bool, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	ListMeasurements(ctx context.Context, limit int, from *time.Time) ([]entities.MeasurementRecord, error)
	AppendFetchLog(ctx context.Context, entry entities.FetchLogEntry) error
	LastFetchLog(ctx context.Context) (*entities.FetchLogEntry, error)
	Close() error
}

// SQLiteMeasurementRepository implements MeasurementRepository using SQLite.
// Measurement timestamps are civil time and are stored as-is. Fetch log times are
// instants and are written as wall clock in location.
type SQLiteMeasurementRepository struct {
	db       *sql.DB
	location *time.Location
	DBPath   string
}

// NewSQLiteMeasurementRepository opens the database, creating its directory if needed,
// applies migrations and returns the repository. loc is the zone fetch log times are kept in.
func NewSQLiteMeasurementRepository(dbPath string, loc *time.Location) (*SQLiteMeasurementRepository, error) {
	if dbPath == "" {
		dbPath = filepath.Join("data", "measurements.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}

	log.Printf("Opening database at %s", dbPath)
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteMeasurementRepository{
		db:       db,
		location: loc,
		DBPath:   dbPath,
	}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to init migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to init migrations: %w", err)
	}
	// m.Close would close db as well, so only the source is released here
	defer src.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection
func (r *SQLiteMeasurementRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks the database connection
func (r *SQLiteMeasurementRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// formatCivil writes a measurement timestamp without any zone conversion
func formatCivil(t time.Time) string {
	return t.Format(timestampLayout)
}

func parseCivil(s string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': %w", s, err)
	}
	return t, nil
}

func (r *SQLiteMeasurementRepository) formatInstant(t time.Time) string {
	return t.In(r.location).Format(timestampLayout)
}

func (r *SQLiteMeasurementRepository) parseInstant(s string) (time.Time, error) {
	t, err := time.ParseInLocation(timestampLayout, s, r.location)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse fetch time '%s': %w", s, err)
	}
	return t, nil
}

// LatestTimestamp returns the newest stored measurement time, or nil when the table is empty
func (r *SQLiteMeasurementRepository) LatestTimestamp(ctx context.Context) (*time.Time, error) {
	var latest sql.NullString
	if err := r.db.QueryRowContext(ctx, "SELECT MAX(timestamp) FROM measurements").Scan(&latest); err != nil {
		return nil, fmt.Errorf("failed to get latest timestamp: %w", err)
	}
	if !latest.Valid || latest.String == "" {
		return nil, nil
	}

	t, err := parseCivil(latest.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpsertMeasurement inserts the record or overwrites the values stored under its timestamp.
// It reports true only when a row was inserted or a value actually changed.
func (r *SQLiteMeasurementRepository) UpsertMeasurement(ctx context.Context, rec entities.MeasurementRecord) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO measurements(timestamp, water_level, flow_rate, temperature)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(timestamp) DO UPDATE SET
			water_level=excluded.water_level,
			flow_rate=excluded.flow_rate,
			temperature=excluded.temperature
		WHERE measurements.water_level IS NOT excluded.water_level
			OR measurements.flow_rate IS NOT excluded.flow_rate
			OR measurements.temperature IS NOT excluded.temperature`,
		formatCivil(rec.Timestamp),
		rec.WaterLevel,
		rec.FlowRate,
		rec.Temperature,
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert measurement at %s: %w", formatCivil(rec.Timestamp), err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// DeleteOlderThan removes measurements strictly older than cutoff and returns how many went.
// cutoff is civil time, compared as-is.
func (r *SQLiteMeasurementRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM measurements WHERE timestamp < ?", formatCivil(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old measurements: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

// ListMeasurements returns up to limit records, newest first, optionally at or after from
func (r *SQLiteMeasurementRepository) ListMeasurements(ctx context.Context, limit int, from *time.Time) ([]entities.MeasurementRecord, error) {
	query := `
		SELECT timestamp, water_level, flow_rate, temperature
		FROM measurements`
	var args []any
	if from != nil {
		query += " WHERE timestamp >= ?"
		args = append(args, formatCivil(*from))
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query measurements: %w", err)
	}
	defer rows.Close()

	result := []entities.MeasurementRecord{}
	for rows.Next() {
		var (
			ts                string
			level, flow, temp sql.NullFloat64
		)
		if err := rows.Scan(&ts, &level, &flow, &temp); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		t, err := parseCivil(ts)
		if err != nil {
			return nil, err
		}
		result = append(result, entities.MeasurementRecord{
			Timestamp:   t,
			WaterLevel:  nullFloat(level),
			FlowRate:    nullFloat(flow),
			Temperature: nullFloat(temp),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return result, nil
}

// AppendFetchLog records the outcome of one ingestion cycle
func (r *SQLiteMeasurementRepository) AppendFetchLog(ctx context.Context, entry entities.FetchLogEntry) error {
	var errMsg sql.NullString
	if entry.Status == entities.FetchError {
		errMsg = sql.NullString{String: entry.ErrorMessage, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO fetch_log(run_id, fetch_time, status, records_inserted, error_message)
		VALUES(?, ?, ?, ?, ?)`,
		entry.RunID,
		r.formatInstant(entry.FetchTime),
		string(entry.Status),
		entry.RecordsInserted,
		errMsg,
	)
	if err != nil {
		return fmt.Errorf("failed to append fetch log: %w", err)
	}
	return nil
}

// LastFetchLog returns the most recent fetch log entry, or nil if none was written yet
func (r *SQLiteMeasurementRepository) LastFetchLog(ctx context.Context) (*entities.FetchLogEntry, error) {
	var (
		entry     entities.FetchLogEntry
		fetchTime string
		status    string
		errMsg    sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, run_id, fetch_time, status, records_inserted, error_message
		FROM fetch_log
		ORDER BY id DESC
		LIMIT 1`).Scan(&entry.ID, &entry.RunID, &fetchTime, &status, &entry.RecordsInserted, &errMsg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get last fetch log: %w", err)
	}

	t, err := r.parseInstant(fetchTime)
	if err != nil {
		return nil, err
	}
	entry.FetchTime = t
	entry.Status = entities.FetchStatus(status)
	entry.ErrorMessage = errMsg.String
	return &entry, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
