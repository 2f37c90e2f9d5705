package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/blelocate/internal/ble"
)

// DB is the reading store: an append-only log of BLE signal-strength
// samples plus a ledger of fit runs.
type DB struct {
	*sql.DB
}

// OpenDB opens the database at path and applies connection pragmas without
// touching the schema.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := applyPragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return &DB{sqlDB}, nil
}

// NewDB opens the database at path and migrates it to the latest schema.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	migrationsFS, err := MigrationsFS()
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := db.MigrateUp(migrationsFS); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func applyPragmas(sqlDB *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return nil
}

// RecordReadings appends readings in a single transaction. Either every
// reading is stored or none is.
func (db *DB) RecordReadings(ctx context.Context, readings []ble.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO readings (beacon_id, tag, label, ts_unix_nanos, rssi, battery)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, r := range readings {
		if r.BeaconID == "" {
			return fmt.Errorf("reading %d: empty beacon id", i)
		}
		var battery sql.NullFloat64
		if r.Battery != nil {
			battery = sql.NullFloat64{Float64: *r.Battery, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, r.BeaconID, r.Tag, r.Label, r.Timestamp.UnixNano(), r.RSSI, battery); err != nil {
			return fmt.Errorf("reading %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// ReadingFilter narrows a Readings query. Zero values mean unbounded.
// From is inclusive, To is exclusive.
type ReadingFilter struct {
	From    time.Time
	To      time.Time
	Beacons []string
	Tags    []int
}

func (f ReadingFilter) where() (string, []any) {
	var clauses []string
	var args []any
	if !f.From.IsZero() {
		clauses = append(clauses, "ts_unix_nanos >= ?")
		args = append(args, f.From.UnixNano())
	}
	if !f.To.IsZero() {
		clauses = append(clauses, "ts_unix_nanos < ?")
		args = append(args, f.To.UnixNano())
	}
	if len(f.Beacons) > 0 {
		clauses = append(clauses, "beacon_id IN ("+placeholders(len(f.Beacons))+")")
		for _, b := range f.Beacons {
			args = append(args, b)
		}
	}
	if len(f.Tags) > 0 {
		clauses = append(clauses, "tag IN ("+placeholders(len(f.Tags))+")")
		for _, t := range f.Tags {
			args = append(args, t)
		}
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// Readings returns the readings matching f in timestamp order. Readings
// sharing a timestamp come back in insertion order.
func (db *DB) Readings(ctx context.Context, f ReadingFilter) ([]ble.Reading, error) {
	where, args := f.where()
	rows, err := db.QueryContext(ctx, `
		SELECT beacon_id, tag, label, ts_unix_nanos, rssi, battery
		FROM readings`+where+`
		ORDER BY ts_unix_nanos, reading_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ble.Reading
	for rows.Next() {
		var (
			r       ble.Reading
			ts      int64
			battery sql.NullFloat64
		)
		if err := rows.Scan(&r.BeaconID, &r.Tag, &r.Label, &ts, &r.RSSI, &battery); err != nil {
			return nil, err
		}
		r.Timestamp = time.Unix(0, ts).UTC()
		if battery.Valid {
			b := battery.Float64
			r.Battery = &b
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountReadings returns the number of readings matching f.
func (db *DB) CountReadings(ctx context.Context, f ReadingFilter) (int64, error) {
	where, args := f.where()
	var n int64
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM readings"+where, args...).Scan(&n)
	return n, err
}

// LatestTimestamp returns the newest reading timestamp. ok is false when the
// store is empty.
func (db *DB) LatestTimestamp(ctx context.Context) (ts time.Time, ok bool, err error) {
	var v sql.NullInt64
	if err := db.QueryRowContext(ctx, "SELECT MAX(ts_unix_nanos) FROM readings").Scan(&v); err != nil {
		return time.Time{}, false, err
	}
	if !v.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(0, v.Int64).UTC(), true, nil
}

// PruneReadings deletes readings strictly older than before and returns how
// many were removed.
func (db *DB) PruneReadings(ctx context.Context, before time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, "DELETE FROM readings WHERE ts_unix_nanos < ?", before.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// FitRun status values.
const (
	FitRunSucceeded = "succeeded"
	FitRunFailed    = "failed"
)

// FitRun is one attempt to fit and persist a model set.
type FitRun struct {
	RunID             string
	Version           string
	Method            string
	TimeWindow        time.Duration
	BeaconFingerprint string
	RecordCount       int
	InputDim          int
	OutputDim         int
	// ExplainedVariance is the reducer's explained variance ratio per
	// component.
	ExplainedVariance []float64
	Status            string
	Error             string
	Started           time.Time
	Finished          time.Time
}

// RecordFitRun stores r. Run ids are unique.
func (db *DB) RecordFitRun(ctx context.Context, r FitRun) error {
	if r.RunID == "" {
		return errors.New("fit run id is required")
	}
	var ratio string
	if len(r.ExplainedVariance) > 0 {
		b, err := json.Marshal(r.ExplainedVariance)
		if err != nil {
			return fmt.Errorf("fit run %s: %w", r.RunID, err)
		}
		ratio = string(b)
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO fit_runs (
			run_id, model_version, method, time_window_ns, beacon_fingerprint,
			record_count, input_dim, output_dim, explained_variance, status, error,
			started_unix_nanos, finished_unix_nanos
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Version, r.Method, int64(r.TimeWindow), r.BeaconFingerprint,
		r.RecordCount, r.InputDim, r.OutputDim, ratio, r.Status, r.Error,
		r.Started.UnixNano(), r.Finished.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record fit run %s: %w", r.RunID, err)
	}
	return nil
}

// FitRuns returns the most recent fit runs, newest first. limit <= 0 returns
// every run.
func (db *DB) FitRuns(ctx context.Context, limit int) ([]FitRun, error) {
	q := `
		SELECT run_id, model_version, method, time_window_ns, beacon_fingerprint,
			record_count, input_dim, output_dim, explained_variance, status, error,
			started_unix_nanos, finished_unix_nanos
		FROM fit_runs
		ORDER BY started_unix_nanos DESC, run_id`
	var args []any
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FitRun
	for rows.Next() {
		var (
			r                 FitRun
			window            int64
			ratio             string
			started, finished int64
		)
		if err := rows.Scan(&r.RunID, &r.Version, &r.Method, &window, &r.BeaconFingerprint,
			&r.RecordCount, &r.InputDim, &r.OutputDim, &ratio, &r.Status, &r.Error,
			&started, &finished); err != nil {
			return nil, err
		}
		if ratio != "" {
			if err := json.Unmarshal([]byte(ratio), &r.ExplainedVariance); err != nil {
				return nil, fmt.Errorf("fit run %s: explained variance: %w", r.RunID, err)
			}
		}
		r.TimeWindow = time.Duration(window)
		r.Started = time.Unix(0, started).UTC()
		r.Finished = time.Unix(0, finished).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
