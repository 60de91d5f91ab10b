/*
Package sqlite provides a SQLite-backed implementation of attendance.Store.

PURPOSE:
  Persists punches, capture attempts, sessions, anomalies, overtime records
  and the notification log, plus the reference data the engine reads
  (tenants, settings, employees, shifts, schedules, leave, holidays,
  managers). In production the same patterns apply to PostgreSQL with only
  minor dialect differences.

IDEMPOTENCE ENFORCEMENT:
  The idempotence keys are unique indexes, so a concurrent writer racing the
  engine can never create a second row:
  - idx_anomalies_occurrence:   one anomaly per (tenant, employee, date, type)
  - idx_overtime_employee_day:  one overtime record per (tenant, employee, date)
  - punches.id primary key:     a replayed device punch is ErrDuplicatePunch
  Anomalies are never deleted; corrections only annotate.

KEY TABLES:
  punches:             Raw device events plus annotation/correction columns
  punch_corrections:   Append-only correction events
  capture_attempts:    Capture attempts log (technical absence evidence)
  sessions:            Reconciled sessions with their resolved shift window
  anomalies:           Classified anomalies
  overtime_records:    Credited overtime
  notification_log:    Sent notifications per (occurrence key, manager)
  tenant_settings:     Raw settings JSON, parsed by factory.SettingsFactory

TIMESTAMPS:
  Stored as fixed-width UTC text (tsLayout) so lexicographic comparison in
  range queries matches chronological order. Dates are YYYY-MM-DD.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

USAGE:
  store, err := sqlite.New("./data/attendance.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := attendance.NewEngine(store, sender, attendance.SystemClock{})

SEE ALSO:
  - attendance/store.go: Interface definitions
  - attendance/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/attendance-engine/attendance"
)

// tsLayout is fixed width so stored timestamps sort chronologically.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements attendance.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ attendance.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Punches (raw device events; never deleted)
	CREATE TABLE IF NOT EXISTS punches (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		ts TEXT NOT NULL,
		effective_ts TEXT NOT NULL,
		direction TEXT NOT NULL,
		method TEXT NOT NULL,
		device_id TEXT,
		site_id TEXT,
		raw_payload TEXT,
		status TEXT NOT NULL,
		reject_reason TEXT,
		has_anomaly INTEGER NOT NULL DEFAULT 0,
		anomaly_type TEXT,
		anomaly_note TEXT,
		corrected_ts TEXT,
		is_corrected INTEGER NOT NULL DEFAULT 0,
		corrected_by TEXT,
		corrected_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_punches_employee_effective
		ON punches(tenant_id, employee_id, effective_ts);

	-- Punch corrections (append-only)
	CREATE TABLE IF NOT EXISTS punch_corrections (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		punch_id TEXT NOT NULL REFERENCES punches(id),
		corrected_by TEXT NOT NULL,
		note TEXT,
		previous_ts TEXT NOT NULL,
		corrected_ts TEXT,
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_punch_corrections_punch
		ON punch_corrections(tenant_id, punch_id);

	-- Capture attempts log
	CREATE TABLE IF NOT EXISTS capture_attempts (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		device_id TEXT,
		ts TEXT NOT NULL,
		status TEXT NOT NULL,
		error_code TEXT,
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_capture_attempts_employee_ts
		ON capture_attempts(tenant_id, employee_id, ts);

	-- Sessions (rewritten on every reconciliation)
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		date TEXT NOT NULL,
		open_punch_id TEXT,
		opened_at TEXT,
		close_punch_id TEXT,
		closed_at TEXT,
		has_window INTEGER NOT NULL DEFAULT 0,
		window_date TEXT,
		window_start INTEGER,
		window_end INTEGER,
		window_break INTEGER,
		window_night INTEGER,
		window_source TEXT,
		window_shift_id TEXT,
		window_tz TEXT,
		detection_deadline TEXT NOT NULL,
		state TEXT NOT NULL,
		worked_minutes INTEGER NOT NULL DEFAULT 0,
		late_minutes INTEGER NOT NULL DEFAULT 0,
		early_leave_minutes INTEGER NOT NULL DEFAULT 0,
		overtime_minutes INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_tenant_date
		ON sessions(tenant_id, date, employee_id);

	-- Anomalies (annotated, never deleted)
	CREATE TABLE IF NOT EXISTS anomalies (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		date TEXT NOT NULL,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		session_id TEXT,
		punch_id TEXT,
		late_minutes INTEGER NOT NULL DEFAULT 0,
		early_leave_minutes INTEGER NOT NULL DEFAULT 0,
		reason TEXT,
		detected_at TEXT NOT NULL,
		is_corrected INTEGER NOT NULL DEFAULT 0,
		corrected_by TEXT,
		corrected_at TEXT,
		correction_note TEXT
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_anomalies_occurrence
		ON anomalies(tenant_id, employee_id, date, type);
	CREATE INDEX IF NOT EXISTS idx_anomalies_tenant_date
		ON anomalies(tenant_id, date);

	-- Overtime records
	CREATE TABLE IF NOT EXISTS overtime_records (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		date TEXT NOT NULL,
		hours TEXT NOT NULL,
		type TEXT NOT NULL,
		rate TEXT NOT NULL,
		status TEXT NOT NULL,
		approved_hours TEXT,
		source_session_id TEXT,
		notes TEXT,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_overtime_employee_day
		ON overtime_records(tenant_id, employee_id, date);

	-- Notification log
	CREATE TABLE IF NOT EXISTS notification_log (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		occurrence_key TEXT NOT NULL,
		anomaly_type TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		manager_id TEXT NOT NULL,
		sent_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_notification_log_key
		ON notification_log(tenant_id, occurrence_key, manager_id, sent_at);
	CREATE INDEX IF NOT EXISTS idx_notification_log_sent_at
		ON notification_log(sent_at);

	-- Reference data (owned by other systems, mirrored here)
	CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tenant_settings (
		tenant_id TEXT PRIMARY KEY,
		settings_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS employees (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		email TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		default_shift_id TEXT,
		eligible_for_overtime INTEGER NOT NULL DEFAULT 1,
		max_overtime_week TEXT,
		max_overtime_month TEXT,
		overtime_cap_policy TEXT,
		PRIMARY KEY (tenant_id, id)
	);

	CREATE TABLE IF NOT EXISTS shifts (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		start_time INTEGER NOT NULL,
		end_time INTEGER NOT NULL,
		break_minutes INTEGER NOT NULL DEFAULT 0,
		is_night INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (tenant_id, id)
	);

	CREATE TABLE IF NOT EXISTS schedules (
		tenant_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		date TEXT NOT NULL,
		shift_id TEXT,
		custom_start INTEGER,
		custom_end INTEGER,
		suspended INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (tenant_id, employee_id, date)
	);

	CREATE TABLE IF NOT EXISTS leaves (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		from_date TEXT NOT NULL,
		to_date TEXT NOT NULL,
		status TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_leaves_employee
		ON leaves(tenant_id, employee_id, from_date, to_date);

	CREATE TABLE IF NOT EXISTS holidays (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		date TEXT NOT NULL,
		name TEXT NOT NULL,
		recurring INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_holidays_tenant
		ON holidays(tenant_id, date);

	CREATE TABLE IF NOT EXISTS managers (
		tenant_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		manager_id TEXT NOT NULL,
		name TEXT NOT NULL,
		email TEXT,
		PRIMARY KEY (tenant_id, employee_id, manager_id)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"punch_corrections", "punches", "capture_attempts", "sessions", "anomalies",
		"overtime_records", "notification_log", "tenant_settings", "tenants",
		"employees", "shifts", "schedules", "leaves", "holidays", "managers",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// withTx runs fn inside a database transaction. The caller holds s.mu.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) time.Time {
	t, _ := time.Parse(tsLayout, s)
	return t
}

func nullTS(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTS(*t), Valid: true}
}

func parseNullTS(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTS(ns.String)
	return &t
}

func parseDate(s string) attendance.Date {
	d, _ := attendance.ParseDate(s)
	return d
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
