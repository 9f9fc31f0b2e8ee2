package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"

	"clubhall/internal/booking"
)

// DB wraps sql.DB for the hall booking service.
type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

var (
	ErrHallNotFound           = booking.NewError(booking.KindNotFound, "hall not found")
	ErrBookingNotFound        = booking.NewError(booking.KindNotFound, "booking not found")
	ErrConcurrentModification = booking.NewError(booking.KindConflict, "concurrent modification")
)

// timeLayout keeps stored instants comparable as plain strings within one location.
const timeLayout = time.RFC3339Nano

// NewDB opens the database at path and runs migrations.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL, busy timeout and BEGIN IMMEDIATE so concurrent writers queue instead of failing.
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	instance := &DB{DB: db, path: path, logger: logger}
	if err := instance.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return instance, nil
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS halls (
			id INTEGER PRIMARY KEY,
			name TEXT UNIQUE NOT NULL,
			description TEXT,
			capacity INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			advance_booking_period_days INTEGER NOT NULL DEFAULT 0,
			booking_amount TEXT NOT NULL DEFAULT '0',
			cleaning_charges TEXT NOT NULL DEFAULT '0',
			refundable_deposit TEXT NOT NULL DEFAULT '0',
			additional_charges TEXT NOT NULL DEFAULT '0',
			advance_payment_amount TEXT NOT NULL DEFAULT '0',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS hall_time_slots (
			hall_id INTEGER NOT NULL,
			position INTEGER NOT NULL,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			price TEXT NOT NULL DEFAULT '0',
			PRIMARY KEY (hall_id, start_time),
			FOREIGN KEY (hall_id) REFERENCES halls(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS hall_bookings (
			id TEXT PRIMARY KEY,
			hall_id INTEGER NOT NULL,
			member_id INTEGER,
			booking_date TEXT NOT NULL,
			slot_from TEXT NOT NULL,
			slot_to TEXT NOT NULL,
			purpose TEXT NOT NULL,
			is_full_payment BOOLEAN NOT NULL DEFAULT 0,
			status TEXT NOT NULL CHECK (status IN ('Pending', 'Confirmed', 'Cancelled', 'Completed')),
			total_amount TEXT NOT NULL,
			cancellation_reason TEXT,
			cancellation_date TEXT,
			cancellation_charges TEXT,
			is_refunded BOOLEAN NOT NULL DEFAULT 0,
			refund_amount TEXT,
			refund_remarks TEXT,
			refunded_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			slot_key TEXT NOT NULL DEFAULT '',
			FOREIGN KEY (hall_id) REFERENCES halls(id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_halls_active ON halls(is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_hall_bookings_hall_date ON hall_bookings(hall_id, booking_date)`,
		`CREATE INDEX IF NOT EXISTS idx_hall_bookings_status ON hall_bookings(status, booking_date)`,
		`CREATE INDEX IF NOT EXISTS idx_hall_bookings_member ON hall_bookings(member_id)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return db.ensureSlotKey()
}

// ensureSlotKey adds and backfills hall_bookings.slot_key, the wall-clock
// "HH:MM-HH:MM" of a booking, and indexes it so at most one active booking
// holds a hall, date and slot whatever offset the instants were stored with.
func (db *DB) ensureSlotKey() error {
	_, err := db.Exec(`ALTER TABLE hall_bookings ADD COLUMN slot_key TEXT NOT NULL DEFAULT ''`)
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
		return fmt.Errorf("failed to add slot_key column: %w", err)
	}

	migrations := []string{
		`UPDATE hall_bookings
			SET slot_key = substr(slot_from, 12, 5) || '-' || substr(slot_to, 12, 5)
			WHERE slot_key = ''`,
		`DROP INDEX IF EXISTS ux_hall_bookings_active_slot`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_hall_bookings_active_slot_key
			ON hall_bookings(hall_id, booking_date, slot_key)
			WHERE status IN ` + activeStatusSQL,
	}
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(m), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

func (db *DB) Close() error {
	return db.DB.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func formatTime(t time.Time) string {
	return t.Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func scanNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
