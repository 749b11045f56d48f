// Package store persists session history the daemon wants to survive a
// restart: the last hunt-loop lock per device, and a rolling log of PPS
// rejections for field diagnostics. Both are optional — nothing in
// internal/session or internal/pps requires a Store to function.
package store

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps a sqlite connection holding hunt-lock and PPS-rejection
// history.
type DB struct {
	*sql.DB
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	return nil
}

// NewDB opens (creating if necessary) the sqlite database at path,
// applies pragmas, and brings the schema up to date via migrations.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db := &DB{sqlDB}

	if err := applyPragmas(sqlDB); err != nil {
		return nil, fmt.Errorf("failed to apply PRAGMAs: %w", err)
	}

	var tableCount int
	err = sqlDB.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'`).Scan(&tableCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count tables: %w", err)
	}
	if tableCount == 0 {
		if _, err := sqlDB.Exec(schemaSQL); err != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
		latest, err := GetLatestMigrationVersion(migrationSourceFS())
		if err != nil {
			return nil, fmt.Errorf("failed to get latest migration version: %w", err)
		}
		if err := db.BaselineAtVersion(latest); err != nil {
			return nil, fmt.Errorf("failed to baseline fresh database: %w", err)
		}
		return db, nil
	}

	if err := db.MigrateUp(migrationSourceFS()); err != nil {
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	return db, nil
}

func migrationSourceFS() fs.FS {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		panic(err) // embed directive guarantees this subdirectory exists
	}
	return sub
}

// RecordHuntLock stores a successful hunt-loop lock for devicePath.
func (db *DB) RecordHuntLock(devicePath, driverName string, baudRate, stopBits int, at time.Time) error {
	_, err := db.Exec(
		`INSERT INTO hunt_lock (device_path, driver_name, baud_rate, stop_bits, locked_at_unix) VALUES (?, ?, ?, ?, ?)`,
		devicePath, driverName, baudRate, stopBits, at.Unix(),
	)
	return err
}

// HuntLock is one recorded hunt-loop lock.
type HuntLock struct {
	DevicePath string
	DriverName string
	BaudRate   int
	StopBits   int
	LockedAt   time.Time
}

// LastHuntLock returns the most recent recorded lock for devicePath, or
// nil if none exists.
func (db *DB) LastHuntLock(devicePath string) (*HuntLock, error) {
	row := db.QueryRow(
		`SELECT driver_name, baud_rate, stop_bits, locked_at_unix FROM hunt_lock
		 WHERE device_path = ? ORDER BY id DESC LIMIT 1`, devicePath)
	var hl HuntLock
	hl.DevicePath = devicePath
	var lockedUnix int64
	if err := row.Scan(&hl.DriverName, &hl.BaudRate, &hl.StopBits, &lockedUnix); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	hl.LockedAt = time.Unix(lockedUnix, 0).UTC()
	return &hl, nil
}

// RecordPPSRejection appends one PPS edge rejection to the diagnostic
// log.
func (db *DB) RecordPPSRejection(devicePath, reason string, at time.Time) error {
	_, err := db.Exec(
		`INSERT INTO pps_rejection (device_path, reason, occurred_at_unix) VALUES (?, ?, ?)`,
		devicePath, reason, at.Unix(),
	)
	return err
}

// PPSRejectionCount returns how many rejections were recorded for
// devicePath since the given time.
func (db *DB) PPSRejectionCount(devicePath string, since time.Time) (int, error) {
	var n int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM pps_rejection WHERE device_path = ? AND occurred_at_unix >= ?`,
		devicePath, since.Unix(),
	).Scan(&n)
	return n, err
}

// RecentPPSRejections returns the most recent rejection reasons for
// devicePath, newest first.
func (db *DB) RecentPPSRejections(devicePath string, limit int) ([]string, error) {
	rows, err := db.Query(
		`SELECT reason FROM pps_rejection WHERE device_path = ? ORDER BY id DESC LIMIT ?`,
		devicePath, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var reason string
		if err := rows.Scan(&reason); err != nil {
			return nil, err
		}
		out = append(out, reason)
	}
	return out, rows.Err()
}

// RecordPPSOffset appends one successfully published PPS time-delta
// sample, for offline jitter analysis (cmd/tools/ppsplot).
func (db *DB) RecordPPSOffset(devicePath string, realSec int64, offsetNanos int64, at time.Time) error {
	_, err := db.Exec(
		`INSERT INTO pps_offset (device_path, real_sec, offset_nanos, occurred_at_unix) VALUES (?, ?, ?, ?)`,
		devicePath, realSec, offsetNanos, at.Unix(),
	)
	return err
}

// PPSOffsetSample is one recorded PPS time-delta offset.
type PPSOffsetSample struct {
	RealSec     int64
	OffsetNanos int64
	OccurredAt  time.Time
}

// RecentPPSOffsets returns the most recent offset samples for
// devicePath, oldest first (ready to feed a time-series plot).
func (db *DB) RecentPPSOffsets(devicePath string, limit int) ([]PPSOffsetSample, error) {
	rows, err := db.Query(
		`SELECT real_sec, offset_nanos, occurred_at_unix FROM pps_offset
		 WHERE device_path = ? ORDER BY id DESC LIMIT ?`,
		devicePath, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PPSOffsetSample
	for rows.Next() {
		var s PPSOffsetSample
		var occurredUnix int64
		if err := rows.Scan(&s.RealSec, &s.OffsetNanos, &occurredUnix); err != nil {
			return nil, err
		}
		s.OccurredAt = time.Unix(occurredUnix, 0).UTC()
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// BackupNow writes a VACUUM INTO snapshot of the database to a
// timestamped file and returns its path; used by the admin backup route.
func (db *DB) BackupNow() (string, error) {
	path := fmt.Sprintf("gnssd-backup-%d.db", time.Now().Unix())
	if _, err := db.Exec("VACUUM INTO ?", path); err != nil {
		return "", err
	}
	return path, nil
}
