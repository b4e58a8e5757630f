package store

import (
	"context"
	"database/sql"
	"fmt"

	"enermon/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ ReadingStore = (*SQLiteStore)(nil)

// SQLiteStore mirrors extracted readings into a SQLite database so they can
// be queried ad hoc without re-parsing CSVs.
type SQLiteStore struct {
	db *sql.DB
}

const readingsSchema = `
CREATE TABLE IF NOT EXISTS readings (
	client_name     TEXT NOT NULL,
	device_id       TEXT NOT NULL,
	device_name     TEXT NOT NULL,
	param_key       TEXT NOT NULL,
	timestamp       TEXT NOT NULL,
	value           REAL NOT NULL,
	extraction_date TEXT NOT NULL,
	PRIMARY KEY (client_name, device_id, param_key, timestamp)
);
CREATE INDEX IF NOT EXISTS idx_readings_device ON readings (device_id, param_key);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the readings table exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(readingsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating readings schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// WriteReadings upserts a batch of readings inside a single transaction.
// Re-running an extraction for the same window overwrites the prior rows
// rather than duplicating them.
func (s *SQLiteStore) WriteReadings(ctx context.Context, readings []domain.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO readings
			(client_name, device_id, device_name, param_key, timestamp, value, extraction_date)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range readings {
		if _, err := stmt.ExecContext(ctx,
			r.ClientName, string(r.DeviceID), r.DeviceName, r.ParamKey,
			r.Timestamp, r.Value, r.ExtractionDate,
		); err != nil {
			return fmt.Errorf("inserting reading for device %s: %w", r.DeviceID, err)
		}
	}

	return tx.Commit()
}

// ReadReadings returns all readings for one device/parameter pair ordered by
// timestamp.
func (s *SQLiteStore) ReadReadings(ctx context.Context, deviceID domain.DeviceID, paramKey string) ([]domain.Reading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT client_name, device_id, device_name, param_key, timestamp, value, extraction_date
		FROM readings
		WHERE device_id = ? AND param_key = ?
		ORDER BY timestamp`, string(deviceID), paramKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []domain.Reading
	for rows.Next() {
		var r domain.Reading
		var id string
		if err := rows.Scan(&r.ClientName, &id, &r.DeviceName, &r.ParamKey,
			&r.Timestamp, &r.Value, &r.ExtractionDate); err != nil {
			return nil, err
		}
		r.DeviceID = domain.DeviceID(id)
		readings = append(readings, r)
	}
	return readings, rows.Err()
}
