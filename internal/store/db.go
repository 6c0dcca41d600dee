// Package store persists throws, sessions and calibrations in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/KingstonPolyAC/PolyField/internal/calibration"
	"github.com/KingstonPolyAC/PolyField/internal/device"
	"github.com/KingstonPolyAC/PolyField/internal/throws"
)

const timeLayout = time.RFC3339Nano

type DB struct {
	*sql.DB
}

var (
	_ throws.Repository       = (*DB)(nil)
	_ device.CalibrationStore = (*DB)(nil)
)

// Open opens the database at path. Call MigrateUp before first use.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000; PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure %s: %w", path, err)
	}
	return &DB{db}, nil
}

// --- throws ---

func (db *DB) AddThrow(ctx context.Context, c throws.Coordinate) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO throws (x, y, distance, circle_type, recorded_at, athlete_id, round, edm_reading, session_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.X, c.Y, c.Distance, string(c.CircleType), c.Timestamp.UTC().Format(timeLayout),
		c.AthleteID, c.Round, c.EDMReading, c.SessionID)
	if err != nil {
		return fmt.Errorf("failed to insert throw: %w", err)
	}
	return nil
}

func (db *DB) Throws(ctx context.Context, circleType calibration.CircleType) ([]throws.Coordinate, error) {
	q := `SELECT x, y, distance, circle_type, recorded_at, athlete_id, round, edm_reading, session_id FROM throws`
	var args []any
	if circleType != "" {
		q += ` WHERE circle_type = ?`
		args = append(args, string(circleType))
	}
	q += ` ORDER BY throw_id`
	return db.queryThrows(ctx, q, args...)
}

func (db *DB) queryThrows(ctx context.Context, q string, args ...any) ([]throws.Coordinate, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query throws: %w", err)
	}
	defer rows.Close()

	out := []throws.Coordinate{}
	for rows.Next() {
		var (
			c          throws.Coordinate
			circleType string
			recordedAt string
		)
		if err := rows.Scan(&c.X, &c.Y, &c.Distance, &circleType, &recordedAt,
			&c.AthleteID, &c.Round, &c.EDMReading, &c.SessionID); err != nil {
			return nil, fmt.Errorf("failed to scan throw: %w", err)
		}
		c.CircleType = calibration.CircleType(circleType)
		if c.Timestamp, err = time.Parse(timeLayout, recordedAt); err != nil {
			return nil, fmt.Errorf("invalid throw timestamp %q: %w", recordedAt, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (db *DB) ClearThrows(ctx context.Context) (int, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM throws`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear throws: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// --- sessions ---

func (db *DB) SaveSession(ctx context.Context, s throws.Session) error {
	var end sql.NullString
	if s.EndTime != nil {
		end = sql.NullString{String: s.EndTime.UTC().Format(timeLayout), Valid: true}
	}
	var stats sql.NullString
	if s.Statistics != nil {
		b, err := json.Marshal(s.Statistics)
		if err != nil {
			return err
		}
		stats = sql.NullString{String: string(b), Valid: true}
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, circle_type, start_time, end_time, statistics)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET end_time = excluded.end_time, statistics = excluded.statistics`,
		s.SessionID, string(s.CircleType), s.StartTime.UTC().Format(timeLayout), end, stats)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Sessions returns every saved session with its throws, oldest first.
func (db *DB) Sessions(ctx context.Context) ([]throws.Session, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT session_id, circle_type, start_time, end_time, statistics FROM sessions ORDER BY start_time`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	var out []throws.Session
	for rows.Next() {
		var (
			s          throws.Session
			circleType string
			start      string
			end, stats sql.NullString
		)
		if err := rows.Scan(&s.SessionID, &circleType, &start, &end, &stats); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s.CircleType = calibration.CircleType(circleType)
		if s.StartTime, err = time.Parse(timeLayout, start); err != nil {
			rows.Close()
			return nil, err
		}
		if end.Valid {
			t, err := time.Parse(timeLayout, end.String)
			if err != nil {
				rows.Close()
				return nil, err
			}
			s.EndTime = &t
		}
		if stats.Valid {
			s.Statistics = &throws.Statistics{}
			if err := json.Unmarshal([]byte(stats.String), s.Statistics); err != nil {
				rows.Close()
				return nil, fmt.Errorf("invalid statistics for session %s: %w", s.SessionID, err)
			}
		}
		out = append(out, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Rows are read before the nested queries since there is one connection.
	for i := range out {
		coords, err := db.queryThrows(ctx,
			`SELECT x, y, distance, circle_type, recorded_at, athlete_id, round, edm_reading, session_id
			 FROM throws WHERE session_id = ? ORDER BY throw_id`, out[i].SessionID)
		if err != nil {
			return nil, err
		}
		out[i].Coordinates = coords
	}
	return out, nil
}

// --- calibrations ---

func (db *DB) LoadCalibration(ctx context.Context, deviceID string) (*calibration.Record, error) {
	var raw string
	err := db.QueryRowContext(ctx, `SELECT record FROM calibrations WHERE device_id = ?`, deviceID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load calibration for %s: %w", deviceID, err)
	}
	var r calibration.Record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("corrupt calibration for %s: %w", deviceID, err)
	}
	return &r, nil
}

func (db *DB) SaveCalibration(ctx context.Context, r calibration.Record) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO calibrations (device_id, record, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at`,
		r.DeviceID, string(b), time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to save calibration for %s: %w", r.DeviceID, err)
	}
	return nil
}
