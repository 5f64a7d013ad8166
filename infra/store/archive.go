package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/emsgo/dispatch/core/events"
	"github.com/emsgo/dispatch/core/model"
)

// Archive persists the append-only record of status changes and tracking
// samples to a SQLite database. The live stores stay in memory; the archive
// is what survives a restart and what reporting queries read.
type Archive struct {
	db *sql.DB
}

// NewArchive opens or creates the database at path and ensures schema.
func NewArchive(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	schema := `CREATE TABLE IF NOT EXISTS status_changes (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        ts INTEGER,
        dispatch_id TEXT,
        vehicle_id TEXT,
        new_status TEXT,
        record TEXT
    );
    CREATE TABLE IF NOT EXISTS tracking_samples (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        ts INTEGER,
        vehicle_id TEXT,
        dispatch_id TEXT,
        record TEXT
    );`
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &Archive{db: db}, nil
}

// AppendStatusChange writes one committed transition to the archive.
func (a *Archive) AppendStatusChange(ctx context.Context, ev events.DispatchStatusChanged) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO status_changes (ts, dispatch_id, vehicle_id, new_status, record) VALUES (?, ?, ?, ?, ?)`,
		ev.Timestamp.Unix(), ev.DispatchID, ev.VehicleID, string(ev.NewStatus), string(b))
	return err
}

// AppendSample writes one accepted tracking sample to the archive.
func (a *Archive) AppendSample(ctx context.Context, s model.TrackingSample) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO tracking_samples (ts, vehicle_id, dispatch_id, record) VALUES (?, ?, ?, ?)`,
		s.Timestamp.Unix(), s.VehicleID, s.DispatchID, string(b))
	return err
}

// ArchiveQuery narrows an archive read. Zero values are wildcards.
type ArchiveQuery struct {
	Start      time.Time
	End        time.Time
	VehicleID  string
	DispatchID string
}

// QueryStatusChanges returns archived transitions matching q in time order.
func (a *Archive) QueryStatusChanges(ctx context.Context, q ArchiveQuery) ([]events.DispatchStatusChanged, error) {
	query := `SELECT record FROM status_changes WHERE 1=1`
	var args []any
	if !q.Start.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, q.Start.Unix())
	}
	if !q.End.IsZero() {
		query += ` AND ts <= ?`
		args = append(args, q.End.Unix())
	}
	if q.VehicleID != "" {
		query += ` AND vehicle_id = ?`
		args = append(args, q.VehicleID)
	}
	if q.DispatchID != "" {
		query += ` AND dispatch_id = ?`
		args = append(args, q.DispatchID)
	}
	query += ` ORDER BY ts`
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []events.DispatchStatusChanged
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var r events.DispatchStatusChanged
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// QuerySamples returns archived tracking samples matching q in time order.
func (a *Archive) QuerySamples(ctx context.Context, q ArchiveQuery) ([]model.TrackingSample, error) {
	query := `SELECT record FROM tracking_samples WHERE 1=1`
	var args []any
	if !q.Start.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, q.Start.Unix())
	}
	if !q.End.IsZero() {
		query += ` AND ts <= ?`
		args = append(args, q.End.Unix())
	}
	if q.VehicleID != "" {
		query += ` AND vehicle_id = ?`
		args = append(args, q.VehicleID)
	}
	if q.DispatchID != "" {
		query += ` AND dispatch_id = ?`
		args = append(args, q.DispatchID)
	}
	query += ` ORDER BY ts`
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.TrackingSample
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var r model.TrackingSample
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Close closes the underlying database.
func (a *Archive) Close() error { return a.db.Close() }
