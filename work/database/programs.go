package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"kptv-timeshift/work/types"
)

// SaveEPGData inserts or updates a guide source row. A zero id inserts a new row.
func (db *DB) SaveEPGData(ctx context.Context, id int64, tvgID, name string) (int64, error) {
	result, err := db.ExecContext(ctx, `
		INSERT INTO epg_data (id, tvg_id, name) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET tvg_id = excluded.tvg_id, name = excluded.name
	`, nullableID(id), tvgID, name)
	if err != nil {
		return 0, fmt.Errorf("failed to save epg data %s: %w", tvgID, err)
	}
	return savedID(result, id)
}

// SaveProgram inserts a programme for a guide source.
func (db *DB) SaveProgram(ctx context.Context, p *types.ScheduleEntry) (int64, error) {
	result, err := db.ExecContext(ctx, `
		INSERT INTO epg_programs (id, epg_id, start_time, end_time, title, description)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			epg_id = excluded.epg_id,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			title = excluded.title,
			description = excluded.description
	`, nullableID(p.ID), p.EPGDataID, p.Start.Unix(), p.End.Unix(), p.Title, p.Description)
	if err != nil {
		return 0, fmt.Errorf("failed to save program %s: %w", p.Title, err)
	}
	return savedID(result, p.ID)
}

// ClearPrograms removes every programme of a guide source.
func (db *DB) ClearPrograms(ctx context.Context, epgDataID int64) error {
	if _, err := db.ExecContext(ctx, "DELETE FROM epg_programs WHERE epg_id = ?", epgDataID); err != nil {
		return fmt.Errorf("failed to clear programs for epg %d: %w", epgDataID, err)
	}
	return nil
}

// scanProgram reads one programme row
func scanProgram(scan func(dest ...any) error) (*types.ScheduleEntry, error) {
	var p types.ScheduleEntry
	var start, end int64
	if err := scan(&p.ID, &p.EPGDataID, &start, &end, &p.Title, &p.Description); err != nil {
		return nil, err
	}
	p.Start = time.Unix(start, 0).UTC()
	p.End = time.Unix(end, 0).UTC()
	return &p, nil
}

// ProgramAt returns the programme covering the instant at (start <= at < end).
// Returns nil when no programme covers it.
func (db *DB) ProgramAt(ctx context.Context, epgDataID int64, at time.Time) (*types.ScheduleEntry, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, epg_id, start_time, end_time, title, description
		FROM epg_programs
		WHERE epg_id = ? AND start_time <= ? AND end_time > ?
		ORDER BY start_time DESC
		LIMIT 1
	`, epgDataID, at.Unix(), at.Unix())

	p, err := scanProgram(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get program: %w", err)
	}
	return p, nil
}

// ProgramsSince lists programmes starting at or after since, in start order.
func (db *DB) ProgramsSince(ctx context.Context, epgDataID int64, since time.Time) ([]*types.ScheduleEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, epg_id, start_time, end_time, title, description
		FROM epg_programs
		WHERE epg_id = ? AND start_time >= ?
		ORDER BY start_time
	`, epgDataID, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to list programs: %w", err)
	}
	defer rows.Close()

	var programs []*types.ScheduleEntry
	for rows.Next() {
		p, err := scanProgram(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan program: %w", err)
		}
		programs = append(programs, p)
	}

	return programs, rows.Err()
}
