package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"attendbot/internal/attendance"
	"attendbot/internal/db/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const recordColumns = `
	id, worker_id, work_date, mode, clock_in, clock_out, approval_status,
	last_pause_started_at, total_paused_seconds, total_hours, remote_reason,
	geo_lat, geo_lon, version`

func scanRecord(row pgx.Row) (*models.AttendanceRecord, error) {
	rec := &models.AttendanceRecord{}
	var mode, approval string
	err := row.Scan(
		&rec.ID,
		&rec.WorkerID,
		&rec.WorkDate,
		&mode,
		&rec.ClockIn,
		&rec.ClockOut,
		&approval,
		&rec.LastPauseStartedAt,
		&rec.TotalPausedSeconds,
		&rec.TotalHours,
		&rec.RemoteReason,
		&rec.GeoLat,
		&rec.GeoLon,
		&rec.Version,
	)
	if err != nil {
		return nil, err
	}
	rec.Mode = models.Mode(mode)
	rec.ApprovalStatus = models.ApprovalStatus(approval)
	return rec, nil
}

// ServerToday resolves the work date with the database clock.
func (db *DB) ServerToday(ctx context.Context, timezone string) (time.Time, error) {
	var today time.Time
	err := db.QueryRow(ctx, `SELECT (now() AT TIME ZONE $1)::date`, timezone).Scan(&today)
	if err != nil {
		return time.Time{}, fmt.Errorf("error resolving work date: %w", err)
	}
	return today, nil
}

// GetRecord returns nil, nil when the worker has no record for workDate.
func (db *DB) GetRecord(ctx context.Context, workerID uuid.UUID, workDate time.Time) (*models.AttendanceRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM attendance_records
		WHERE worker_id = $1 AND work_date = $2::date AND deleted_at IS NULL`

	rec, err := scanRecord(db.QueryRow(ctx, query, workerID, workDate.Format("2006-01-02")))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (db *DB) GetRecordByID(ctx context.Context, id uuid.UUID) (*models.AttendanceRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM attendance_records
		WHERE id = $1 AND deleted_at IS NULL`

	rec, err := scanRecord(db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, attendance.ErrRecordNotFound
	}
	return rec, err
}

// CreateRecord inserts today's record. clock_in and work_date come from the
// database clock, in the worker's timezone for the date.
func (db *DB) CreateRecord(ctx context.Context, nr models.NewRecord) (*models.AttendanceRecord, error) {
	query := `
		INSERT INTO attendance_records
			(id, worker_id, work_date, mode, approval_status, remote_reason, geo_lat, geo_lon)
		VALUES ($1, $2, (now() AT TIME ZONE $3)::date, $4, $5, $6, $7, $8)
		RETURNING ` + recordColumns

	rec, err := scanRecord(db.QueryRow(ctx, query,
		uuid.New(),
		nr.WorkerID,
		nr.Timezone,
		string(nr.Mode),
		string(nr.ApprovalStatus),
		nr.RemoteReason,
		nr.GeoLat,
		nr.GeoLon,
	))
	if isUniqueViolation(err) {
		return nil, attendance.ErrDuplicateRecord
	}
	if err != nil {
		return nil, fmt.Errorf("error creating attendance record: %w", err)
	}
	return rec, nil
}

// UpdateOpenRecord applies a pause or resume if the record is still open and
// unchanged since expectedVersion.
func (db *DB) UpdateOpenRecord(ctx context.Context, id uuid.UUID, expectedVersion int, upd models.RecordUpdate) (*models.AttendanceRecord, bool, error) {
	query := `
		UPDATE attendance_records
		SET last_pause_started_at = CASE WHEN $2 THEN NULL ELSE COALESCE($3, last_pause_started_at) END,
			total_paused_seconds = GREATEST(total_paused_seconds, COALESCE($4, total_paused_seconds)),
			version = version + 1
		WHERE id = $1 AND version = $5 AND clock_out IS NULL AND deleted_at IS NULL
		RETURNING ` + recordColumns

	rec, err := scanRecord(db.QueryRow(ctx, query,
		id,
		upd.ClearPause,
		upd.LastPauseStartedAt,
		upd.TotalPausedSeconds,
		expectedVersion,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		current, err := db.GetRecordByID(ctx, id)
		return current, false, err
	}
	if err != nil {
		return nil, false, fmt.Errorf("error updating attendance record: %w", err)
	}
	return rec, true, nil
}

// CompleteRecord sets clock_out while the record is open and still at
// expectedVersion. Otherwise the stored record is returned unchanged.
func (db *DB) CompleteRecord(ctx context.Context, id uuid.UUID, expectedVersion int, c models.Completion) (*models.AttendanceRecord, bool, error) {
	query := `
		UPDATE attendance_records
		SET clock_out = $2,
			last_pause_started_at = NULL,
			total_paused_seconds = $3,
			total_hours = $4,
			version = version + 1
		WHERE id = $1 AND clock_out IS NULL AND version = $5 AND deleted_at IS NULL
		RETURNING ` + recordColumns

	rec, err := scanRecord(db.QueryRow(ctx, query,
		id,
		c.ClockOut,
		c.TotalPausedSeconds,
		c.TotalHours,
		expectedVersion,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		current, err := db.GetRecordByID(ctx, id)
		return current, false, err
	}
	if err != nil {
		return nil, false, fmt.Errorf("error completing attendance record: %w", err)
	}
	return rec, true, nil
}

func (db *DB) SetApprovalStatus(ctx context.Context, id uuid.UUID, status models.ApprovalStatus) (*models.AttendanceRecord, error) {
	query := `
		UPDATE attendance_records
		SET approval_status = $2,
			total_hours = CASE
				WHEN clock_out IS NULL THEN total_hours
				WHEN mode = 'remote' AND $2 = 'rejected' THEN 0
				ELSE round((GREATEST(0, extract(epoch FROM clock_out - clock_in) - total_paused_seconds) / 3600)::numeric, 2)::double precision
			END,
			version = version + 1
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING ` + recordColumns

	rec, err := scanRecord(db.QueryRow(ctx, query, id, string(status)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, attendance.ErrRecordNotFound
	}
	return rec, err
}

// ListOpenRecords retrieves every record that has not been clocked out.
func (db *DB) ListOpenRecords(ctx context.Context) ([]*models.AttendanceRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM attendance_records
		WHERE clock_out IS NULL AND deleted_at IS NULL
		ORDER BY clock_in`

	rows, err := db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*models.AttendanceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ListRecordsBetween retrieves records whose work date falls in [from, to].
func (db *DB) ListRecordsBetween(ctx context.Context, from, to time.Time) ([]*models.AttendanceRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM attendance_records
		WHERE work_date BETWEEN $1::date AND $2::date AND deleted_at IS NULL
		ORDER BY work_date, clock_in`

	rows, err := db.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("error listing records: %w", err)
	}
	defer rows.Close()

	var recs []*models.AttendanceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

var (
	_ attendance.Ledger    = (*DB)(nil)
	_ attendance.Directory = (*DB)(nil)
)
