package attendance

import (
	"context"
	"time"

	"attendbot/internal/db/models"
)

// completeAttempts bounds how often a completion is rebuilt after losing a
// version race.
const completeAttempts = 3

// Complete builds the clock-out write for rec at the given instant. An open
// pause is folded into the paused total so the record is never both paused
// and completed.
func Complete(rec *models.AttendanceRecord, at time.Time) models.Completion {
	paused := rec.TotalPausedSeconds
	if rec.LastPauseStartedAt != nil {
		paused += pausedSeconds(*rec.LastPauseStartedAt, at)
	}
	return models.Completion{
		ClockOut:           at,
		TotalPausedSeconds: paused,
		TotalHours:         recordedHours(rec, at, paused),
	}
}

// recordedHours is the total_hours snapshot for rec. A rejected remote record
// counts no time, matching Derive.
func recordedHours(rec *models.AttendanceRecord, clockOut time.Time, paused int64) float64 {
	if rec.Mode == models.ModeRemote && rec.ApprovalStatus == models.ApprovalRejected {
		return 0
	}
	return TotalHours(rec.ClockIn, clockOut, paused)
}

// AutoCompletion reports whether a working record has reached goal at now
// and, if so, the completion to write. The clock-out is placed on the goal
// boundary rather than at detection time, so late detection never records
// more than the goal.
func AutoCompletion(rec *models.AttendanceRecord, goal time.Duration, now time.Time) (models.Completion, bool) {
	if rec == nil || goal <= 0 {
		return models.Completion{}, false
	}
	st := Derive(rec, now)
	if st.Status != StatusWorking || st.Rejected || st.Elapsed < goal {
		return models.Completion{}, false
	}

	boundary := rec.ClockIn.Add(rec.TotalPaused() + goal)
	at := now
	if boundary.Before(now) {
		at = boundary
	}
	return Complete(rec, at), true
}

// finalize writes the completion build derives from rec. When another writer
// moved the record first, the completion is rebuilt from the stored row, so a
// stale copy never overwrites pauses it has not seen. It returns the latest
// stored row and whether this call completed it.
func finalize(ctx context.Context, ledger Ledger, rec *models.AttendanceRecord,
	build func(*models.AttendanceRecord) (models.Completion, bool)) (*models.AttendanceRecord, bool, error) {
	for i := 0; i < completeAttempts; i++ {
		c, ok := build(rec)
		if !ok {
			return rec, false, nil
		}
		stored, applied, err := ledger.CompleteRecord(ctx, rec.ID, rec.Version, c)
		if err != nil {
			return nil, false, err
		}
		if applied || stored.ClockOut != nil {
			return stored, applied, nil
		}
		rec = stored
	}
	return rec, false, ErrConflict
}
