package attendance

import (
	"math"
	"time"

	"attendbot/internal/db/models"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusWorking   Status = "working"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// State is everything a client shows about today's attendance. It is always
// derived from the record and a clock reading and never stored.
type State struct {
	Record          *models.AttendanceRecord
	Status          Status
	Elapsed         time.Duration
	PendingApproval bool
	Rejected        bool
}

// Derive computes the state of rec at now. A nil record is idle.
func Derive(rec *models.AttendanceRecord, now time.Time) State {
	if rec == nil {
		return State{Status: StatusIdle}
	}

	st := State{
		Record:          rec,
		Status:          statusOf(rec),
		PendingApproval: rec.Mode == models.ModeRemote && rec.ApprovalStatus == models.ApprovalPending,
		Rejected:        rec.Mode == models.ModeRemote && rec.ApprovalStatus == models.ApprovalRejected,
	}
	// a rejected record contributes no worked time
	if !st.Rejected {
		st.Elapsed = Elapsed(rec, now)
	}
	return st
}

func statusOf(rec *models.AttendanceRecord) Status {
	switch {
	case rec.ClockOut != nil:
		return StatusCompleted
	case rec.LastPauseStartedAt != nil:
		return StatusPaused
	default:
		return StatusWorking
	}
}

// Elapsed returns worked time on rec at now, clamped to zero.
func Elapsed(rec *models.AttendanceRecord, now time.Time) time.Duration {
	var end time.Time
	switch {
	case rec.ClockOut != nil:
		end = *rec.ClockOut
	case rec.LastPauseStartedAt != nil:
		end = *rec.LastPauseStartedAt
	default:
		end = now
	}
	return clamp(end.Sub(rec.ClockIn) - rec.TotalPaused())
}

// TotalHours is the worked-duration snapshot written at completion, rounded
// to two decimals.
func TotalHours(clockIn, clockOut time.Time, pausedSeconds int64) float64 {
	worked := clamp(clockOut.Sub(clockIn) - time.Duration(pausedSeconds)*time.Second)
	return math.Round(worked.Hours()*100) / 100
}

// pausedSeconds is floor(to - from) in whole seconds, never negative.
func pausedSeconds(from, to time.Time) int64 {
	return int64(clamp(to.Sub(from)) / time.Second)
}

func clamp(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
