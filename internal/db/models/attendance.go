package models

import (
	"time"

	"github.com/google/uuid"
)

type Mode string

const (
	ModeOnsite Mode = "onsite"
	ModeRemote Mode = "remote"
)

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// AttendanceRecord is the single durable row per worker per work date.
type AttendanceRecord struct {
	ID                 uuid.UUID      `db:"id"`
	WorkerID           uuid.UUID      `db:"worker_id"`
	WorkDate           time.Time      `db:"work_date"`
	Mode               Mode           `db:"mode"`
	ClockIn            time.Time      `db:"clock_in"`
	ClockOut           *time.Time     `db:"clock_out"`
	ApprovalStatus     ApprovalStatus `db:"approval_status"`
	LastPauseStartedAt *time.Time     `db:"last_pause_started_at"`
	TotalPausedSeconds int64          `db:"total_paused_seconds"`
	TotalHours         *float64       `db:"total_hours"`
	RemoteReason       *string        `db:"remote_reason"`
	GeoLat             *float64       `db:"geo_lat"`
	GeoLon             *float64       `db:"geo_lon"`
	Version            int            `db:"version"`
}

// TotalPaused returns the committed pause offset.
func (r *AttendanceRecord) TotalPaused() time.Duration {
	return time.Duration(r.TotalPausedSeconds) * time.Second
}

// NewRecord holds the client-supplied fields of a clock-in. The store fills
// in id, clock_in and work_date.
type NewRecord struct {
	WorkerID       uuid.UUID
	Timezone       string
	Mode           Mode
	ApprovalStatus ApprovalStatus
	RemoteReason   *string
	GeoLat         *float64
	GeoLon         *float64
}

// RecordUpdate is the pause/resume partial update. ClearPause nulls
// last_pause_started_at.
type RecordUpdate struct {
	LastPauseStartedAt *time.Time
	ClearPause         bool
	TotalPausedSeconds *int64
}

// Completion is the terminal clock-out write.
type Completion struct {
	ClockOut           time.Time
	TotalPausedSeconds int64
	TotalHours         float64
}
