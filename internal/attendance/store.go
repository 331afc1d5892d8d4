package attendance

import (
	"context"
	"time"

	"attendbot/internal/db/models"

	"github.com/google/uuid"
)

// Ledger is the durable attendance store. Implementations must apply each
// write atomically.
type Ledger interface {
	// ServerToday resolves the current work date in timezone using the
	// store's clock.
	ServerToday(ctx context.Context, timezone string) (time.Time, error)

	// GetRecord returns nil, nil when the worker has no record for workDate.
	GetRecord(ctx context.Context, workerID uuid.UUID, workDate time.Time) (*models.AttendanceRecord, error)

	// GetRecordByID returns ErrRecordNotFound when id does not exist.
	GetRecordByID(ctx context.Context, id uuid.UUID) (*models.AttendanceRecord, error)

	// CreateRecord assigns id, clock_in and work_date. It returns
	// ErrDuplicateRecord when the worker already has a record for the day.
	CreateRecord(ctx context.Context, rec models.NewRecord) (*models.AttendanceRecord, error)

	// UpdateOpenRecord applies upd only while clock_out is unset and the
	// stored version equals expectedVersion. It returns the stored record and
	// whether the update was applied.
	UpdateOpenRecord(ctx context.Context, id uuid.UUID, expectedVersion int, upd models.RecordUpdate) (*models.AttendanceRecord, bool, error)

	// CompleteRecord sets clock_out only while it is unset and the stored
	// version equals expectedVersion. It returns the stored record and whether
	// the completion was applied.
	CompleteRecord(ctx context.Context, id uuid.UUID, expectedVersion int, c models.Completion) (*models.AttendanceRecord, bool, error)

	// SetApprovalStatus records a decision. On a completed record it also
	// rewrites total_hours, which is zero while rejected.
	SetApprovalStatus(ctx context.Context, id uuid.UUID, status models.ApprovalStatus) (*models.AttendanceRecord, error)

	// ListOpenRecords returns every record without a clock_out.
	ListOpenRecords(ctx context.Context) ([]*models.AttendanceRecord, error)
}

// Directory reads worker configuration.
type Directory interface {
	GetWorkerByID(ctx context.Context, id uuid.UUID) (*models.Worker, error)

	// GetOfficeForWorker returns nil, nil when no office is assigned.
	GetOfficeForWorker(ctx context.Context, workerID uuid.UUID) (*models.Office, error)
}

// Feed delivers the full record after every write to it. The returned
// function ends the subscription.
type Feed interface {
	Subscribe(recordID uuid.UUID) (<-chan *models.AttendanceRecord, func())
}

// Notifier informs approvers about remote clock-ins. Delivery is best effort.
type Notifier interface {
	NotifyPendingApproval(ctx context.Context, worker *models.Worker, rec *models.AttendanceRecord) error
}
