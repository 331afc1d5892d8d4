package attendance

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"attendbot/internal/db/models"
	"attendbot/internal/geofence"

	"github.com/google/uuid"
)

type Options struct {
	LedgerTimeout    time.Duration
	TickInterval     time.Duration
	SweepInterval    time.Duration
	SweepConcurrency int
	IdleTimeout      time.Duration
	DefaultGoal      time.Duration
	DefaultTimezone  string
	Now              func() time.Time
	Logger           *log.Logger
}

func (o Options) withDefaults() Options {
	if o.LedgerTimeout <= 0 {
		o.LedgerTimeout = 12 * time.Second
	}
	if o.TickInterval <= 0 {
		o.TickInterval = 500 * time.Millisecond
	}
	if o.SweepConcurrency <= 0 {
		o.SweepConcurrency = 4
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 10 * time.Minute
	}
	if o.DefaultGoal <= 0 {
		o.DefaultGoal = 8 * time.Hour
	}
	if o.DefaultTimezone == "" {
		o.DefaultTimezone = "UTC"
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return o
}

// ClockInRequest carries the inputs of a clock-in. Position is required for
// onsite mode and Reason for remote mode.
type ClockInRequest struct {
	Mode     models.Mode
	Reason   string
	Position *geofence.Point
}

// Tracker owns one worker's attendance state. The tick, change-feed pushes
// and user operations are serialized on mu.
type Tracker struct {
	mu       sync.Mutex
	worker   *models.Worker
	ledger   Ledger
	dir      Directory
	notifier Notifier
	opts     Options
	state    State
	lastUsed time.Time
}

func NewTracker(worker *models.Worker, ledger Ledger, dir Directory, notifier Notifier, opts Options) *Tracker {
	opts = opts.withDefaults()
	return &Tracker{
		worker:   worker,
		ledger:   ledger,
		dir:      dir,
		notifier: notifier,
		opts:     opts,
		state:    State{Status: StatusIdle},
		lastUsed: opts.Now(),
	}
}

// Load reads today's record, resolving the work date on the server, and
// reconciles local state to it.
func (t *Tracker) Load(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.load(ctx)
}

func (t *Tracker) load(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, t.opts.LedgerTimeout)
	defer cancel()

	today, err := t.ledger.ServerToday(cctx, t.timezone())
	if err != nil {
		return t.fail("resolve work date", err)
	}
	rec, err := t.ledger.GetRecord(cctx, t.worker.ID, today)
	if err != nil {
		return t.fail("get record", err)
	}

	t.state = Derive(rec, t.opts.Now())
	t.autoComplete(ctx)
	return nil
}

// Refresh re-reads today's record when the tracker holds nothing open. An
// idle tracker may have missed a clock-in elsewhere, and a completed one may
// belong to a previous work date.
func (t *Tracker) Refresh(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state.Status {
	case StatusIdle, StatusCompleted:
		return t.load(ctx)
	}
	return nil
}

func (t *Tracker) touch() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastUsed = t.opts.Now()
}

// expired reports whether the tracker holds nothing open and has not been
// used for IdleTimeout.
func (t *Tracker) expired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.derive().Status {
	case StatusIdle, StatusCompleted:
		return t.opts.Now().Sub(t.lastUsed) >= t.opts.IdleTimeout
	}
	return false
}

// State returns the current derived state, recomputed at the current time.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.derive()
}

func (t *Tracker) Worker() *models.Worker {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.worker
}

// SetWorker replaces the worker configuration, e.g. after a goal change.
func (t *Tracker) SetWorker(w *models.Worker) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.worker = w
}

// RecordID is the id of the tracked record, uuid.Nil while idle.
func (t *Tracker) RecordID() uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Record == nil {
		return uuid.Nil
	}
	return t.state.Record.ID
}

func (t *Tracker) ClockIn(ctx context.Context, req ClockInRequest) (State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state.Status {
	case StatusWorking, StatusPaused:
		return t.derive(), ErrAlreadyClockedIn
	case StatusCompleted:
		// a completed record may belong to a previous work date
		if err := t.load(ctx); err != nil {
			return t.derive(), err
		}
		if err := t.alreadyClockedIn(); err != nil {
			return t.derive(), err
		}
	}

	nr := models.NewRecord{
		WorkerID: t.worker.ID,
		Timezone: t.timezone(),
		Mode:     req.Mode,
	}
	switch req.Mode {
	case models.ModeOnsite:
		if req.Position == nil {
			return t.derive(), ErrLocationUnavailable
		}
		if err := t.checkGeofence(ctx, *req.Position); err != nil {
			return t.derive(), err
		}
		nr.ApprovalStatus = models.ApprovalApproved
		nr.GeoLat = &req.Position.Lat
		nr.GeoLon = &req.Position.Lon
	case models.ModeRemote:
		reason := strings.TrimSpace(req.Reason)
		if reason == "" {
			return t.derive(), ErrReasonRequired
		}
		nr.ApprovalStatus = models.ApprovalPending
		nr.RemoteReason = &reason
	default:
		return t.derive(), ErrInvalidMode
	}

	cctx, cancel := context.WithTimeout(ctx, t.opts.LedgerTimeout)
	defer cancel()

	rec, err := t.ledger.CreateRecord(cctx, nr)
	if errors.Is(err, ErrDuplicateRecord) {
		// another session clocked in first
		if err := t.load(ctx); err != nil {
			return t.derive(), err
		}
		return t.derive(), t.alreadyClockedIn()
	}
	if err != nil {
		return t.derive(), t.fail("create record", err)
	}

	t.state = Derive(rec, t.opts.Now())
	t.opts.Logger.Printf("worker %s clocked in (%s, record %s)", t.worker.ID, rec.Mode, rec.ID)

	if rec.Mode == models.ModeRemote {
		t.notifyPending(rec)
	}
	return t.derive(), nil
}

func (t *Tracker) alreadyClockedIn() error {
	switch t.state.Status {
	case StatusCompleted:
		return ErrAlreadyCompleted
	case StatusWorking, StatusPaused:
		return ErrAlreadyClockedIn
	}
	return nil
}

func (t *Tracker) checkGeofence(ctx context.Context, pos geofence.Point) error {
	cctx, cancel := context.WithTimeout(ctx, t.opts.LedgerTimeout)
	defer cancel()

	office, err := t.dir.GetOfficeForWorker(cctx, t.worker.ID)
	if err != nil {
		return t.fail("get office", err)
	}
	if office == nil {
		return nil
	}

	fence := &geofence.Fence{
		Center:       geofence.Point{Lat: office.Latitude, Lon: office.Longitude},
		RadiusMeters: office.RadiusMeters,
	}
	if d, ok := geofence.Check(pos, fence); !ok {
		return &GeofenceError{Distance: d, Radius: office.RadiusMeters}
	}
	return nil
}

func (t *Tracker) notifyPending(rec *models.AttendanceRecord) {
	if t.notifier == nil {
		return
	}
	worker := t.worker
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), t.opts.LedgerTimeout)
		defer cancel()
		if err := t.notifier.NotifyPendingApproval(ctx, worker, rec); err != nil {
			t.opts.Logger.Printf("notify approvers for record %s: %v", rec.ID, err)
		}
	}()
}

func (t *Tracker) Pause(ctx context.Context) (State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state.Status {
	case StatusCompleted:
		return t.derive(), nil
	case StatusIdle:
		return t.derive(), ErrNotClockedIn
	case StatusPaused:
		return t.derive(), ErrNotWorking
	}

	now := t.opts.Now()
	return t.updateOpen(ctx, "pause", models.RecordUpdate{LastPauseStartedAt: &now})
}

func (t *Tracker) Resume(ctx context.Context) (State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state.Status {
	case StatusCompleted:
		return t.derive(), nil
	case StatusIdle:
		return t.derive(), ErrNotClockedIn
	case StatusWorking:
		return t.derive(), ErrNotPaused
	}

	rec := t.state.Record
	total := rec.TotalPausedSeconds + pausedSeconds(*rec.LastPauseStartedAt, t.opts.Now())
	return t.updateOpen(ctx, "resume", models.RecordUpdate{
		ClearPause:         true,
		TotalPausedSeconds: &total,
	})
}

func (t *Tracker) updateOpen(ctx context.Context, op string, upd models.RecordUpdate) (State, error) {
	rec := t.state.Record

	cctx, cancel := context.WithTimeout(ctx, t.opts.LedgerTimeout)
	defer cancel()

	stored, applied, err := t.ledger.UpdateOpenRecord(cctx, rec.ID, rec.Version, upd)
	if err != nil {
		return t.derive(), t.fail(op, err)
	}

	t.state = Derive(stored, t.opts.Now())
	if !applied {
		if t.state.Status == StatusCompleted {
			return t.derive(), nil
		}
		t.opts.Logger.Printf("%s on record %s lost a race at version %d", op, rec.ID, rec.Version)
		return t.derive(), ErrConflict
	}
	t.autoComplete(ctx)
	return t.derive(), nil
}

// ClockOut completes the shift now. Clocking out a completed shift is a
// no-op.
func (t *Tracker) ClockOut(ctx context.Context) (State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state.Status {
	case StatusIdle:
		return t.derive(), ErrNotClockedIn
	case StatusCompleted:
		return t.derive(), nil
	}

	now := t.opts.Now()
	_, err := t.complete(ctx, func(rec *models.AttendanceRecord) (models.Completion, bool) {
		return Complete(rec, now), true
	})
	return t.derive(), err
}

func (t *Tracker) complete(ctx context.Context, build func(*models.AttendanceRecord) (models.Completion, bool)) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, t.opts.LedgerTimeout)
	defer cancel()

	stored, applied, err := finalize(cctx, t.ledger, t.state.Record, build)
	if errors.Is(err, ErrConflict) {
		t.state = Derive(stored, t.opts.Now())
		return false, err
	}
	if err != nil {
		return false, t.fail("clock out", err)
	}
	if applied {
		t.opts.Logger.Printf("worker %s clocked out at %s (%.2fh)", t.worker.ID, stored.ClockOut.Format(time.RFC3339), *stored.TotalHours)
	}
	t.state = Derive(stored, t.opts.Now())
	return applied, nil
}

// Reconcile replaces local state with rec and re-checks auto-completion. A
// push older than the record already held is ignored.
func (t *Tracker) Reconcile(ctx context.Context, rec *models.AttendanceRecord) State {
	st, _ := t.reconcile(ctx, rec)
	return st
}

// reconcile also reports whether this call completed the shift.
func (t *Tracker) reconcile(ctx context.Context, rec *models.AttendanceRecord) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur := t.state.Record; cur != nil && rec != nil && cur.ID == rec.ID && rec.Version < cur.Version {
		rec = cur
	}
	t.state = Derive(rec, t.opts.Now())
	completed := t.autoComplete(ctx)
	return t.derive(), completed
}

// Tick refreshes elapsed time and fires auto-completion once the goal is
// reached.
func (t *Tracker) Tick(ctx context.Context) State {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = t.derive()
	t.autoComplete(ctx)
	return t.derive()
}

func (t *Tracker) autoComplete(ctx context.Context) bool {
	goal, now := t.goal(), t.opts.Now()
	if _, ok := AutoCompletion(t.state.Record, goal, now); !ok {
		return false
	}
	id := t.state.Record.ID
	applied, err := t.complete(ctx, func(rec *models.AttendanceRecord) (models.Completion, bool) {
		return AutoCompletion(rec, goal, now)
	})
	if err != nil {
		// retried on the next tick or push
		t.opts.Logger.Printf("auto-complete record %s: %v", id, err)
	}
	return applied
}

// Run drives the tracker until ctx is done or it expires: a local tick plus
// the change feed of whichever record is currently tracked.
func (t *Tracker) Run(ctx context.Context, feed Feed) {
	ticker := time.NewTicker(t.opts.TickInterval)
	defer ticker.Stop()

	var updates <-chan *models.AttendanceRecord
	var subscribed uuid.UUID
	unsubscribe := func() {}
	defer func() { unsubscribe() }()

	for {
		if id := t.RecordID(); id != subscribed && feed != nil {
			unsubscribe()
			updates, unsubscribe = nil, func() {}
			if id != uuid.Nil {
				updates, unsubscribe = feed.Subscribe(id)
			}
			subscribed = id
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Tick(ctx)
			if t.expired() {
				return
			}
		case rec, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			t.Reconcile(ctx, rec)
		}
	}
}

func (t *Tracker) derive() State {
	return Derive(t.state.Record, t.opts.Now())
}

func (t *Tracker) goal() time.Duration {
	if g := t.worker.DailyGoal(); g > 0 {
		return g
	}
	return t.opts.DefaultGoal
}

func (t *Tracker) timezone() string {
	if t.worker.Timezone != "" {
		return t.worker.Timezone
	}
	return t.opts.DefaultTimezone
}

func (t *Tracker) fail(op string, err error) error {
	t.opts.Logger.Printf("worker %s: %s: %v", t.worker.ID, op, err)
	return storeError(op, err)
}
