package attendance

import (
	"context"
	"errors"
	"testing"
	"time"

	"attendbot/internal/db/models"

	"github.com/google/uuid"
)

func TestSweepCompletesUnwatchedShift(t *testing.T) {
	f := newFixture(day1.Add(9 * time.Hour))
	hub := NewHub(f.ledger, f.dir, f.feed, f.notifier, f.opts)

	w := f.dir.addWorker(8*time.Hour, nil)
	overdue := f.ledger.put(&models.AttendanceRecord{
		WorkerID:       w.ID,
		WorkDate:       workDate(day1),
		Mode:           models.ModeOnsite,
		ClockIn:        day1,
		ApprovalStatus: models.ApprovalApproved,
	})
	fresh := f.ledger.put(&models.AttendanceRecord{
		WorkerID:       f.dir.addWorker(8*time.Hour, nil).ID,
		WorkDate:       workDate(day1),
		Mode:           models.ModeOnsite,
		ClockIn:        day1.Add(4 * time.Hour),
		ApprovalStatus: models.ApprovalApproved,
	})

	n, err := hub.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 completion, got %d", n)
	}
	if got := f.ledger.get(overdue.ID); got.ClockOut == nil || !got.ClockOut.Equal(day1.Add(8*time.Hour)) {
		t.Fatalf("expected overdue shift completed at its goal boundary, got %v", got.ClockOut)
	}
	if got := f.ledger.get(fresh.ID); got.ClockOut != nil {
		t.Fatalf("a shift below its goal must stay open")
	}

	// a second sweep finds nothing left to do
	if n, err := hub.Sweep(context.Background()); err != nil || n != 0 {
		t.Fatalf("expected idempotent sweep, got %d, %v", n, err)
	}
}

func TestSweepReconcilesActiveSession(t *testing.T) {
	f := newFixture(day1)
	hub := NewHub(f.ledger, f.dir, f.feed, f.notifier, f.opts)
	w := f.dir.addWorker(time.Hour, nil)
	ctx := context.Background()

	tr, err := hub.Session(ctx, w)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if _, err := tr.ClockIn(ctx, onsite()); err != nil {
		t.Fatalf("clock in: %v", err)
	}

	f.clock.Advance(2 * time.Hour)
	if _, err := hub.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if st := tr.State(); st.Status != StatusCompleted {
		t.Fatalf("expected the session to converge to completed, got %s", st.Status)
	}
}

func TestSessionReusesTracker(t *testing.T) {
	f := newFixture(day1)
	hub := NewHub(f.ledger, f.dir, f.feed, f.notifier, f.opts)
	w := f.dir.addWorker(8*time.Hour, nil)
	ctx := context.Background()

	a, err := hub.Session(ctx, w)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	updated := *w
	updated.DailyGoalSeconds = 3600
	b, err := hub.Session(ctx, &updated)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if a != b {
		t.Fatalf("expected the same tracker for the same worker")
	}
	if b.Worker().DailyGoalSeconds != 3600 {
		t.Fatalf("expected worker configuration to be refreshed")
	}
}

func TestSessionLoadFailure(t *testing.T) {
	f := newFixture(day1)
	f.ledger.err = errors.New("connection refused")
	hub := NewHub(f.ledger, f.dir, f.feed, f.notifier, f.opts)

	if _, err := hub.Session(context.Background(), f.dir.addWorker(8*time.Hour, nil)); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestDecide(t *testing.T) {
	f := newFixture(day1)
	hub := NewHub(f.ledger, f.dir, f.feed, f.notifier, f.opts)
	w := f.dir.addWorker(8*time.Hour, nil)
	ctx := context.Background()

	tr, err := hub.Session(ctx, w)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	st, err := tr.ClockIn(ctx, ClockInRequest{Mode: models.ModeRemote, Reason: "doctor"})
	if err != nil {
		t.Fatalf("clock in: %v", err)
	}

	if _, err := hub.Decide(ctx, st.Record.ID, models.ApprovalPending); !errors.Is(err, ErrInvalidDecision) {
		t.Fatalf("expected ErrInvalidDecision, got %v", err)
	}
	if _, err := hub.Decide(ctx, uuid.New(), models.ApprovalApproved); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}

	rec, err := hub.Decide(ctx, st.Record.ID, models.ApprovalApproved)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if rec.ApprovalStatus != models.ApprovalApproved {
		t.Fatalf("expected approved, got %s", rec.ApprovalStatus)
	}
	if tr.State().PendingApproval {
		t.Fatalf("the worker's session should see the approval")
	}

	onsiteWorker := f.dir.addWorker(8*time.Hour, nil)
	other, err := hub.Session(ctx, onsiteWorker)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	ost, err := other.ClockIn(ctx, onsite())
	if err != nil {
		t.Fatalf("clock in: %v", err)
	}
	if _, err := hub.Decide(ctx, ost.Record.ID, models.ApprovalRejected); !errors.Is(err, ErrNotRemote) {
		t.Fatalf("expected ErrNotRemote, got %v", err)
	}
}

func TestHubStartRunsSessions(t *testing.T) {
	f := newFixture(day1)
	f.opts.SweepInterval = 10 * time.Millisecond
	hub := NewHub(f.ledger, f.dir, f.feed, f.notifier, f.opts)
	w := f.dir.addWorker(time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	hub.Start(ctx)

	tr, err := hub.Session(ctx, w)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if _, err := tr.ClockIn(ctx, onsite()); err != nil {
		t.Fatalf("clock in: %v", err)
	}

	f.clock.Advance(90 * time.Minute)
	eventually(t, "tick to auto-complete", func() bool { return tr.State().Status == StatusCompleted })

	cancel()
	hub.Wait()
}

func TestSessionStartsNewWorkDateIdle(t *testing.T) {
	f := newFixture(day1)
	hub := NewHub(f.ledger, f.dir, f.feed, f.notifier, f.opts)
	w := f.dir.addWorker(8*time.Hour, nil)
	ctx := context.Background()

	tr, err := hub.Session(ctx, w)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if _, err := tr.ClockIn(ctx, onsite()); err != nil {
		t.Fatalf("clock in: %v", err)
	}
	f.clock.Set(at(day1, 17, 0))
	if _, err := tr.ClockOut(ctx); err != nil {
		t.Fatalf("clock out: %v", err)
	}

	f.clock.Set(day1.AddDate(0, 0, 1))
	again, err := hub.Session(ctx, w)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if again != tr {
		t.Fatalf("expected the cached tracker")
	}
	if st := again.State(); st.Status != StatusIdle || st.Record != nil {
		t.Fatalf("a new work date must start idle, got %s", st.Status)
	}
	if _, err := again.Pause(ctx); !errors.Is(err, ErrNotClockedIn) {
		t.Fatalf("expected ErrNotClockedIn on the new day, got %v", err)
	}

	// an idle session picks up a clock-in made elsewhere
	other := f.tracker(t, w)
	if _, err := other.ClockIn(ctx, onsite()); err != nil {
		t.Fatalf("clock in elsewhere: %v", err)
	}
	again, err = hub.Session(ctx, w)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if st := again.State(); st.Status != StatusWorking {
		t.Fatalf("expected working, got %s", st.Status)
	}
}

func TestSweepCountsOnlyItsOwnCompletions(t *testing.T) {
	f := newFixture(day1.Add(9 * time.Hour))
	hub := NewHub(f.ledger, f.dir, f.feed, f.notifier, f.opts)
	w := f.dir.addWorker(8*time.Hour, nil)
	ctx := context.Background()

	listed := f.ledger.put(&models.AttendanceRecord{
		WorkerID:       w.ID,
		WorkDate:       workDate(day1),
		Mode:           models.ModeOnsite,
		ClockIn:        day1,
		ApprovalStatus: models.ApprovalApproved,
	})
	// another writer finalizes it after the sweep listed it
	if _, applied, err := f.ledger.CompleteRecord(ctx, listed.ID, listed.Version, Complete(listed, day1.Add(7*time.Hour))); err != nil || !applied {
		t.Fatalf("complete elsewhere: applied=%v err=%v", applied, err)
	}

	done, err := hub.sweepOne(ctx, listed)
	if err != nil {
		t.Fatalf("sweep record: %v", err)
	}
	if done {
		t.Fatalf("a shift completed by another writer must not be counted")
	}
	if got := f.ledger.get(listed.ID); !got.ClockOut.Equal(day1.Add(7 * time.Hour)) {
		t.Fatalf("completed record was overwritten: %s", got.ClockOut)
	}
}

func TestIdleTrackerIsRetired(t *testing.T) {
	f := newFixture(day1)
	f.opts.IdleTimeout = time.Minute
	hub := NewHub(f.ledger, f.dir, f.feed, f.notifier, f.opts)
	idle := f.dir.addWorker(8*time.Hour, nil)
	busy := f.dir.addWorker(8*time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		hub.Wait()
	}()
	hub.Start(ctx)

	first, err := hub.Session(ctx, idle)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	working, err := hub.Session(ctx, busy)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if _, err := working.ClockIn(ctx, onsite()); err != nil {
		t.Fatalf("clock in: %v", err)
	}

	f.clock.Advance(2 * time.Minute)
	eventually(t, "idle tracker to be retired", func() bool { return hub.Tracker(idle.ID) == nil })
	if hub.Tracker(busy.ID) != working {
		t.Fatalf("a tracker with an open shift must keep running")
	}

	next, err := hub.Session(ctx, idle)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if next == first {
		t.Fatalf("expected a fresh tracker after retirement")
	}
}

func TestDecideRewritesRecordedHours(t *testing.T) {
	f := newFixture(day1)
	hub := NewHub(f.ledger, f.dir, f.feed, f.notifier, f.opts)
	w := f.dir.addWorker(8*time.Hour, nil)
	ctx := context.Background()

	tr, err := hub.Session(ctx, w)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	st, err := tr.ClockIn(ctx, ClockInRequest{Mode: models.ModeRemote, Reason: "doctor"})
	if err != nil {
		t.Fatalf("clock in: %v", err)
	}
	if _, err := hub.Decide(ctx, st.Record.ID, models.ApprovalRejected); err != nil {
		t.Fatalf("reject: %v", err)
	}
	f.clock.Set(at(day1, 13, 0))
	if _, err := tr.ClockOut(ctx); err != nil {
		t.Fatalf("clock out: %v", err)
	}

	// overturned after the shift ended
	rec, err := hub.Decide(ctx, st.Record.ID, models.ApprovalApproved)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if rec.TotalHours == nil || *rec.TotalHours != 4.00 {
		t.Fatalf("total hours = %v, want 4.00", rec.TotalHours)
	}
	if got := tr.State(); got.Elapsed != 4*time.Hour {
		t.Fatalf("session elapsed = %s, want 4h", got.Elapsed)
	}
}
