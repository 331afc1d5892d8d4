package attendance

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"attendbot/internal/db/models"

	"github.com/google/uuid"
)

var day1 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// at returns the given wall-clock time on the clock's current day.
func at(base time.Time, hour, minute int) time.Time {
	return time.Date(base.Year(), base.Month(), base.Day(), hour, minute, 0, 0, time.UTC)
}

type fakeLedger struct {
	mu      sync.Mutex
	clock   *fakeClock
	feed    *fakeFeed
	records map[uuid.UUID]*models.AttendanceRecord
	writes  int
	err     error
	block   bool
}

func newLedger(clock *fakeClock) *fakeLedger {
	return &fakeLedger{
		clock:   clock,
		records: make(map[uuid.UUID]*models.AttendanceRecord),
	}
}

func clone(rec *models.AttendanceRecord) *models.AttendanceRecord {
	if rec == nil {
		return nil
	}
	c := *rec
	return &c
}

func workDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (l *fakeLedger) fail(ctx context.Context) error {
	l.mu.Lock()
	block, err := l.block, l.err
	l.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (l *fakeLedger) setBlock(b bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.block = b
}

func (l *fakeLedger) writeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writes
}

// must hold l.mu
func (l *fakeLedger) wrote(rec *models.AttendanceRecord) {
	l.writes++
	if l.feed != nil {
		l.feed.Publish(clone(rec))
	}
}

func (l *fakeLedger) put(rec *models.AttendanceRecord) *models.AttendanceRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Version == 0 {
		rec.Version = 1
	}
	l.records[rec.ID] = clone(rec)
	return clone(rec)
}

func (l *fakeLedger) get(id uuid.UUID) *models.AttendanceRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return clone(l.records[id])
}

func (l *fakeLedger) ServerToday(ctx context.Context, timezone string) (time.Time, error) {
	if err := l.fail(ctx); err != nil {
		return time.Time{}, err
	}
	return workDate(l.clock.Now()), nil
}

func (l *fakeLedger) GetRecord(ctx context.Context, workerID uuid.UUID, date time.Time) (*models.AttendanceRecord, error) {
	if err := l.fail(ctx); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, rec := range l.records {
		if rec.WorkerID == workerID && rec.WorkDate.Equal(date) {
			return clone(rec), nil
		}
	}
	return nil, nil
}

func (l *fakeLedger) GetRecordByID(ctx context.Context, id uuid.UUID) (*models.AttendanceRecord, error) {
	if err := l.fail(ctx); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return clone(rec), nil
}

func (l *fakeLedger) CreateRecord(ctx context.Context, nr models.NewRecord) (*models.AttendanceRecord, error) {
	if err := l.fail(ctx); err != nil {
		return nil, err
	}
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, rec := range l.records {
		if rec.WorkerID == nr.WorkerID && rec.WorkDate.Equal(workDate(now)) {
			return nil, ErrDuplicateRecord
		}
	}
	rec := &models.AttendanceRecord{
		ID:             uuid.New(),
		WorkerID:       nr.WorkerID,
		WorkDate:       workDate(now),
		Mode:           nr.Mode,
		ClockIn:        now,
		ApprovalStatus: nr.ApprovalStatus,
		RemoteReason:   nr.RemoteReason,
		GeoLat:         nr.GeoLat,
		GeoLon:         nr.GeoLon,
		Version:        1,
	}
	l.records[rec.ID] = rec
	l.wrote(rec)
	return clone(rec), nil
}

func (l *fakeLedger) UpdateOpenRecord(ctx context.Context, id uuid.UUID, expectedVersion int, upd models.RecordUpdate) (*models.AttendanceRecord, bool, error) {
	if err := l.fail(ctx); err != nil {
		return nil, false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[id]
	if !ok {
		return nil, false, ErrRecordNotFound
	}
	if rec.ClockOut != nil || rec.Version != expectedVersion {
		return clone(rec), false, nil
	}
	if upd.LastPauseStartedAt != nil {
		v := *upd.LastPauseStartedAt
		rec.LastPauseStartedAt = &v
	}
	if upd.ClearPause {
		rec.LastPauseStartedAt = nil
	}
	if upd.TotalPausedSeconds != nil {
		rec.TotalPausedSeconds = *upd.TotalPausedSeconds
	}
	rec.Version++
	l.wrote(rec)
	return clone(rec), true, nil
}

func (l *fakeLedger) CompleteRecord(ctx context.Context, id uuid.UUID, expectedVersion int, c models.Completion) (*models.AttendanceRecord, bool, error) {
	if err := l.fail(ctx); err != nil {
		return nil, false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[id]
	if !ok {
		return nil, false, ErrRecordNotFound
	}
	if rec.ClockOut != nil || rec.Version != expectedVersion {
		return clone(rec), false, nil
	}
	out, hours := c.ClockOut, c.TotalHours
	rec.ClockOut = &out
	rec.LastPauseStartedAt = nil
	rec.TotalPausedSeconds = c.TotalPausedSeconds
	rec.TotalHours = &hours
	rec.Version++
	l.wrote(rec)
	return clone(rec), true, nil
}

func (l *fakeLedger) SetApprovalStatus(ctx context.Context, id uuid.UUID, status models.ApprovalStatus) (*models.AttendanceRecord, error) {
	if err := l.fail(ctx); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	rec.ApprovalStatus = status
	if rec.ClockOut != nil {
		hours := recordedHours(rec, *rec.ClockOut, rec.TotalPausedSeconds)
		rec.TotalHours = &hours
	}
	rec.Version++
	l.wrote(rec)
	return clone(rec), nil
}

func (l *fakeLedger) ListOpenRecords(ctx context.Context) ([]*models.AttendanceRecord, error) {
	if err := l.fail(ctx); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*models.AttendanceRecord
	for _, rec := range l.records {
		if rec.ClockOut == nil {
			out = append(out, clone(rec))
		}
	}
	return out, nil
}

type fakeDirectory struct {
	mu      sync.Mutex
	workers map[uuid.UUID]*models.Worker
	offices map[uuid.UUID]*models.Office
}

func newDirectory() *fakeDirectory {
	return &fakeDirectory{
		workers: make(map[uuid.UUID]*models.Worker),
		offices: make(map[uuid.UUID]*models.Office),
	}
}

func (d *fakeDirectory) addWorker(goal time.Duration, office *models.Office) *models.Worker {
	d.mu.Lock()
	defer d.mu.Unlock()
	w := &models.Worker{
		ID:               uuid.New(),
		DiscordID:        uuid.NewString(),
		Username:         "worker",
		Timezone:         "UTC",
		DailyGoalSeconds: int64(goal / time.Second),
	}
	if office != nil {
		w.OfficeID = &office.ID
		d.offices[office.ID] = office
	}
	d.workers[w.ID] = w
	return w
}

func (d *fakeDirectory) GetWorkerByID(ctx context.Context, id uuid.UUID) (*models.Worker, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.workers[id], nil
}

func (d *fakeDirectory) GetOfficeForWorker(ctx context.Context, workerID uuid.UUID) (*models.Office, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.workers[workerID]
	if !ok || w.OfficeID == nil {
		return nil, nil
	}
	return d.offices[*w.OfficeID], nil
}

type fakeFeed struct {
	mu   sync.Mutex
	subs map[uuid.UUID][]chan *models.AttendanceRecord
}

func newFeed() *fakeFeed {
	return &fakeFeed{subs: make(map[uuid.UUID][]chan *models.AttendanceRecord)}
}

func (f *fakeFeed) Subscribe(id uuid.UUID) (<-chan *models.AttendanceRecord, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan *models.AttendanceRecord, 1)
	f.subs[id] = append(f.subs[id], ch)
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		list := f.subs[id]
		for i, c := range list {
			if c == ch {
				f.subs[id] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}

func (f *fakeFeed) subscribers(id uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[id])
}

func (f *fakeFeed) Publish(rec *models.AttendanceRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs[rec.ID] {
		select {
		case <-ch:
		default:
		}
		ch <- clone(rec)
	}
}

type fakeNotifier struct {
	sent chan *models.AttendanceRecord
}

func newNotifier() *fakeNotifier {
	return &fakeNotifier{sent: make(chan *models.AttendanceRecord, 8)}
}

func (n *fakeNotifier) NotifyPendingApproval(ctx context.Context, worker *models.Worker, rec *models.AttendanceRecord) error {
	n.sent <- rec
	return nil
}

type fixture struct {
	clock    *fakeClock
	ledger   *fakeLedger
	dir      *fakeDirectory
	feed     *fakeFeed
	notifier *fakeNotifier
	opts     Options
}

func newFixture(start time.Time) *fixture {
	clock := newClock(start)
	f := &fixture{
		clock:    clock,
		ledger:   newLedger(clock),
		dir:      newDirectory(),
		feed:     newFeed(),
		notifier: newNotifier(),
	}
	f.ledger.feed = f.feed
	f.opts = Options{
		LedgerTimeout: time.Second,
		TickInterval:  5 * time.Millisecond,
		Now:           clock.Now,
		Logger:        log.New(io.Discard, "", 0),
	}
	return f
}

func (f *fixture) tracker(t *testing.T, w *models.Worker) *Tracker {
	t.Helper()
	tr := NewTracker(w, f.ledger, f.dir, f.notifier, f.opts)
	if err := tr.Load(context.Background()); err != nil {
		t.Fatalf("load tracker: %v", err)
	}
	return tr
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
