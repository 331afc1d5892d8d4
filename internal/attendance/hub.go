package attendance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"attendbot/internal/db/models"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Hub keeps one running Tracker per active worker and sweeps open records so
// shifts complete even when nobody is watching them.
type Hub struct {
	ledger   Ledger
	dir      Directory
	feed     Feed
	notifier Notifier
	opts     Options

	mu       sync.Mutex
	trackers map[uuid.UUID]*Tracker
	runCtx   context.Context
	wg       sync.WaitGroup
}

func NewHub(ledger Ledger, dir Directory, feed Feed, notifier Notifier, opts Options) *Hub {
	return &Hub{
		ledger:   ledger,
		dir:      dir,
		feed:     feed,
		notifier: notifier,
		opts:     opts.withDefaults(),
		trackers: make(map[uuid.UUID]*Tracker),
	}
}

// Start runs tracker loops and the periodic sweep until ctx is done. Use
// Wait to block until they have all returned.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	h.runCtx = ctx
	for _, t := range h.trackers {
		h.run(t)
	}
	h.mu.Unlock()

	if h.opts.SweepInterval <= 0 {
		return
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.opts.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := h.Sweep(ctx); err != nil {
					h.opts.Logger.Printf("sweep open records: %v", err)
				} else if n > 0 {
					h.opts.Logger.Printf("sweep completed %d shift(s)", n)
				}
			}
		}
	}()
}

func (h *Hub) Wait() {
	h.wg.Wait()
}

// must hold h.mu
func (h *Hub) run(t *Tracker) {
	if h.runCtx == nil {
		return
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		t.Run(h.runCtx, h.feed)
		h.retire(t)
	}()
}

// retire drops a tracker whose loop expired. One that was used again in the
// meantime keeps running.
func (h *Hub) retire(t *Tracker) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.runCtx.Err() != nil {
		return
	}
	id := t.Worker().ID
	if h.trackers[id] != t {
		return
	}
	if !t.expired() {
		h.run(t)
		return
	}
	delete(h.trackers, id)
}

// session returns the cached tracker and marks it used, under h.mu so it
// cannot be retired in between.
func (h *Hub) session(workerID uuid.UUID) *Tracker {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := h.trackers[workerID]
	if t != nil {
		t.touch()
	}
	return t
}

// Session returns the worker's tracker, loading it from the ledger the first
// time it is requested. A cached tracker with nothing open is refreshed so a
// new work date starts idle.
func (h *Hub) Session(ctx context.Context, worker *models.Worker) (*Tracker, error) {
	if t := h.session(worker.ID); t != nil {
		t.SetWorker(worker)
		if err := t.Refresh(ctx); err != nil {
			return nil, err
		}
		return t, nil
	}

	t := NewTracker(worker, h.ledger, h.dir, h.notifier, h.opts)
	if err := t.Load(ctx); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.trackers[worker.ID]; ok {
		return existing, nil
	}
	h.trackers[worker.ID] = t
	h.run(t)
	return t, nil
}

// Tracker returns the worker's tracker if a session exists.
func (h *Hub) Tracker(workerID uuid.UUID) *Tracker {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.trackers[workerID]
}

// Sweep reconciles every open record and returns how many were completed.
func (h *Hub) Sweep(ctx context.Context) (int, error) {
	lctx, cancel := context.WithTimeout(ctx, h.opts.LedgerTimeout)
	recs, err := h.ledger.ListOpenRecords(lctx)
	cancel()
	if err != nil {
		return 0, storeError("list open records", err)
	}

	var completed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.opts.SweepConcurrency)
	for _, rec := range recs {
		rec := rec
		g.Go(func() error {
			done, err := h.sweepOne(gctx, rec)
			if err != nil {
				h.opts.Logger.Printf("sweep record %s: %v", rec.ID, err)
				return nil
			}
			if done {
				completed.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	return int(completed.Load()), err
}

func (h *Hub) sweepOne(ctx context.Context, rec *models.AttendanceRecord) (bool, error) {
	if t := h.Tracker(rec.WorkerID); t != nil && t.RecordID() == rec.ID {
		_, completed := t.reconcile(ctx, rec)
		return completed, nil
	}

	cctx, cancel := context.WithTimeout(ctx, h.opts.LedgerTimeout)
	defer cancel()

	worker, err := h.dir.GetWorkerByID(cctx, rec.WorkerID)
	if err != nil {
		return false, storeError("get worker", err)
	}
	goal := h.opts.DefaultGoal
	if worker != nil && worker.DailyGoal() > 0 {
		goal = worker.DailyGoal()
	}

	now := h.opts.Now()
	_, applied, err := finalize(cctx, h.ledger, rec, func(rec *models.AttendanceRecord) (models.Completion, bool) {
		return AutoCompletion(rec, goal, now)
	})
	if errors.Is(err, ErrConflict) {
		return false, err
	}
	if err != nil {
		return false, storeError("clock out", err)
	}
	return applied, nil
}

// Decide records an approver's decision on a remote attendance record.
func (h *Hub) Decide(ctx context.Context, recordID uuid.UUID, decision models.ApprovalStatus) (*models.AttendanceRecord, error) {
	if decision != models.ApprovalApproved && decision != models.ApprovalRejected {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}

	cctx, cancel := context.WithTimeout(ctx, h.opts.LedgerTimeout)
	defer cancel()

	rec, err := h.ledger.GetRecordByID(cctx, recordID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, err
		}
		return nil, storeError("get record", err)
	}
	if rec.Mode != models.ModeRemote {
		return nil, ErrNotRemote
	}

	stored, err := h.ledger.SetApprovalStatus(cctx, recordID, decision)
	if err != nil {
		return nil, storeError("set approval status", err)
	}
	h.opts.Logger.Printf("record %s marked %s", stored.ID, stored.ApprovalStatus)

	if t := h.Tracker(stored.WorkerID); t != nil && t.RecordID() == stored.ID {
		t.Reconcile(ctx, stored)
	}
	return stored, nil
}
