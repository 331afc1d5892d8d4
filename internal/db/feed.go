package db

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"attendbot/internal/db/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Feed turns attendance_records NOTIFY events into full records for
// subscribers keyed by record id.
type Feed struct {
	db      *DB
	channel string
	retry   time.Duration

	mu   sync.Mutex
	subs map[uuid.UUID][]chan *models.AttendanceRecord
}

func NewFeed(db *DB, channel string) *Feed {
	return &Feed{
		db:      db,
		channel: channel,
		retry:   5 * time.Second,
		subs:    make(map[uuid.UUID][]chan *models.AttendanceRecord),
	}
}

// Subscribe delivers the latest version of the record after each write.
// Intermediate versions may be skipped when the reader falls behind.
func (f *Feed) Subscribe(recordID uuid.UUID) (<-chan *models.AttendanceRecord, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan *models.AttendanceRecord, 1)
	f.subs[recordID] = append(f.subs[recordID], ch)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			list := f.subs[recordID]
			for i, c := range list {
				if c == ch {
					list = append(list[:i], list[i+1:]...)
					break
				}
			}
			if len(list) == 0 {
				delete(f.subs, recordID)
			} else {
				f.subs[recordID] = list
			}
		})
	}
}

func (f *Feed) subscribed() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(f.subs))
	for id := range f.subs {
		ids = append(ids, id)
	}
	return ids
}

func (f *Feed) hasSubscribers(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[id]) > 0
}

func (f *Feed) publish(rec *models.AttendanceRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs[rec.ID] {
		// drop the stale value so the newest record always fits
		select {
		case <-ch:
		default:
		}
		ch <- rec
	}
}

// Listen keeps a LISTEN connection open until ctx is done, reconnecting on
// failure.
func (f *Feed) Listen(ctx context.Context) error {
	for {
		err := f.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		log.Printf("Change feed interrupted: %v. Retrying in %s...", err, f.retry)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(f.retry):
		}
	}
}

func (f *Feed) listen(ctx context.Context) error {
	pooled, err := f.db.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("error acquiring connection: %w", err)
	}
	// the LISTEN session must not go back to the pool
	conn := pooled.Hijack()
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pq.QuoteIdentifier(f.channel)); err != nil {
		return fmt.Errorf("error subscribing to %s: %w", f.channel, err)
	}
	log.Printf("Listening for attendance changes on %s", f.channel)

	// pushes may have been missed while disconnected
	for _, id := range f.subscribed() {
		f.refresh(ctx, id)
	}

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		id, err := uuid.Parse(n.Payload)
		if err != nil {
			log.Printf("Ignoring change notification with payload %q: %v", n.Payload, err)
			continue
		}
		if !f.hasSubscribers(id) {
			continue
		}
		f.refresh(ctx, id)
	}
}

func (f *Feed) refresh(ctx context.Context, id uuid.UUID) {
	rec, err := f.db.GetRecordByID(ctx, id)
	if err != nil {
		log.Printf("Error loading attendance record %s for change feed: %v", id, err)
		return
	}
	f.publish(rec)
}
