package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/property-monitor/internal/listing"
	"github.com/JakeFAU/property-monitor/internal/store"
)

// Clock supplies insertion timestamps.
type Clock interface {
	Now() time.Time
}

// RecordStore keeps listing records in memory with the same link uniqueness
// the Postgres store enforces. Useful for dry runs and tests.
type RecordStore struct {
	mu     sync.RWMutex
	rows   []listing.StoredRecord
	links  map[string]struct{}
	nextID int64
	clock  Clock
}

var _ store.RecordStore = (*RecordStore)(nil)

// NewRecordStore constructs a RecordStore. A nil clock uses time.Now in UTC.
func NewRecordStore(clock Clock) *RecordStore {
	return &RecordStore{
		links: make(map[string]struct{}),
		clock: clock,
	}
}

// Begin opens a batch. Staged rows become visible on Commit.
func (s *RecordStore) Begin(_ context.Context) (store.Batch, error) {
	return &recordBatch{parent: s, staged: make(map[string]struct{})}, nil
}

// List returns committed records ordered by ID.
func (s *RecordStore) List(_ context.Context) ([]listing.StoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]listing.StoredRecord, len(s.rows))
	copy(out, s.rows)
	return out, nil
}

// Close is a no-op.
func (s *RecordStore) Close() error {
	return nil
}

func (s *RecordStore) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}

func (s *RecordStore) hasLink(link string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.links[link]
	return ok
}

type recordBatch struct {
	parent  *RecordStore
	pending []listing.Record
	staged  map[string]struct{}
	done    bool
}

func (b *recordBatch) InsertIgnore(_ context.Context, rec listing.Record) (bool, error) {
	if b.done {
		return false, store.ErrBatchDone
	}
	if _, ok := b.staged[rec.Link]; ok {
		return false, nil
	}
	if b.parent.hasLink(rec.Link) {
		return false, nil
	}
	b.staged[rec.Link] = struct{}{}
	b.pending = append(b.pending, rec)
	return true, nil
}

func (b *recordBatch) Commit(_ context.Context) error {
	if b.done {
		return store.ErrBatchDone
	}
	b.done = true
	s := b.parent
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range b.pending {
		// A concurrent batch may have committed the same link first.
		if _, ok := s.links[rec.Link]; ok {
			continue
		}
		s.nextID++
		s.links[rec.Link] = struct{}{}
		s.rows = append(s.rows, listing.StoredRecord{Record: rec, ID: s.nextID, ScrapedAt: now})
	}
	b.pending = nil
	return nil
}

func (b *recordBatch) Rollback(_ context.Context) error {
	if b.done {
		return nil
	}
	b.done = true
	b.pending = nil
	return nil
}
