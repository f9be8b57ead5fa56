package ingest

import (
	"sync"

	"github.com/google/uuid"
	"github.com/ruteri/sbs/interfaces"
)

type entryKey struct {
	library interfaces.LibraryID
	entry   interfaces.EntryID
}

// Store keeps ingestion records for status reporting: an append-only log in
// submission order and an index of in-flight records by target entry.
//
// A record stays in the in-flight index until it finishes, even when one of
// its downloads has already marked it Failed, so a second ingestion of the
// same entry cannot start while the first is still writing.
type Store struct {
	mu         sync.RWMutex
	records    []*Record
	inFlight   map[entryKey]*Record
	maxRecords int
}

// NewStore creates a store. When maxRecords is positive, the oldest finished
// records are evicted to keep the log at that size; in-flight records are
// never evicted.
func NewStore(maxRecords int) *Store {
	return &Store{
		inFlight:   make(map[entryKey]*Record),
		maxRecords: maxRecords,
	}
}

// InFlight returns the in-flight record for the entry, if any.
func (s *Store) InFlight(libraryID interfaces.LibraryID, entryID interfaces.EntryID) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.inFlight[entryKey{libraryID, entryID}]
	return r, ok
}

// TryBegin appends the record unless another record for the same entry is
// in flight. It reports whether the record was added.
func (s *Store) TryBegin(r *Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entryKey{r.LibraryID, r.EntryID}
	if _, exists := s.inFlight[key]; exists {
		return false
	}
	s.inFlight[key] = r
	s.records = append(s.records, r)
	s.evictLocked()
	return true
}

// finish moves a record to its terminal state and removes it from the
// in-flight index in one step. Anyone woken by the record's Done channel sees
// the entry as free.
func (s *Store) finish(r *Record, state RecordState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.finish(state)
	key := entryKey{r.LibraryID, r.EntryID}
	if s.inFlight[key] == r {
		delete(s.inFlight, key)
	}
	s.evictLocked()
}

func (s *Store) evictLocked() {
	if s.maxRecords <= 0 || len(s.records) <= s.maxRecords {
		return
	}
	excess := len(s.records) - s.maxRecords
	kept := s.records[:0]
	for _, r := range s.records {
		if excess > 0 && r.isDone() {
			excess--
			continue
		}
		kept = append(kept, r)
	}
	clear(s.records[len(kept):])
	s.records = kept
}

// Get returns the record with the given id.
func (s *Store) Get(id uuid.UUID) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

// Len returns the number of records in the log.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Snapshot returns snapshots of the records in submission order, optionally
// restricted to the given states.
func (s *Store) Snapshot(states ...RecordState) []RecordSnapshot {
	s.mu.RLock()
	records := make([]*Record, len(s.records))
	copy(records, s.records)
	s.mu.RUnlock()

	snapshots := make([]RecordSnapshot, 0, len(records))
	for _, r := range records {
		snap := r.Snapshot()
		if len(states) > 0 && !containsState(states, snap.State) {
			continue
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots
}

// CountByState counts the records in each state.
func (s *Store) CountByState() map[RecordState]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[RecordState]int)
	for _, r := range s.records {
		counts[r.State()]++
	}
	return counts
}

func containsState(states []RecordState, state RecordState) bool {
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}
