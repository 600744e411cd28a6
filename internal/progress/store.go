package progress

import (
	"sync"
	"time"

	"github.com/character-lab/backend/internal/metrics"
)

// slot guards one task's record. Tasks never share a slot, so updates to
// different tasks do not contend.
type slot struct {
	mu      sync.Mutex
	rec     Record
	exists  bool
	evicted bool

	// tombstone is the terminal status of an evicted record. Updates to a
	// tombstoned task are rejected until the tombstone expires.
	tombstone Status
	buriedAt  time.Time
}

// DefaultTombstoneTTL is how long an evicted task id keeps rejecting updates.
const DefaultTombstoneTTL = 7 * 24 * time.Hour

// Store maps task ids to their latest Record.
type Store struct {
	slots        sync.Map // taskID -> *slot
	now          func() time.Time
	tombstoneTTL time.Duration
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{now: time.Now, tombstoneTTL: DefaultTombstoneTTL}
}

func (s *Store) slot(taskID string) *slot {
	if v, ok := s.slots.Load(taskID); ok {
		return v.(*slot)
	}
	v, loaded := s.slots.LoadOrStore(taskID, &slot{})
	if !loaded {
		metrics.ProgressRecords.Inc()
	}
	return v.(*slot)
}

// lockedSlot returns the task's live slot with its lock held. A slot removed by
// eviction between lookup and lock is skipped.
func (s *Store) lockedSlot(taskID string) *slot {
	for {
		sl := s.slot(taskID)
		sl.mu.Lock()
		if !sl.evicted {
			return sl
		}
		sl.mu.Unlock()
	}
}

// Apply writes next as the task's record if the stored status may transition
// to next.Status. UpdatedAt is set by the store.
//
// The check and the write happen under the task's lock. If notify is non-nil it
// runs under the same lock after a successful write, so notifications for one
// task are emitted in the order the store accepted them.
func (s *Store) Apply(next Record, notify func(Record)) (Record, error) {
	sl := s.lockedSlot(next.TaskID)
	defer sl.mu.Unlock()

	if sl.tombstone != "" {
		return Record{TaskID: next.TaskID, UserID: sl.rec.UserID, Status: sl.tombstone}, ErrStatusRegression
	}
	if sl.exists && !sl.rec.Status.CanTransition(next.Status) {
		return sl.rec, ErrStatusRegression
	}

	next.UpdatedAt = s.now()
	sl.rec = next
	sl.exists = true

	if notify != nil {
		notify(next)
	}
	return next, nil
}

// Get returns the record of a task.
func (s *Store) Get(taskID string) (Record, bool) {
	v, ok := s.slots.Load(taskID)
	if !ok {
		return Record{}, false
	}
	sl := v.(*slot)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.rec, sl.exists
}

// Len returns the number of records.
func (s *Store) Len() int {
	n := 0
	s.slots.Range(func(_, v any) bool {
		sl := v.(*slot)
		sl.mu.Lock()
		if sl.exists {
			n++
		}
		sl.mu.Unlock()
		return true
	})
	return n
}

// EvictTerminal removes terminal records last updated before cutoff and
// returns how many were removed. Running tasks are never evicted.
//
// An evicted task keeps a tombstone with its terminal status, so a late
// update cannot revive it. Tombstones older than the tombstone TTL are
// dropped on the same pass.
func (s *Store) EvictTerminal(cutoff time.Time) int {
	now := s.now()
	evicted := 0
	s.slots.Range(func(k, v any) bool {
		sl := v.(*slot)
		sl.mu.Lock()
		switch {
		case sl.exists && sl.rec.Status.IsTerminal() && sl.rec.UpdatedAt.Before(cutoff):
			sl.tombstone = sl.rec.Status
			sl.buriedAt = now
			sl.rec = Record{TaskID: sl.rec.TaskID, UserID: sl.rec.UserID, Status: sl.rec.Status}
			sl.exists = false
			evicted++
		case sl.tombstone != "" && now.Sub(sl.buriedAt) > s.tombstoneTTL:
			s.slots.CompareAndDelete(k, v)
			sl.evicted = true
		}
		sl.mu.Unlock()
		return true
	})
	if evicted > 0 {
		metrics.ProgressRecords.Sub(float64(evicted))
		metrics.ProgressEvicted.Add(float64(evicted))
	}
	return evicted
}
