package progress

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusPending, true},
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusCompleted, true},
		{StatusProcessing, StatusProcessing, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusPending, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusCompleted, StatusCompleted, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusPending, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestStoreApplyRejectsTerminalOverwrite(t *testing.T) {
	s := NewStore()

	_, err := s.Apply(Record{TaskID: "t1", UserID: "u1", Progress: 100, Status: StatusCompleted}, nil)
	require.NoError(t, err)

	notified := false
	stored, err := s.Apply(Record{TaskID: "t1", UserID: "u1", Progress: 60, Status: StatusProcessing}, func(Record) {
		notified = true
	})
	require.ErrorIs(t, err, ErrStatusRegression)
	assert.False(t, notified)
	assert.Equal(t, StatusCompleted, stored.Status)

	got, ok := s.Get("t1")
	require.True(t, ok)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestStoreLen(t *testing.T) {
	s := NewStore()
	for i, user := range []string{"u1", "u2", "u1"} {
		_, err := s.Apply(Record{TaskID: fmt.Sprintf("t%d", i), UserID: user, Status: StatusPending}, nil)
		require.NoError(t, err)
	}
	_, err := s.Apply(Record{TaskID: "t0", UserID: "u1", Status: StatusProcessing}, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, s.Len())
}

func TestStoreEvictTerminal(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	_, _ = s.Apply(Record{TaskID: "done", UserID: "u1", Status: StatusCompleted}, nil)
	_, _ = s.Apply(Record{TaskID: "failed", UserID: "u1", Status: StatusFailed}, nil)
	_, _ = s.Apply(Record{TaskID: "running", UserID: "u1", Status: StatusProcessing}, nil)

	assert.Equal(t, 2, s.EvictTerminal(base.Add(time.Minute)))
	_, ok := s.Get("done")
	assert.False(t, ok)
	_, ok = s.Get("running")
	assert.True(t, ok)

	assert.Equal(t, 1, s.Len())
}

func TestStoreEvictedRecordCannotBeRevived(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	_, err := s.Apply(Record{TaskID: "t1", UserID: "u1", Progress: 100, Status: StatusCompleted}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, s.EvictTerminal(base.Add(time.Hour)))

	notified := false
	stored, err := s.Apply(Record{TaskID: "t1", UserID: "u1", Progress: 40, Status: StatusProcessing}, func(Record) {
		notified = true
	})
	require.ErrorIs(t, err, ErrStatusRegression)
	assert.False(t, notified)
	assert.Equal(t, StatusCompleted, stored.Status)

	_, ok := s.Get("t1")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestStoreTombstoneExpires(t *testing.T) {
	s := NewStore()
	s.tombstoneTTL = time.Hour
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	_, _ = s.Apply(Record{TaskID: "t1", UserID: "u1", Status: StatusFailed}, nil)
	require.Equal(t, 1, s.EvictTerminal(base.Add(time.Minute)))

	// Still buried within the TTL.
	s.now = func() time.Time { return base.Add(30 * time.Minute) }
	assert.Equal(t, 0, s.EvictTerminal(base))
	_, err := s.Apply(Record{TaskID: "t1", UserID: "u1", Status: StatusPending}, nil)
	assert.ErrorIs(t, err, ErrStatusRegression)

	s.now = func() time.Time { return base.Add(2 * time.Hour) }
	assert.Equal(t, 0, s.EvictTerminal(base))
	_, err = s.Apply(Record{TaskID: "t1", UserID: "u1", Status: StatusPending}, nil)
	assert.NoError(t, err)
}

func TestStoreConcurrentSameTask(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(p int) {
			defer wg.Done()
			_, _ = s.Apply(Record{TaskID: "t1", UserID: "u1", Progress: p, Status: StatusProcessing}, nil)
		}(i)
		go func() {
			defer wg.Done()
			_, _ = s.Apply(Record{TaskID: "t1", UserID: "u1", Progress: 100, Status: StatusCompleted}, nil)
		}()
	}
	wg.Wait()

	got, ok := s.Get("t1")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
}

// Once a record is terminal, no later sequence of updates changes it.
func TestTerminalRecordIsStableProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	statusGen := gen.OneConstOf(StatusPending, StatusProcessing, StatusCompleted, StatusFailed)

	properties.Property("terminal records never change", prop.ForAll(
		func(statuses []Status, progresses []int) bool {
			s := NewStore()
			var terminal *Record
			for i, st := range statuses {
				p := 0
				if i < len(progresses) {
					p = progresses[i]
				}
				stored, err := s.Apply(Record{TaskID: "t", UserID: "u", Progress: p, Status: st}, nil)
				if terminal != nil {
					if err == nil || stored.Status != terminal.Status || stored.Progress != terminal.Progress {
						return false
					}
					continue
				}
				if err == nil && st.IsTerminal() {
					r := stored
					terminal = &r
				}
			}
			return true
		},
		gen.SliceOf(statusGen),
		gen.SliceOf(gen.IntRange(0, 100)),
	))

	properties.Property("accepted statuses never move backwards", prop.ForAll(
		func(statuses []Status) bool {
			s := NewStore()
			last := -1
			for _, st := range statuses {
				stored, err := s.Apply(Record{TaskID: "t", UserID: "u", Status: st}, nil)
				if err != nil {
					continue
				}
				if stored.Status.rank() < last {
					return false
				}
				last = stored.Status.rank()
			}
			return true
		},
		gen.SliceOf(statusGen),
	))

	properties.TestingRun(t)
}
