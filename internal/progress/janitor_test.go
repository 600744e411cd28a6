package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJanitorSweep(t *testing.T) {
	store := NewStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now.Add(-2 * time.Hour) }
	_, _ = store.Apply(Record{TaskID: "old", UserID: "u1", Status: StatusCompleted}, nil)
	store.now = func() time.Time { return now }
	_, _ = store.Apply(Record{TaskID: "fresh", UserID: "u1", Status: StatusCompleted}, nil)

	j, err := NewJanitor(store, "@every 1h", time.Hour)
	require.NoError(t, err)
	j.now = func() time.Time { return now }

	assert.Equal(t, 1, j.Sweep())
	_, ok := store.Get("fresh")
	assert.True(t, ok)
}

func TestNewJanitorRejectsBadSchedule(t *testing.T) {
	_, err := NewJanitor(NewStore(), "not a schedule", time.Hour)
	assert.Error(t, err)
}
