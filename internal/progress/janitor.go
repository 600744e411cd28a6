package progress

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/character-lab/backend/internal/logging"
)

// Janitor periodically evicts finished records older than the retention window.
type Janitor struct {
	store     *Store
	retention time.Duration
	cron      *cron.Cron
	now       func() time.Time
}

// NewJanitor schedules eviction with a cron spec such as "@every 10m" or "0 */15 * * * *".
func NewJanitor(store *Store, schedule string, retention time.Duration) (*Janitor, error) {
	j := &Janitor{
		store:     store,
		retention: retention,
		cron:      cron.New(cron.WithSeconds()),
		now:       time.Now,
	}
	if _, err := j.cron.AddFunc(schedule, func() { j.Sweep() }); err != nil {
		return nil, fmt.Errorf("invalid eviction schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Start begins the schedule in the background.
func (j *Janitor) Start() {
	j.cron.Start()
	logging.Info().Dur("retention", j.retention).Msg("progress janitor started")
}

// Stop halts the schedule and waits for a running sweep.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweep evicts terminal records older than the retention window.
func (j *Janitor) Sweep() int {
	n := j.store.EvictTerminal(j.now().Add(-j.retention))
	if n > 0 {
		logging.Info().Int("evicted", n).Msg("evicted finished progress records")
	}
	return n
}
