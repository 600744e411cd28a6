package video

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/character-lab/backend/internal/ai"
	"github.com/character-lab/backend/internal/db"
	"github.com/character-lab/backend/internal/model"
	"github.com/character-lab/backend/internal/progress"
	"github.com/character-lab/backend/internal/repository"
	"github.com/character-lab/backend/internal/worker"
	"github.com/character-lab/backend/internal/ws"
)

// eventLog stands in for the connection registry and keeps every event.
type eventLog struct {
	mu     sync.Mutex
	events []any
}

func (l *eventLog) SendToUser(userID string, message any) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, message)
	return true
}

func (l *eventLog) snapshot() []any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]any(nil), l.events...)
}

type failingGenerator struct{}

func (failingGenerator) Generate(ctx context.Context, req ai.GenerationRequest, report ai.ReportFunc) (*ai.GenerationResult, error) {
	report(20, "starting")
	return nil, errors.New("renderer crashed")
}

// blockingGenerator holds every job until release is closed.
type blockingGenerator struct {
	release chan struct{}
}

func (g blockingGenerator) Generate(ctx context.Context, req ai.GenerationRequest, report ai.ReportFunc) (*ai.GenerationResult, error) {
	select {
	case <-g.release:
		return &ai.GenerationResult{VideoURL: "/v.mp4", Title: "t"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type fixture struct {
	manager    *Manager
	events     *eventLog
	tracker    *progress.Tracker
	characters *repository.CharacterRepository
	videos     *repository.VideoRepository
	character  *model.Character
}

func newFixture(t *testing.T, gen ai.Generator, workers, queue, maxActive int) *fixture {
	t.Helper()
	gdb, err := db.NewTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gdb) })

	characters := repository.NewCharacterRepository(gdb)
	videos := repository.NewVideoRepository(gdb)
	events := &eventLog{}
	tracker := progress.NewTracker(progress.NewStore(), events)
	pool := worker.NewPool(workers, queue)
	t.Cleanup(func() { _ = pool.Stop(context.Background()) })

	c := &model.Character{UserID: "u1", Name: "Ada"}
	require.NoError(t, characters.Create(context.Background(), c))

	return &fixture{
		manager:    NewManager(characters, videos, tracker, pool, gen, Config{MaxActiveTasksPerUser: maxActive}),
		events:     events,
		tracker:    tracker,
		characters: characters,
		videos:     videos,
		character:  c,
	}
}

func (f *fixture) request() *model.GenerateVideoRequest {
	return &model.GenerateVideoRequest{CharacterID: f.character.ID, Script: "A short scene", UserID: "u1"}
}

func waitForStatus(t *testing.T, f *fixture, taskID string, status progress.Status) progress.Record {
	t.Helper()
	var rec progress.Record
	require.Eventually(t, func() bool {
		var ok bool
		rec, ok = f.tracker.Store().Get(taskID)
		return ok && rec.Status == status
	}, 5*time.Second, 5*time.Millisecond)
	return rec
}

func TestCreateTaskRunsToCompletion(t *testing.T) {
	f := newFixture(t, ai.StubGenerator{StepDelay: time.Millisecond}, 2, 10, 3)
	ctx := context.Background()

	task, err := f.manager.CreateTask(ctx, f.request())
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusPending, task.Status)
	require.NotNil(t, task.EstimatedTime)
	assert.Equal(t, 60, *task.EstimatedTime)

	rec := waitForStatus(t, f, task.ID, progress.StatusCompleted)
	assert.Equal(t, 100, rec.Progress)
	videoID, ok := rec.Result["video_id"].(string)
	require.True(t, ok)

	stored, err := f.videos.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, stored.Status)
	require.NotNil(t, stored.VideoID)
	assert.Equal(t, videoID, *stored.VideoID)

	videos, err := f.manager.ListVideos(ctx, "u1", repository.Page{})
	require.NoError(t, err)
	require.Len(t, videos, 1)
	assert.Equal(t, task.ID, videos[0].TaskID)

	events := f.events.snapshot()
	require.NotEmpty(t, events)
	last := -1
	for _, ev := range events[:len(events)-1] {
		update, ok := ev.(progress.ProgressUpdateEvent)
		require.True(t, ok, "unexpected event %T", ev)
		assert.GreaterOrEqual(t, update.Progress, last)
		last = update.Progress
	}
	_, ok = events[len(events)-1].(progress.CompletedEvent)
	assert.True(t, ok)
}

func TestCreateTaskValidation(t *testing.T) {
	f := newFixture(t, ai.StubGenerator{}, 1, 10, 3)
	ctx := context.Background()

	req := f.request()
	req.Script = ""
	_, err := f.manager.CreateTask(ctx, req)
	assert.ErrorIs(t, err, model.ErrScriptRequired)

	req = f.request()
	req.UserID = "u2"
	_, err = f.manager.CreateTask(ctx, req)
	assert.ErrorIs(t, err, model.ErrCharacterNotFound)
}

func TestCreateTaskEnforcesActiveLimit(t *testing.T) {
	gen := blockingGenerator{release: make(chan struct{})}
	f := newFixture(t, gen, 1, 10, 2)
	ctx := context.Background()
	defer close(gen.release)

	for i := 0; i < 2; i++ {
		_, err := f.manager.CreateTask(ctx, f.request())
		require.NoError(t, err)
	}
	_, err := f.manager.CreateTask(ctx, f.request())
	assert.ErrorIs(t, err, model.ErrConcurrencyLimit)
}

func TestCreateTaskQueueFull(t *testing.T) {
	gen := blockingGenerator{release: make(chan struct{})}
	f := newFixture(t, gen, 1, 1, 10)
	ctx := context.Background()
	defer close(gen.release)

	first, err := f.manager.CreateTask(ctx, f.request())
	require.NoError(t, err)
	waitForStatus(t, f, first.ID, progress.StatusProcessing)

	_, err = f.manager.CreateTask(ctx, f.request())
	require.NoError(t, err)

	_, err = f.manager.CreateTask(ctx, f.request())
	assert.ErrorIs(t, err, model.ErrQueueFull)

	tasks, err := f.manager.ListTasks(ctx, "u1", repository.Page{})
	require.NoError(t, err)
	failed := 0
	for _, task := range tasks {
		if task.Status == model.TaskStatusFailed {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
}

func TestGenerationFailure(t *testing.T) {
	f := newFixture(t, failingGenerator{}, 1, 10, 3)
	ctx := context.Background()

	task, err := f.manager.CreateTask(ctx, f.request())
	require.NoError(t, err)

	rec := waitForStatus(t, f, task.ID, progress.StatusFailed)
	assert.Equal(t, "renderer crashed", rec.Error)
	assert.Zero(t, rec.Progress)

	require.Eventually(t, func() bool {
		stored, err := f.videos.GetTask(ctx, task.ID)
		return err == nil && stored.Status == model.TaskStatusFailed
	}, time.Second, 5*time.Millisecond)

	got, err := f.manager.GetTask(ctx, task.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, "renderer crashed", got.ErrorMessage)
}

func TestGetTaskOverlaysLiveProgress(t *testing.T) {
	gen := blockingGenerator{release: make(chan struct{})}
	f := newFixture(t, gen, 1, 10, 3)
	ctx := context.Background()
	defer close(gen.release)

	task, err := f.manager.CreateTask(ctx, f.request())
	require.NoError(t, err)
	waitForStatus(t, f, task.ID, progress.StatusProcessing)

	require.NoError(t, f.tracker.Update(task.ID, "u1", 42, progress.StatusProcessing, "halfway"))
	got, err := f.manager.GetTask(ctx, task.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, 42, got.Progress)
	assert.Equal(t, "halfway", got.Message)

	_, err = f.manager.GetTask(ctx, task.ID, "u2")
	assert.ErrorIs(t, err, model.ErrTaskNotFound)
}

func TestLookupTaskFallsBackToDatabase(t *testing.T) {
	f := newFixture(t, ai.StubGenerator{StepDelay: time.Millisecond}, 1, 10, 3)
	ctx := context.Background()

	task, err := f.manager.CreateTask(ctx, f.request())
	require.NoError(t, err)
	waitForStatus(t, f, task.ID, progress.StatusCompleted)

	require.Equal(t, 1, f.tracker.Store().EvictTerminal(time.Now().Add(time.Hour)))

	// A late step for the evicted task must not shadow the stored row.
	require.NoError(t, f.tracker.Update(task.ID, "u1", 40, progress.StatusProcessing, "late"))

	rec, err := f.manager.LookupTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, progress.StatusCompleted, rec.Status)
	assert.Equal(t, "u1", rec.UserID)
	assert.NotEmpty(t, rec.Result["video_id"])

	_, err = f.manager.LookupTask(ctx, "missing")
	assert.ErrorIs(t, err, ws.ErrTaskNotFound)
}

func TestRecoverInterrupted(t *testing.T) {
	f := newFixture(t, ai.StubGenerator{}, 1, 10, 3)
	ctx := context.Background()

	stale := &model.VideoTask{UserID: "u1", CharacterID: f.character.ID, Script: "s", Status: model.TaskStatusProcessing}
	require.NoError(t, f.videos.CreateTask(ctx, stale))

	require.NoError(t, f.manager.RecoverInterrupted(ctx))

	got, err := f.videos.GetTask(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, got.Status)
}
