package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/job"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/logger"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/testutil"
)

type recordingRunner struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (r *recordingRunner) RunAfterClaim(ctx context.Context, jobID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, jobID)
}

func (r *recordingRunner) ran() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uuid.UUID(nil), r.ids...)
}

func newQueuedJob(t *testing.T, store job.Store, appID string) *job.Job {
	t.Helper()
	j := &job.Job{
		Type:        job.JobTypeScreenshotExploration,
		AppID:       appID,
		Platform:    "android",
		RequestedBy: "release-pipeline",
		Config:      job.JSONMap{"app_id": appID, "platform": "android"},
	}
	require.NoError(t, store.Create(context.Background(), j))
	return j
}

func TestWorkerPool_DrainsQueueOnStartAndNotify(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.AutoMigrate(t, db, &job.Job{})
	store := job.NewMySQLStore(db, logger.Noop())

	queued := newQueuedJob(t, store, "com.example.one")

	runner := &recordingRunner{}
	pool := NewWorkerPool(2, store, runner, logger.NewTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	require.Eventually(t, func() bool { return len(runner.ran()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, queued.ID, runner.ran()[0])

	later := newQueuedJob(t, store, "com.example.two")
	pool.Notify()
	require.Eventually(t, func() bool { return len(runner.ran()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, later.ID, runner.ran()[1])

	cancel()
	pool.Wait()

	got, err := store.GetByID(context.Background(), later.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusRunning, got.Status)
}

func TestWorkerPool_NotifyNeverBlocks(t *testing.T) {
	pool := NewWorkerPool(1, nil, &recordingRunner{}, logger.Noop())
	for i := 0; i < 10; i++ {
		pool.Notify()
	}
	assert.Len(t, pool.Work, 1)
}
