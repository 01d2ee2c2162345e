package inmemory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/community-sacco/internal/domain"
	"github.com/dvloznov/community-sacco/internal/jobs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForStatus(t *testing.T, store *Store, id string, want jobs.JobStatus) *jobs.Job {
	t.Helper()
	var got *jobs.Job
	require.Eventually(t, func() bool {
		job, err := store.GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		got = job
		return job.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func TestQueueProcessesJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	q := NewQueue(Options{BufferSize: 10, Workers: 2}, store, zerolog.Nop())

	var seen atomic.Value
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job *jobs.Job) error {
		seen.Store(job.SubjectID)
		return nil
	}))
	defer q.Close()

	job, err := jobs.Enqueue(ctx, q, jobs.JobTypeExportTransaction, "tx-1")
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)

	done := waitForStatus(t, store, job.ID, jobs.JobStatusCompleted)
	assert.Equal(t, "tx-1", seen.Load())
	assert.NotNil(t, done.CompletedAt)
	assert.Empty(t, done.Error)
}

func TestQueueRetriesThenFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	q := NewQueue(Options{BufferSize: 10, Workers: 1, Backoff: time.Millisecond}, store, zerolog.Nop())

	var attempts atomic.Int32
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job *jobs.Job) error {
		attempts.Add(1)
		return errors.New("warehouse unavailable")
	}))
	defer q.Close()

	job := &jobs.Job{Type: jobs.JobTypeExportTransaction, SubjectID: "tx-1", MaxRetries: 2}
	require.NoError(t, q.Publish(ctx, job))

	failed := waitForStatus(t, store, job.ID, jobs.JobStatusFailed)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, 2, failed.RetryCount)
	assert.Equal(t, "warehouse unavailable", failed.Error)
}

func TestQueueRecoversPanicsAndTimesOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	q := NewQueue(Options{BufferSize: 10, Workers: 2, Timeout: 20 * time.Millisecond}, store, zerolog.Nop())
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job *jobs.Job) error {
		if job.SubjectID == "panics" {
			panic("nil document")
		}
		<-ctx.Done()
		return ctx.Err()
	}))
	defer q.Close()

	panicky := &jobs.Job{Type: jobs.JobTypeScreenLoanDocument, SubjectID: "panics", MaxRetries: -1}
	slow := &jobs.Job{Type: jobs.JobTypeExportTransaction, SubjectID: "slow", MaxRetries: -1}
	require.NoError(t, q.Publish(ctx, panicky))
	require.NoError(t, q.Publish(ctx, slow))

	failed := waitForStatus(t, store, panicky.ID, jobs.JobStatusFailed)
	assert.Contains(t, failed.Error, "handler panic: nil document")

	timedOut := waitForStatus(t, store, slow.ID, jobs.JobStatusFailed)
	assert.Contains(t, timedOut.Error, context.DeadlineExceeded.Error())
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{Workers: 8}.withDefaults()
	assert.Equal(t, 8, o.Workers)
	assert.Equal(t, defaultBufferSize, o.BufferSize)
	assert.Equal(t, defaultMaxRetries, o.MaxRetries)
	assert.Equal(t, defaultBackoff, o.Backoff)
	assert.Equal(t, defaultTimeout, o.Timeout)
}

func TestQueueRejectsAfterStop(t *testing.T) {
	q := NewQueue(Options{BufferSize: 1, Workers: 1}, nil, zerolog.Nop())
	require.NoError(t, q.Stop(context.Background()))

	err := q.Publish(context.Background(), &jobs.Job{Type: jobs.JobTypeExportTransaction})
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.Error(t, q.Start(context.Background(), func(context.Context, *jobs.Job) error { return nil }))
}

func TestStoreListAndNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveJob(ctx, &jobs.Job{ID: "a", Type: jobs.JobTypeScreenLoanDocument, Status: jobs.JobStatusCompleted, CreatedAt: base}))
	require.NoError(t, store.SaveJob(ctx, &jobs.Job{ID: "b", Type: jobs.JobTypeExportTransaction, Status: jobs.JobStatusFailed, CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, store.SaveJob(ctx, &jobs.Job{ID: "c", Type: jobs.JobTypeExportTransaction, Status: jobs.JobStatusCompleted, CreatedAt: base.Add(2 * time.Minute)}))

	all, err := store.ListJobs(ctx, jobs.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)

	exports, err := store.ListJobs(ctx, jobs.JobFilter{Type: jobs.JobTypeExportTransaction, Status: jobs.JobStatusCompleted})
	require.NoError(t, err)
	require.Len(t, exports, 1)
	assert.Equal(t, "c", exports[0].ID)

	paged, err := store.ListJobs(ctx, jobs.JobFilter{Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, paged)

	_, err = store.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Error(t, store.SaveJob(ctx, &jobs.Job{}))
}

func TestStoreRetention(t *testing.T) {
	ctx := context.Background()
	store := NewStoreWithRetention(2)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	finish := func(id string, at time.Time) {
		done := at
		require.NoError(t, store.SaveJob(ctx, &jobs.Job{ID: id, Status: jobs.JobStatusCompleted, CreatedAt: base, CompletedAt: &done}))
	}

	require.NoError(t, store.SaveJob(ctx, &jobs.Job{ID: "running", Status: jobs.JobStatusRunning, CreatedAt: base}))
	finish("old", base.Add(time.Minute))
	finish("mid", base.Add(2*time.Minute))
	finish("new", base.Add(3*time.Minute))

	_, err := store.GetJob(ctx, "old")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	for _, id := range []string{"running", "mid", "new"} {
		_, err := store.GetJob(ctx, id)
		assert.NoError(t, err, id)
	}

	// Re-saving a finished job does not count it twice.
	finish("new", base.Add(4*time.Minute))
	_, err = store.GetJob(ctx, "mid")
	assert.NoError(t, err)

	require.NoError(t, store.UpdateJobStatus(ctx, "running", jobs.JobStatusFailed, "boom"))
	_, err = store.GetJob(ctx, "mid")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	failed, err := store.GetJob(ctx, "running")
	require.NoError(t, err)
	assert.Equal(t, "boom", failed.Error)
}

func TestRouterDispatch(t *testing.T) {
	r := jobs.NewRouter()
	var got string
	r.Handle(jobs.JobTypeScreenLoanDocument, func(ctx context.Context, job *jobs.Job) error {
		got = job.SubjectID
		return nil
	})

	require.NoError(t, r.Dispatch(context.Background(), &jobs.Job{Type: jobs.JobTypeScreenLoanDocument, SubjectID: "loan-1"}))
	assert.Equal(t, "loan-1", got)
	assert.Error(t, r.Dispatch(context.Background(), &jobs.Job{Type: jobs.JobTypeExportTransaction}))

	job, err := jobs.Enqueue(context.Background(), nil, jobs.JobTypeExportTransaction, "tx")
	assert.NoError(t, err)
	assert.Nil(t, job)
}

func TestRouterGate(t *testing.T) {
	store := NewStore()
	queue := NewQueue(Options{BufferSize: 10, Workers: 1}, store, zerolog.Nop())
	defer queue.Close()

	r := jobs.NewRouter()
	r.Handle(jobs.JobTypeExportTransaction, func(ctx context.Context, job *jobs.Job) error { return nil })
	gated := r.Gate(queue)

	ctx := context.Background()
	_, err := jobs.Enqueue(ctx, gated, jobs.JobTypeScreenLoanDocument, "loan-1")
	require.NoError(t, err)
	exported, err := jobs.Enqueue(ctx, gated, jobs.JobTypeExportTransaction, "tx-1")
	require.NoError(t, err)

	list, err := store.ListJobs(ctx, jobs.JobFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, exported.ID, list[0].ID)
	assert.Equal(t, jobs.JobTypeExportTransaction, list[0].Type)
}
