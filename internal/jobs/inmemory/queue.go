package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/community-sacco/internal/jobs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrQueueClosed is returned by Publish and Start once the queue is stopped.
var ErrQueueClosed = errors.New("queue is closed")

// Options tunes a Queue. Zero fields take the defaults below.
type Options struct {
	// BufferSize is how many jobs can wait before Publish blocks.
	BufferSize int
	Workers    int
	// MaxRetries applies to jobs published without their own limit.
	MaxRetries int
	// Backoff is the delay before the first retry; it doubles per attempt.
	Backoff time.Duration
	// Timeout bounds a single handler attempt.
	Timeout time.Duration
}

const (
	defaultBufferSize = 100
	defaultWorkers    = 4
	defaultMaxRetries = 3
	defaultBackoff    = time.Second
	defaultTimeout    = 2 * time.Minute
)

func (o Options) withDefaults() Options {
	if o.BufferSize <= 0 {
		o.BufferSize = defaultBufferSize
	}
	if o.Workers <= 0 {
		o.Workers = defaultWorkers
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.Backoff <= 0 {
		o.Backoff = defaultBackoff
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	return o
}

// Queue runs background jobs on a fixed set of goroutines. Jobs live only in
// this process: the API server consumes what it publishes, and anything still
// queued at shutdown is lost (the job store keeps its last status).
type Queue struct {
	opts      Options
	jobChan   chan *jobs.Job
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	store     jobs.JobStore
	log       zerolog.Logger
}

// NewQueue creates a queue. store may be nil when job status is not needed.
func NewQueue(opts Options, store jobs.JobStore, log zerolog.Logger) *Queue {
	opts = opts.withDefaults()
	return &Queue{
		opts:      opts,
		jobChan:   make(chan *jobs.Job, opts.BufferSize),
		closeChan: make(chan struct{}),
		store:     store,
		log:       log.With().Str("component", "jobs").Logger(),
	}
}

// Publish records the job as pending and queues a copy of it. The caller's
// job gets its ID, status and timestamps filled in.
func (q *Queue) Publish(ctx context.Context, job *jobs.Job) error {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return ErrQueueClosed
	}

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = q.opts.MaxRetries
	}

	if err := q.save(ctx, job); err != nil {
		return fmt.Errorf("Publish: save job: %w", err)
	}

	// jobChan is never closed; Stop is observed through closeChan.
	queued := *job
	select {
	case q.jobChan <- &queued:
		jobLog := q.jobLogger(job)
		jobLog.Debug().Msg("Job queued")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return ErrQueueClosed
	}
}

// Start launches the workers and returns immediately. Workers exit when ctx
// is cancelled or the queue is stopped.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	return nil
}

func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			q.process(ctx, job, handler)
		}
	}
}

func (q *Queue) process(ctx context.Context, job *jobs.Job, handler jobs.JobHandler) {
	log := q.jobLogger(job)

	started := time.Now()
	job.Status = jobs.JobStatusRunning
	job.StartedAt = &started
	job.CompletedAt = nil
	q.saveOrLog(ctx, job, log)

	err := q.attempt(ctx, job, handler)

	finished := time.Now()
	job.CompletedAt = &finished
	log = log.With().Int("attempt", job.RetryCount+1).Dur("duration", finished.Sub(started)).Logger()

	switch {
	case err == nil:
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
		log.Info().Msg("Job completed")

	case job.RetryCount < job.MaxRetries:
		job.Error = err.Error()
		job.RetryCount++
		job.Status = jobs.JobStatusRetrying
		delay := q.opts.Backoff << (job.RetryCount - 1)
		log.Warn().Err(err).Dur("retry_in", delay).Msg("Job failed, will retry")
		q.scheduleRetry(ctx, *job, delay)

	default:
		job.Error = err.Error()
		job.Status = jobs.JobStatusFailed
		log.Error().Err(err).Msg("Job failed permanently")
	}

	q.saveOrLog(ctx, job, log)
}

// attempt runs the handler once under the per-attempt timeout. A panic is
// reported as an ordinary failure.
func (q *Queue) attempt(ctx context.Context, job *jobs.Job, handler jobs.JobHandler) (err error) {
	ctx, cancel := context.WithTimeout(ctx, q.opts.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (q *Queue) scheduleRetry(ctx context.Context, job jobs.Job, delay time.Duration) {
	time.AfterFunc(delay, func() {
		job.Status = jobs.JobStatusPending
		job.StartedAt = nil
		job.CompletedAt = nil
		if err := q.Publish(ctx, &job); err != nil {
			// Retry never ran; record that instead of leaving it retrying.
			job.Status = jobs.JobStatusFailed
			job.Error = fmt.Sprintf("retry not queued: %v", err)
			q.saveOrLog(context.Background(), &job, q.jobLogger(&job))
		}
	})
}

// Stop refuses new jobs and waits for in-flight handlers to return.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements jobs.Publisher.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

func (q *Queue) save(ctx context.Context, job *jobs.Job) error {
	if q.store == nil {
		return nil
	}
	return q.store.SaveJob(ctx, job)
}

func (q *Queue) saveOrLog(ctx context.Context, job *jobs.Job, log zerolog.Logger) {
	if err := q.save(ctx, job); err != nil {
		log.Error().Err(err).Str("status", string(job.Status)).Msg("Failed to save job status")
	}
}

func (q *Queue) jobLogger(job *jobs.Job) zerolog.Logger {
	return q.log.With().
		Str("job_id", job.ID).
		Str("job_type", string(job.Type)).
		Str("subject_id", job.SubjectID).
		Logger()
}

var (
	_ jobs.Publisher = (*Queue)(nil)
	_ jobs.Consumer  = (*Queue)(nil)
)
