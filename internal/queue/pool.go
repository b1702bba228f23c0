// Package queue implements the bounded worker pool: FIFO admission with a
// depth-bounded channel, a fixed worker count, cooperative cancellation,
// and graceful shutdown. Grounded on claudegate's internal/queue/queue.go
// (channel-backed queue, per-job cancel map, context-scoped worker loop),
// generalized to spec.md §4.G's job-store-mediated state transitions and
// additional max_concurrent semaphore.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/apierr"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/jobstore"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/models"
)

// Callback executes one job's work. It receives a context carrying the
// job's deadline and is expected to observe job.CancelSignal cooperatively.
// Returning a non-nil error fails the job; returning nil completes it.
// Callback is responsible for populating the patch it wants applied on the
// terminal transition via the returned patch function.
type Callback func(ctx context.Context, job models.Job) (patch func(*models.Job), err error)

// Config tunes the pool per spec.md §4.G.
type Config struct {
	Workers       int
	MaxConcurrent int
	QueueDepth    int
	DefaultTimeout time.Duration
}

// Pool is the bounded worker pool / admission gate.
type Pool struct {
	cfg      Config
	store    *jobstore.Store
	callback Callback
	logger   arbor.ILogger

	jobs chan string
	sem  chan struct{} // max_concurrent gate

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	closed  bool
}

// New builds a Pool. callback is invoked by every worker for every job it
// dequeues.
func New(cfg Config, store *jobstore.Store, callback Callback, logger arbor.ILogger) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:      cfg,
		store:    store,
		callback: callback,
		logger:   logger,
		jobs:     make(chan string, cfg.QueueDepth),
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		ctx:      ctx,
		cancel:   cancel,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Start launches cfg.Workers worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.runWorker()
	}
}

// Submit creates a job in QUEUED and enqueues it. Returns QUEUE_FULL if the
// bounded channel is at capacity.
func (p *Pool) Submit(payload models.Payload, kind models.JobKind, parentBatchID string) (string, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return "", apierr.New(apierr.QueueFull, "queue is shutting down")
	}

	id := p.store.Create(payload, kind, parentBatchID)

	select {
	case p.jobs <- id:
		return id, nil
	default:
		// Roll the job record forward to a terminal state so it isn't
		// stranded in QUEUED with nothing ever picking it up.
		_, _ = p.store.Transition(id, models.StateQueued, models.StateFailed, func(j *models.Job) {
			j.Error = &models.JobError{Code: string(apierr.QueueFull), Message: "queue is full"}
		})
		return "", apierr.New(apierr.QueueFull, "queue depth exceeded")
	}
}

// Cancel sets the job's cancel signal. A QUEUED job transitions to
// CANCELLED immediately; a RUNNING job's context is cancelled and the
// worker observes it at its next suspension point.
func (p *Pool) Cancel(jobID string) (bool, error) {
	job, err := p.store.Get(jobID)
	if err != nil {
		return false, err
	}

	job.CancelSignal.Cancel()

	ok, err := p.store.Transition(jobID, models.StateQueued, models.StateCancelled, nil)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	p.mu.Lock()
	cancelFn, running := p.cancels[jobID]
	p.mu.Unlock()
	if running {
		cancelFn()
		return true, nil
	}

	if job.State.Terminal() {
		return false, apierr.New(apierr.Conflict, "job is already terminal")
	}
	return false, nil
}

// Shutdown stops accepting new jobs, cancels all in-flight jobs after grace
// elapses, and waits for every worker to exit.
func (p *Pool) Shutdown(grace time.Duration) {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	if grace > 0 {
		time.Sleep(grace)
	}
	p.cancel()
	p.wg.Wait()
}

func (p *Pool) runWorker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case jobID, ok := <-p.jobs:
			if !ok {
				return
			}
			p.processJob(jobID)
		}
	}
}

func (p *Pool) processJob(jobID string) {
	job, err := p.store.Get(jobID)
	if err != nil {
		p.logger.Warn().Str("job_id", jobID).Err(err).Msg("queue: job vanished before dispatch")
		return
	}
	if job.State != models.StateQueued {
		return // already cancelled while waiting
	}

	select {
	case p.sem <- struct{}{}:
	case <-p.ctx.Done():
		return
	}
	defer func() { <-p.sem }()

	ok, err := p.store.Transition(jobID, models.StateQueued, models.StateRunning, func(j *models.Job) {
		now := time.Now().UTC()
		j.StartedAt = &now
	})
	if err != nil || !ok {
		return
	}

	jobCtx, jobCancel := context.WithCancel(p.ctx)
	timeout := p.cfg.DefaultTimeout
	if job.Payload.TimeoutSec > 0 {
		timeout = time.Duration(job.Payload.TimeoutSec) * time.Second
	}
	if timeout > 0 {
		var timeoutCancel context.CancelFunc
		jobCtx, timeoutCancel = context.WithTimeout(jobCtx, timeout)
		defer timeoutCancel()
	}

	p.mu.Lock()
	p.cancels[jobID] = jobCancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.cancels, jobID)
		p.mu.Unlock()
		jobCancel()
	}()

	go func() {
		select {
		case <-job.CancelSignal.Done():
			jobCancel()
		case <-jobCtx.Done():
		}
	}()

	job, _ = p.store.Get(jobID)
	patch, callbackErr := p.runCallback(jobCtx, job)

	p.finalize(jobID, jobCtx, callbackErr, patch)
}

func (p *Pool) runCallback(ctx context.Context, job models.Job) (patch func(*models.Job), err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apierr.New(apierr.Internal, "worker callback panicked")
		}
	}()
	return p.callback(ctx, job)
}

func (p *Pool) finalize(jobID string, ctx context.Context, callbackErr error, patch func(*models.Job)) {
	if callbackErr == nil {
		ok, err := p.store.Transition(jobID, models.StateRunning, models.StateCompleted, func(j *models.Job) {
			if patch != nil {
				patch(j)
			}
		})
		if err == nil && ok {
			return
		}
		// CAS lost the race (e.g. external cancel won) — fall through and
		// attempt the failed/cancelled terminal instead, per spec.md's
		// "kept RUNNING, second transition attempt occurs" note.
	}

	code := apierr.Internal
	message := "worker callback failed"
	if callbackErr != nil {
		if apiErr, ok := apierr.As(callbackErr); ok {
			code = apiErr.Code
			message = apiErr.Message
		} else {
			message = callbackErr.Error()
		}
	}

	targetState := models.StateFailed
	if errors.Is(ctx.Err(), context.Canceled) {
		targetState = models.StateCancelled
	} else if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		code = apierr.Timeout
		message = "job exceeded its deadline"
	}

	_, _ = p.store.Transition(jobID, models.StateRunning, targetState, func(j *models.Job) {
		if targetState == models.StateFailed {
			j.Error = &models.JobError{Code: string(code), Message: message}
		}
	})
}
