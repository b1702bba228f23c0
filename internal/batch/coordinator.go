// Package batch implements the batch coordinator: composition of N
// single-URL jobs into one batch with aggregated progress and
// partial-failure policy, grounded on httprunner-video-downloader's
// BatchManager (semaphore-sized concurrency cap, per-batch progress
// counters, status derived from completed/failed/skipped tallies).
package batch

import (
	"strconv"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/apierr"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/common"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/models"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/queue"
)

const (
	minURLs           = 1
	maxURLs           = 100
	minConcurrencyCap = 1
	maxConcurrencyCap = 10
)

// Submitter is the subset of queue.Pool the coordinator needs, so tests can
// substitute a fake without standing up a real worker pool.
type Submitter interface {
	Submit(payload models.Payload, kind models.JobKind, parentBatchID string) (string, error)
	Cancel(jobID string) (bool, error)
}

// Coordinator owns Batch records and dispatches their children through a
// Submitter under a per-batch concurrency semaphore.
type Coordinator struct {
	submitter Submitter
	logger    arbor.ILogger

	mu      sync.Mutex
	batches map[string]*batchState
}

type batchState struct {
	mu           sync.Mutex
	batch        *models.Batch
	childPercent map[string]float64
	// sem bounds how many children may be non-terminal at once: CreateBatch
	// acquires a slot before each Submit, OnChildTransition (and a failed
	// submission) releases one.
	sem chan struct{}
}

// acquire blocks until a dispatch slot is free.
func (s *batchState) acquire() {
	s.sem <- struct{}{}
}

// release frees a dispatch slot. Safe to call more times than acquire was
// called (e.g. a retried terminal report), since it never blocks.
func (s *batchState) release() {
	select {
	case <-s.sem:
	default:
	}
}

// New returns a Coordinator dispatching through submitter.
func New(submitter Submitter, logger arbor.ILogger) *Coordinator {
	return &Coordinator{
		submitter: submitter,
		logger:    logger,
		batches:   make(map[string]*batchState),
	}
}

// CreateBatch validates inputs, creates the batch record, and dispatches
// children one at a time, each acquiring a concurrency_cap-sized semaphore
// slot first; a slot frees only once that child reaches a terminal state,
// so CreateBatch blocks on the (cap+1)th URL until an earlier child
// finishes. It still returns the batch ID as soon as every URL has been
// submitted or rejected.
func (c *Coordinator) CreateBatch(urls []string, sharedOptions models.Payload, policy models.BatchPolicy, concurrencyCap int) (string, error) {
	if len(urls) < minURLs || len(urls) > maxURLs {
		return "", apierr.New(apierr.Validation, "urls must contain between 1 and 100 entries")
	}
	if concurrencyCap < minConcurrencyCap || concurrencyCap > maxConcurrencyCap {
		return "", apierr.New(apierr.Validation, "concurrency_cap must be between 1 and 10")
	}
	if policy != models.PolicyStopOnError && policy != models.PolicyContinueOnError {
		return "", apierr.New(apierr.Validation, "policy must be stop_on_error or continue_on_error")
	}

	batchID := common.NewBatchID()
	childIDs := make([]string, len(urls))

	batchRec := &models.Batch{
		ID:             batchID,
		CreatedAt:      time.Now().UTC(),
		ChildIDs:       childIDs,
		Policy:         policy,
		ConcurrencyCap: concurrencyCap,
		State:          models.StateRunning,
		Counts:         models.BatchCounts{Queued: len(urls)},
	}
	state := &batchState{
		batch:        batchRec,
		childPercent: make(map[string]float64, len(urls)),
		sem:          make(chan struct{}, concurrencyCap),
	}

	c.mu.Lock()
	c.batches[batchID] = state
	c.mu.Unlock()

	for i, u := range urls {
		state.acquire()
		payload := sharedOptions
		payload.URL = u
		childID, err := c.submitter.Submit(payload, models.KindBatchChild, batchID)
		if err != nil {
			// QUEUE_FULL or similar: record as a failed child up front so
			// the batch's counts still reconcile to len(urls). It never
			// became a running child, so its slot is freed immediately
			// rather than waiting for a transition that will never come.
			childIDs[i] = ""
			c.onChildFailed(state, i)
			state.release()
			continue
		}
		childIDs[i] = childID
	}

	return batchID, nil
}

// Status returns the current aggregate snapshot for batchID.
func (c *Coordinator) Status(batchID string) (models.Batch, error) {
	state, err := c.lookup(batchID)
	if err != nil {
		return models.Batch{}, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return *state.batch, nil
}

// Cancel cancels all non-terminal children of batchID; the batch's
// terminal state follows as children report in.
func (c *Coordinator) Cancel(batchID string) error {
	state, err := c.lookup(batchID)
	if err != nil {
		return err
	}
	state.mu.Lock()
	childIDs := append([]string(nil), state.batch.ChildIDs...)
	state.mu.Unlock()

	for _, id := range childIDs {
		if id == "" {
			continue
		}
		_, _ = c.submitter.Cancel(id)
	}
	return nil
}

// OnChildProgress is invoked by the lifecycle integrator whenever a
// batch_child job reports a progress event, so overall percent (the
// average of child percents) stays current between terminal transitions.
func (c *Coordinator) OnChildProgress(batchID, childID string, percent float64) {
	state, err := c.lookup(batchID)
	if err != nil {
		return
	}
	state.mu.Lock()
	state.childPercent[childID] = percent
	total := len(state.batch.ChildIDs)
	state.batch.Counts.Percent = overallPercent(state.childPercent, total)
	state.mu.Unlock()
}

// OnChildTransition is invoked by the lifecycle integrator whenever a
// batch_child job reaches a terminal state, so the coordinator can update
// its aggregate counts. terminalState must be COMPLETED, FAILED, or
// CANCELLED.
func (c *Coordinator) OnChildTransition(batchID string, childID string, terminalState models.JobState) {
	state, err := c.lookup(batchID)
	if err != nil {
		c.logger.Warn().Str("batch_id", batchID).Msg("batch: transition for unknown batch")
		return
	}

	state.release()

	state.mu.Lock()
	switch terminalState {
	case models.StateCompleted:
		state.batch.Counts.Completed++
		state.childPercent[childID] = 100
	case models.StateFailed:
		state.batch.Counts.Failed++
		state.childPercent[childID] = 100
	case models.StateCancelled:
		state.batch.Counts.Cancelled++
		state.childPercent[childID] = 100
	}
	if state.batch.Counts.Queued > 0 {
		state.batch.Counts.Queued--
	}
	total := len(state.batch.ChildIDs)
	state.batch.Counts.Percent = overallPercent(state.childPercent, total)

	stopOnError := state.batch.Policy == models.PolicyStopOnError && terminalState == models.StateFailed
	terminal := state.batch.Counts.Terminal(total)
	if terminal {
		if state.batch.Counts.Failed > 0 {
			state.batch.State = models.StateFailed
		} else {
			state.batch.State = models.StateCompleted
		}
		now := time.Now().UTC()
		state.batch.CompletedAt = &now
	}
	childIDs := append([]string(nil), state.batch.ChildIDs...)
	state.mu.Unlock()

	if stopOnError {
		for _, id := range childIDs {
			if id == "" {
				continue
			}
			_, _ = c.submitter.Cancel(id)
		}
	}
}

func (c *Coordinator) onChildFailed(state *batchState, index int) {
	state.mu.Lock()
	state.batch.Counts.Failed++
	if state.batch.Counts.Queued > 0 {
		state.batch.Counts.Queued--
	}
	state.childPercent[failedChildKey(index)] = 100
	total := len(state.batch.ChildIDs)
	state.batch.Counts.Percent = overallPercent(state.childPercent, total)
	if state.batch.Counts.Terminal(total) {
		state.batch.State = models.StateFailed
		now := time.Now().UTC()
		state.batch.CompletedAt = &now
	}
	state.mu.Unlock()
}

func (c *Coordinator) lookup(batchID string) (*batchState, error) {
	c.mu.Lock()
	state, ok := c.batches[batchID]
	c.mu.Unlock()
	if !ok {
		return nil, apierr.New(apierr.NotFound, "batch not found")
	}
	return state, nil
}

// overallPercent is the average of every child's own progress percent
// (children not yet reporting count as 0), per spec.md §3.1's "overall
// percent (average of child percents)".
func overallPercent(childPercent map[string]float64, total int) float64 {
	if total == 0 {
		return 0
	}
	var sum float64
	for _, p := range childPercent {
		sum += p
	}
	return sum / float64(total)
}

func failedChildKey(index int) string {
	return "_submit_failed_" + strconv.Itoa(index)
}
