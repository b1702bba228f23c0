// Package jobstore implements the in-process, concurrency-safe job
// record map: the single source of truth for job state, grounded on the
// map+RWMutex+listener shape of bodaay-HuggingFaceModelDownloader's
// JobManager, generalized to spec.md §4.F's CAS transition contract and
// bounded per-job log buffer.
package jobstore

import (
	"sort"
	"sync"
	"time"

	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/apierr"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/common"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/models"
)

const maxLogLines = 1000

// Filter narrows List results. A zero-valued Filter matches every job.
type Filter struct {
	State         models.JobState
	Kind          models.JobKind
	ParentBatchID string
	HasState      bool
	HasKind       bool
	HasParent     bool
}

// record wraps a Job with its own lock so readers never block on another
// record's writer, matching spec.md's "single writer lock per record"
// concurrency note.
type record struct {
	mu  sync.Mutex
	job *models.Job
}

// Store is the in-memory job record map. Batches are not kept here; the
// batch coordinator holds them.
type Store struct {
	mu      sync.RWMutex
	records map[string]*record
}

// New returns an empty Store.
func New() *Store {
	return &Store{records: make(map[string]*record)}
}

// Create builds a new job in QUEUED and stores it, returning its ID.
func (s *Store) Create(payload models.Payload, kind models.JobKind, parentBatchID string) string {
	id := common.NewJobID()
	job := &models.Job{
		ID:            id,
		Kind:          kind,
		State:         models.StateQueued,
		Payload:       payload,
		ParentBatchID: parentBatchID,
		CreatedAt:     time.Now().UTC(),
		CancelSignal:  models.NewCancelSignal(),
	}

	s.mu.Lock()
	s.records[id] = &record{job: job}
	s.mu.Unlock()
	return id
}

// Transition performs a compare-and-swap state change: it only applies if
// the job's current state equals from. patch is applied to the job under
// the same lock iff the CAS succeeds, so callers can set started_at,
// completed_at, result, or error atomically with the transition.
func (s *Store) Transition(id string, from, to models.JobState, patch func(*models.Job)) (bool, error) {
	rec, err := s.lookup(id)
	if err != nil {
		return false, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.job.State != from {
		return false, nil
	}
	rec.job.State = to
	if to.Terminal() {
		now := time.Now().UTC()
		rec.job.CompletedAt = &now
	}
	if patch != nil {
		patch(rec.job)
	}
	return true, nil
}

// Get returns a point-in-time snapshot of the job.
func (s *Store) Get(id string) (models.Job, error) {
	rec, err := s.lookup(id)
	if err != nil {
		return models.Job{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.job.Snapshot(), nil
}

// List returns snapshots matching filter, ordered by creation time.
func (s *Store) List(filter Filter) []models.Job {
	s.mu.RLock()
	recs := make([]*record, 0, len(s.records))
	for _, r := range s.records {
		recs = append(recs, r)
	}
	s.mu.RUnlock()

	out := make([]models.Job, 0, len(recs))
	for _, r := range recs {
		r.mu.Lock()
		job := r.job.Snapshot()
		r.mu.Unlock()

		if filter.HasState && job.State != filter.State {
			continue
		}
		if filter.HasKind && job.Kind != filter.Kind {
			continue
		}
		if filter.HasParent && job.ParentBatchID != filter.ParentBatchID {
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// AppendLog appends a bounded log line, dropping the oldest on overflow.
func (s *Store) AppendLog(id string, level, message string) error {
	rec, err := s.lookup(id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.job.Logs = append(rec.job.Logs, models.LogLine{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
	})
	if len(rec.job.Logs) > maxLogLines {
		rec.job.Logs = rec.job.Logs[len(rec.job.Logs)-maxLogLines:]
	}
	return nil
}

// PatchProgress updates progress; allowed only while RUNNING per spec.md
// §4.F.
func (s *Store) PatchProgress(id string, progress models.Progress) error {
	rec, err := s.lookup(id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.job.State != models.StateRunning {
		return nil
	}
	rec.job.Progress = progress
	return nil
}

// PurgeOlderThan removes terminal job records whose CompletedAt precedes
// the cutoff. Returns the number removed.
func (s *Store) PurgeOlderThan(maxAge time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, rec := range s.records {
		rec.mu.Lock()
		eligible := rec.job.State.Terminal() && rec.job.CompletedAt != nil && rec.job.CompletedAt.Before(cutoff)
		rec.mu.Unlock()
		if eligible {
			delete(s.records, id)
			removed++
		}
	}
	return removed
}

func (s *Store) lookup(id string) (*record, error) {
	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, apierr.New(apierr.NotFound, "job not found")
	}
	return rec, nil
}
