package jobstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/models"
)

func TestStore_CreateAndGet(t *testing.T) {
	s := New()
	id := s.Create(models.Payload{URL: "https://example.test/v/1"}, models.KindSingle, "")

	job, err := s.Get(id)
	require.NoError(t, err)
	require.Equal(t, models.StateQueued, job.State)
	require.Equal(t, models.KindSingle, job.Kind)
}

func TestStore_Get_NotFound(t *testing.T) {
	s := New()
	_, err := s.Get("missing")
	require.Error(t, err)
}

func TestStore_TransitionCAS(t *testing.T) {
	s := New()
	id := s.Create(models.Payload{}, models.KindSingle, "")

	ok, err := s.Transition(id, models.StateQueued, models.StateRunning, func(j *models.Job) {
		now := time.Now()
		j.StartedAt = &now
	})
	require.NoError(t, err)
	require.True(t, ok)

	// stale from-state fails
	ok, err = s.Transition(id, models.StateQueued, models.StateRunning, nil)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.Transition(id, models.StateRunning, models.StateCompleted, func(j *models.Job) {
		j.Progress.Percent = 100
		j.Result = &models.Result{SizeBytes: 10}
	})
	require.NoError(t, err)
	require.True(t, ok)

	job, err := s.Get(id)
	require.NoError(t, err)
	require.Equal(t, models.StateCompleted, job.State)
	require.NotNil(t, job.CompletedAt)
	require.NotNil(t, job.Result)
}

func TestStore_AppendLogBounded(t *testing.T) {
	s := New()
	id := s.Create(models.Payload{}, models.KindSingle, "")

	for i := 0; i < maxLogLines+10; i++ {
		require.NoError(t, s.AppendLog(id, "info", "line"))
	}

	job, err := s.Get(id)
	require.NoError(t, err)
	require.Len(t, job.Logs, maxLogLines)
}

func TestStore_PatchProgress_OnlyWhileRunning(t *testing.T) {
	s := New()
	id := s.Create(models.Payload{}, models.KindSingle, "")

	require.NoError(t, s.PatchProgress(id, models.Progress{Percent: 50}))
	job, _ := s.Get(id)
	require.Zero(t, job.Progress.Percent) // still QUEUED, patch ignored

	_, _ = s.Transition(id, models.StateQueued, models.StateRunning, nil)
	require.NoError(t, s.PatchProgress(id, models.Progress{Percent: 50}))
	job, _ = s.Get(id)
	require.Equal(t, 50.0, job.Progress.Percent)
}

func TestStore_PurgeOlderThan(t *testing.T) {
	s := New()
	id := s.Create(models.Payload{}, models.KindSingle, "")
	_, _ = s.Transition(id, models.StateQueued, models.StateRunning, nil)
	_, _ = s.Transition(id, models.StateRunning, models.StateCompleted, nil)

	rec := s.records[id]
	rec.mu.Lock()
	past := time.Now().Add(-2 * time.Hour)
	rec.job.CompletedAt = &past
	rec.mu.Unlock()

	removed := s.PurgeOlderThan(time.Hour)
	require.Equal(t, 1, removed)

	_, err := s.Get(id)
	require.Error(t, err)
}

func TestStore_ListFilter(t *testing.T) {
	s := New()
	id1 := s.Create(models.Payload{}, models.KindSingle, "")
	id2 := s.Create(models.Payload{}, models.KindBatchChild, "batch_1")
	_ = id2

	jobs := s.List(Filter{HasKind: true, Kind: models.KindSingle})
	require.Len(t, jobs, 1)
	require.Equal(t, id1, jobs[0].ID)

	jobs = s.List(Filter{HasParent: true, ParentBatchID: "batch_1"})
	require.Len(t, jobs, 1)
}
