package batch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/models"
)

type fakeSubmitter struct {
	mu        sync.Mutex
	nextID    int
	submitted []string
	cancelled []string
}

func (f *fakeSubmitter) Submit(payload models.Payload, kind models.JobKind, parentBatchID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := payload.URL
	f.submitted = append(f.submitted, id)
	return id, nil
}

func (f *fakeSubmitter) Cancel(jobID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, jobID)
	return true, nil
}

func TestCoordinator_CreateBatch_ValidatesInputs(t *testing.T) {
	c := New(&fakeSubmitter{}, arbor.NewLogger())

	_, err := c.CreateBatch(nil, models.Payload{}, models.PolicyContinueOnError, 1)
	require.Error(t, err)

	urls := make([]string, 101)
	_, err = c.CreateBatch(urls, models.Payload{}, models.PolicyContinueOnError, 1)
	require.Error(t, err)

	_, err = c.CreateBatch([]string{"https://a"}, models.Payload{}, models.PolicyContinueOnError, 11)
	require.Error(t, err)
}

func TestCoordinator_ContinueOnError_AggregatesPartialFailure(t *testing.T) {
	sub := &fakeSubmitter{}
	c := New(sub, arbor.NewLogger())

	batchID, err := c.CreateBatch([]string{"u1", "u2", "u3"}, models.Payload{}, models.PolicyContinueOnError, 3)
	require.NoError(t, err)

	c.OnChildTransition(batchID, "u1", models.StateCompleted)
	c.OnChildTransition(batchID, "u2", models.StateFailed)
	c.OnChildTransition(batchID, "u3", models.StateCompleted)

	status, err := c.Status(batchID)
	require.NoError(t, err)
	require.Equal(t, models.StateFailed, status.State)
	require.Equal(t, 2, status.Counts.Completed)
	require.Equal(t, 1, status.Counts.Failed)
	require.Equal(t, 100.0, status.Counts.Percent)
}

func TestCoordinator_StopOnError_CancelsRemainingChildren(t *testing.T) {
	sub := &fakeSubmitter{}
	c := New(sub, arbor.NewLogger())

	batchID, err := c.CreateBatch([]string{"u1", "u2", "u3"}, models.Payload{}, models.PolicyStopOnError, 3)
	require.NoError(t, err)

	c.OnChildTransition(batchID, "u1", models.StateFailed)

	sub.mu.Lock()
	cancelledCount := len(sub.cancelled)
	sub.mu.Unlock()
	require.Equal(t, 3, cancelledCount) // all children, including the failed one, get a best-effort cancel
}

func TestCoordinator_AllSucceed(t *testing.T) {
	sub := &fakeSubmitter{}
	c := New(sub, arbor.NewLogger())

	batchID, err := c.CreateBatch([]string{"u1", "u2"}, models.Payload{}, models.PolicyContinueOnError, 2)
	require.NoError(t, err)

	c.OnChildTransition(batchID, "u1", models.StateCompleted)
	c.OnChildTransition(batchID, "u2", models.StateCompleted)

	status, err := c.Status(batchID)
	require.NoError(t, err)
	require.Equal(t, models.StateCompleted, status.State)
}

func TestCoordinator_OnChildProgress_AveragesAcrossChildren(t *testing.T) {
	sub := &fakeSubmitter{}
	c := New(sub, arbor.NewLogger())

	batchID, err := c.CreateBatch([]string{"u1", "u2"}, models.Payload{}, models.PolicyContinueOnError, 2)
	require.NoError(t, err)

	c.OnChildProgress(batchID, "u1", 50)
	status, err := c.Status(batchID)
	require.NoError(t, err)
	require.Equal(t, 25.0, status.Counts.Percent) // (50 + 0) / 2

	c.OnChildProgress(batchID, "u2", 100)
	status, err = c.Status(batchID)
	require.NoError(t, err)
	require.Equal(t, 75.0, status.Counts.Percent) // (50 + 100) / 2

	c.OnChildTransition(batchID, "u1", models.StateCompleted)
	c.OnChildTransition(batchID, "u2", models.StateCompleted)
	status, err = c.Status(batchID)
	require.NoError(t, err)
	require.Equal(t, 100.0, status.Counts.Percent)
}

func TestCoordinator_ConcurrencyCap_BoundsSimultaneousDispatch(t *testing.T) {
	sub := &fakeSubmitter{}
	c := New(sub, arbor.NewLogger())

	done := make(chan string, 1)
	go func() {
		batchID, err := c.CreateBatch([]string{"u1", "u2", "u3"}, models.Payload{}, models.PolicyContinueOnError, 1)
		require.NoError(t, err)
		done <- batchID
	}()

	// Only the first child should ever be submitted while the cap's one
	// slot is held open.
	require.Eventually(t, func() bool {
		sub.mu.Lock()
		defer sub.mu.Unlock()
		return len(sub.submitted) == 1
	}, time.Second, time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	sub.mu.Lock()
	require.Len(t, sub.submitted, 1, "second child must not dispatch before the first frees its slot")
	sub.mu.Unlock()

	var batchID string
	select {
	case batchID = <-done:
		t.Fatal("CreateBatch returned before all children were dispatched")
	default:
	}

	// Find the ID the coordinator assigned the first child and report it
	// terminal, freeing the slot for the second child to dispatch.
	c.OnChildTransition(firstBatchID(c), "u1", models.StateCompleted)

	require.Eventually(t, func() bool {
		sub.mu.Lock()
		defer sub.mu.Unlock()
		return len(sub.submitted) == 2
	}, time.Second, time.Millisecond)

	c.OnChildTransition(firstBatchID(c), "u2", models.StateCompleted)
	c.OnChildTransition(firstBatchID(c), "u3", models.StateCompleted)

	batchID = <-done
	status, err := c.Status(batchID)
	require.NoError(t, err)
	require.Equal(t, models.StateCompleted, status.State)
}

func firstBatchID(c *Coordinator) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.batches {
		return id
	}
	return ""
}

func TestCoordinator_Cancel(t *testing.T) {
	sub := &fakeSubmitter{}
	c := New(sub, arbor.NewLogger())

	batchID, err := c.CreateBatch([]string{"u1", "u2"}, models.Payload{}, models.PolicyContinueOnError, 2)
	require.NoError(t, err)

	require.NoError(t, c.Cancel(batchID))
	sub.mu.Lock()
	defer sub.mu.Unlock()
	require.Len(t, sub.cancelled, 2)
}
