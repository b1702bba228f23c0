// Package retention implements the priority-ordered deletion scheduler:
// a single dedicated worker draining a min-heap keyed by fire instant,
// deleting artifacts whose retention window has elapsed and pruning empty
// ancestor directories left behind.
package retention

import (
	"container/heap"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
)

// Handle is the opaque cancellation token returned by Schedule.
type Handle struct {
	entry *timerEntry
}

type timerEntry struct {
	fireInstant time.Time
	path        string
	tombstoned  bool
	index       int // maintained by container/heap
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	return h[i].fireInstant.Before(h[j].fireInstant)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	entry := x.(*timerEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[:n-1]
	return entry
}

// Scheduler is the process-wide retention timer. It owns the heap
// exclusively and never reads job state, per spec.md §3.2.
type Scheduler struct {
	storageRoot string
	logger      arbor.ILogger

	mu     sync.Mutex
	heap   timerHeap
	wake   chan struct{}
	done   chan struct{}
	closed bool
}

// New returns a Scheduler whose worker has not yet started; call Start to
// launch the background goroutine.
func New(storageRoot string, logger arbor.ILogger) *Scheduler {
	return &Scheduler{
		storageRoot: storageRoot,
		logger:      logger,
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// Start launches the dedicated worker goroutine.
func (s *Scheduler) Start() {
	go s.run()
}

// Schedule pushes a new deletion entry and returns its cancellation handle.
func (s *Scheduler) Schedule(path string, delay time.Duration) *Handle {
	entry := &timerEntry{fireInstant: time.Now().Add(delay), path: path}

	s.mu.Lock()
	heap.Push(&s.heap, entry)
	s.mu.Unlock()

	s.signalWake()
	return &Handle{entry: entry}
}

// Cancel marks a previously scheduled deletion as tombstoned; the worker
// discards it without deleting anything when popped. O(1): no heap
// restructuring is required since tombstones are skipped lazily.
func (s *Scheduler) Cancel(h *Handle) {
	if h == nil || h.entry == nil {
		return
	}
	s.mu.Lock()
	h.entry.tombstoned = true
	s.mu.Unlock()
}

// Stop cancels the worker's pending sleep and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.signalWake()
	<-s.done
}

func (s *Scheduler) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	defer close(s.done)

	for {
		s.mu.Lock()
		closed := s.closed
		var sleepFor time.Duration
		hasNext := s.heap.Len() > 0
		if hasNext {
			sleepFor = time.Until(s.heap[0].fireInstant)
		}
		s.mu.Unlock()

		if closed {
			// Clean shutdown cancels pending sleeps and exits; it does not
			// fire remaining entries early.
			return
		}

		var timer *time.Timer
		var timerC <-chan time.Time
		if hasNext {
			if sleepFor < 0 {
				sleepFor = 0
			}
			timer = time.NewTimer(sleepFor)
			timerC = timer.C
		}

		select {
		case <-s.wake:
			if timer != nil {
				timer.Stop()
			}
		case <-timerC:
		}

		s.fireDue()
	}
}

// fireDue pops and processes every entry whose fire instant has arrived.
func (s *Scheduler) fireDue() {
	now := time.Now()
	for {
		s.mu.Lock()
		if s.heap.Len() == 0 || s.heap[0].fireInstant.After(now) {
			s.mu.Unlock()
			return
		}
		entry := heap.Pop(&s.heap).(*timerEntry)
		s.mu.Unlock()

		if entry.tombstoned {
			continue
		}
		s.deleteArtifact(entry.path)
	}
}

func (s *Scheduler) deleteArtifact(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn().Str("path", path).Err(err).Msg("retention: failed to delete artifact")
		return
	}
	s.logger.Debug().Str("path", path).Msg("retention: artifact deleted")
	s.pruneEmptyAncestors(filepath.Dir(path))
}

// pruneEmptyAncestors removes empty directories from dir up to but not
// including storageRoot.
func (s *Scheduler) pruneEmptyAncestors(dir string) {
	root := filepath.Clean(s.storageRoot)
	for {
		dir = filepath.Clean(dir)
		if dir == root || !isUnder(root, dir) {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func isUnder(root, dir string) bool {
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return false
	}
	return rel != ".." && !filepathHasDotDotPrefix(rel)
}

func filepathHasDotDotPrefix(rel string) bool {
	return len(rel) >= 2 && rel[:2] == ".."
}
