// Package models holds the data-model entities shared across the engine:
// jobs, batches, credential records, and their sub-structures. Nothing in
// this package talks to storage, the network, or a subprocess — it is the
// vocabulary the other packages pass around.
package models

import "time"

// JobKind identifies what a job was submitted as.
type JobKind string

const (
	KindSingle     JobKind = "single"
	KindPlaylist   JobKind = "playlist"
	KindChannel    JobKind = "channel"
	KindBatchChild JobKind = "batch_child"
)

// JobState is a node in the job state machine:
// QUEUED -> RUNNING -> {COMPLETED, FAILED, CANCELLED}.
type JobState string

const (
	StateQueued    JobState = "QUEUED"
	StateRunning   JobState = "RUNNING"
	StateCompleted JobState = "COMPLETED"
	StateFailed    JobState = "FAILED"
	StateCancelled JobState = "CANCELLED"
)

// Terminal reports whether a state has no outgoing transitions.
func (s JobState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// Payload is the typed, validated request a job executes. Every field here
// traces to the request bodies in spec.md §6.
type Payload struct {
	URL            string
	Quality        string
	Format         string
	AudioOnly      bool
	Subtitles      bool
	Thumbnail      bool
	Metadata       bool
	PathTemplate   string
	CookiesID      string
	WebhookURL     string
	TimeoutSec     int
	ItemRange      string // playlist "1-10,15" style filter
	ChannelFilter  *ChannelFilter
	MaxDownloads   int
}

// ChannelFilter carries the channel-listing query parameters spec.md §6
// attaches to GET /api/v1/channel/info and POST /api/v1/channel/download.
type ChannelFilter struct {
	DateAfter  *time.Time
	DateBefore *time.Time
	MinViews   int64
	MaxViews   int64
	MinDurSec  int
	MaxDurSec  int
	SortBy     string
}

// Progress is the mutable, monotonically non-decreasing-within-a-state
// progress snapshot for a running job.
type Progress struct {
	Percent         float64 `json:"percent"`
	DownloadedBytes int64   `json:"downloaded_bytes"`
	TotalBytes      int64   `json:"total_bytes"`
	SpeedBPS        int64   `json:"speed_bps"`
	ETASec          int     `json:"eta_sec"`
	// Basis names what Percent was computed from. The lifecycle progress
	// sink sets it to "bytes" on every update, for every job kind; there is
	// no item-count basis, and Percent stays 0 while no total size is known.
	Basis string `json:"basis,omitempty"`
}

// Result is populated iff the job reaches COMPLETED.
type Result struct {
	RelativePath    string    `json:"relative_path"`
	SizeBytes       int64     `json:"size_bytes"`
	Title           string    `json:"title,omitempty"`
	DurationSec     int       `json:"duration_sec,omitempty"`
	Format          string    `json:"format,omitempty"`
	DeletionInstant time.Time `json:"deletion_instant,omitempty"`
}

// JobError is populated iff the job reaches FAILED.
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// LogLine is one entry of a job's bounded, append-only log buffer.
type LogLine struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// Job is the primary unit of work tracked by the engine.
type Job struct {
	ID            string
	Kind          JobKind
	State         JobState
	Payload       Payload
	ParentBatchID string

	Progress Progress
	Result   *Result
	Error    *JobError

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	Logs []LogLine

	// CancelSignal is the one-shot handle the worker and adapter observe
	// cooperatively. It is never nil once the job has been created.
	CancelSignal *CancelSignal
}

// Snapshot returns a shallow copy of the job safe to hand to a caller
// outside the store's lock. Logs, Result and Error are copied;
// Payload.ChannelFilter is shared by reference since it is treated as
// immutable once set.
func (j *Job) Snapshot() Job {
	cp := *j
	cp.Logs = append([]LogLine(nil), j.Logs...)
	if j.Result != nil {
		r := *j.Result
		cp.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	return cp
}

// CancelSignal is a one-shot, observable cancellation handle. It is safe
// to call Cancel concurrently and any number of times; only the first call
// has effect, matching spec.md's "two concurrent cancel requests are
// idempotent" invariant.
type CancelSignal struct {
	ch   chan struct{}
	done chan struct{} // one-slot token; only the Cancel that fills it closes ch
}

// NewCancelSignal returns a ready-to-use signal.
func NewCancelSignal() *CancelSignal {
	return &CancelSignal{
		ch:   make(chan struct{}),
		done: make(chan struct{}, 1),
	}
}

// Cancel requests cancellation. Idempotent.
func (c *CancelSignal) Cancel() {
	select {
	case c.done <- struct{}{}:
		close(c.ch)
	default:
	}
}

// Done returns a channel closed once Cancel has been called.
func (c *CancelSignal) Done() <-chan struct{} { return c.ch }

// Cancelled reports whether Cancel has already been called.
func (c *CancelSignal) Cancelled() bool {
	select {
	case <-c.ch:
		return true
	default:
		return false
	}
}
