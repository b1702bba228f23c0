package models

import "time"

// BatchPolicy governs how a batch reacts to a failing child.
type BatchPolicy string

const (
	PolicyStopOnError     BatchPolicy = "stop_on_error"
	PolicyContinueOnError BatchPolicy = "continue_on_error"
)

// Batch is a composite job whose children are ordinary single-kind jobs
// sharing options. The Batch Coordinator owns these records; the Job Store
// owns the children independently.
type Batch struct {
	ID             string
	CreatedAt      time.Time
	CompletedAt    *time.Time
	ChildIDs       []string
	Policy         BatchPolicy
	ConcurrencyCap int

	// Counts is a derived, cached view recomputed on every child
	// transition; callers read it under the coordinator's lock.
	Counts BatchCounts
	State  JobState // COMPLETED or FAILED once terminal, QUEUED/RUNNING until then
}

// BatchCounts is the aggregate child-state tally plus overall percent.
type BatchCounts struct {
	Queued    int     `json:"queued"`
	Running   int     `json:"running"`
	Completed int     `json:"completed"`
	Failed    int     `json:"failed"`
	Cancelled int     `json:"cancelled"`
	Percent   float64 `json:"percent"`
}

// Terminal reports whether every child has reached a terminal state.
func (c BatchCounts) Terminal(total int) bool {
	return c.Completed+c.Failed+c.Cancelled == total
}
