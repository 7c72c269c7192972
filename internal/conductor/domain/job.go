package domain

import (
	"time"
)

// JobStatus is the lifecycle state of a job. Transitions are monotonic:
// once a job reaches a terminal status it never leaves it, with the single
// exception of Running -> Pending via a retry.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobTimeout   JobStatus = "timeout"
	JobCancelled JobStatus = "cancelled"
)

func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobTimeout, JobCancelled:
		return true
	case JobPending, JobQueued, JobRunning:
		return false
	}
	return false
}

func (s JobStatus) IsValid() bool {
	switch s {
	case JobPending, JobQueued, JobRunning, JobCompleted, JobFailed, JobTimeout, JobCancelled:
		return true
	}
	return false
}

// JobPriority determines dequeue order. Score bases are spaced 100 apart so
// the submission-time tie-breaker only reorders jobs within a level.
type JobPriority string

const (
	PriorityCritical JobPriority = "critical"
	PriorityHigh     JobPriority = "high"
	PriorityNormal   JobPriority = "normal"
	PriorityLow      JobPriority = "low"
)

func (p JobPriority) ScoreBase() float64 {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 100
	case PriorityNormal:
		return 200
	case PriorityLow:
		return 300
	}
	return 200
}

func (p JobPriority) IsValid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// PriorityScore is the sortable queue key: lower dequeues first. The
// fractional part breaks ties FIFO within a priority level; submissions in
// the same second share a score, so same-second FIFO is best effort only.
func PriorityScore(p JobPriority, submitted time.Time) float64 {
	return p.ScoreBase() + float64(submitted.Unix())/1e10
}

// Job is one unit of scheduled test-execution work. The attached spec
// (path or inline content) is opaque here; parsing and execution belong to
// the DSL layer and the worker process respectively.
type Job struct {
	Id          string
	SpecPath    string
	SpecContent string
	Suite       string
	Name        string
	Status      JobStatus
	Priority    JobPriority
	Created     time.Time
	Started     time.Time
	Finished    time.Time
	WorkerId    string
	Retries     int
	MaxRetries  int
	Timeout     time.Duration
	Environment string
	Variables   map[string]string
	Tags        []string
	CIMetadata  map[string]string
	Error       string
}

// CanRetry reports whether another retry attempt is allowed.
func (j *Job) CanRetry() bool {
	return j.Retries < j.MaxRetries
}

// JobResult is the payload reported on completion. Results are stored in
// their own namespace so hot job records stay small.
type JobResult struct {
	JobId      string
	FinishedAt time.Time
	Payload    map[string]interface{}
	Error      string
}
