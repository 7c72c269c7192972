package repository

import (
	"fmt"
)

// ErrNoConnection is returned by every repository operation attempted
// before a store client has been attached. It is fatal for the calling
// operation and is never retried internally.
type ErrNoConnection struct {
	Op string
}

func (err *ErrNoConnection) Error() string {
	if err.Op == "" {
		return "no store connection established"
	}
	return fmt.Sprintf("no store connection established for operation %q", err.Op)
}

// ErrJobNotFound is returned when a job record does not exist. Callers
// that treat a missing record as an expected outcome (e.g. cancelling an
// already-deleted job) should check for this type with errors.As.
type ErrJobNotFound struct {
	JobId string
}

func (err *ErrJobNotFound) Error() string {
	return fmt.Sprintf("could not find job %q", err.JobId)
}

// ErrWorkerNotFound is returned when a worker record does not exist.
type ErrWorkerNotFound struct {
	WorkerId string
}

func (err *ErrWorkerNotFound) Error() string {
	return fmt.Sprintf("could not find worker %q", err.WorkerId)
}
