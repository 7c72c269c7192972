package domain

import (
	"time"
)

type WorkerStatus string

const (
	WorkerIdle    WorkerStatus = "idle"
	WorkerBusy    WorkerStatus = "busy"
	WorkerOffline WorkerStatus = "offline"
)

// Worker is a registered execution agent. Heartbeats only refresh
// LastHeartbeat; assignment fields are written by the orchestrator on
// dequeue and completion, so the two write paths touch disjoint fields.
type Worker struct {
	Id                string
	Hostname          string
	Status            WorkerStatus
	CurrentJobId      string
	LastHeartbeat     time.Time
	Capabilities      []string
	MaxConcurrentJobs int
	ActiveJobs        int
}

// IsStale reports whether the worker's heartbeat is older than maxAge.
func (w *Worker) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(w.LastHeartbeat) > maxAge
}
