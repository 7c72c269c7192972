package orchestrator

import (
	"github.com/autoqa-project/conductor/internal/conductor/domain"
)

// QueueStats is the read-only aggregation surface for observability. It is
// never used for scheduling decisions.
type QueueStats struct {
	QueuedJobs      int64
	TotalWorkers    int
	ActiveWorkers   int
	JobStatusCounts map[domain.JobStatus]int
}

func (o *Orchestrator) GetQueueStats() (QueueStats, error) {
	queued, err := o.jobs.QueuedCount()
	if err != nil {
		return QueueStats{}, err
	}
	total, active, err := o.WorkerCounts()
	if err != nil {
		return QueueStats{}, err
	}
	statusCounts, err := o.JobStatusCounts()
	if err != nil {
		return QueueStats{}, err
	}
	return QueueStats{
		QueuedJobs:      queued,
		TotalWorkers:    total,
		ActiveWorkers:   active,
		JobStatusCounts: statusCounts,
	}, nil
}

// QueuedCount, WorkerCounts and JobStatusCounts implement
// metrics.QueueStatsProvider.

func (o *Orchestrator) QueuedCount() (int64, error) {
	return o.jobs.QueuedCount()
}

func (o *Orchestrator) WorkerCounts() (int, int, error) {
	workers, err := o.workers.ListWorkers()
	if err != nil {
		return 0, 0, err
	}
	active := 0
	for _, worker := range workers {
		if worker.Status == domain.WorkerBusy {
			active++
		}
	}
	return len(workers), active, nil
}

func (o *Orchestrator) JobStatusCounts() (map[domain.JobStatus]int, error) {
	jobs, err := o.jobs.ListJobs("", 0)
	if err != nil {
		return nil, err
	}
	counts := make(map[domain.JobStatus]int)
	for _, job := range jobs {
		counts[job.Status]++
	}
	return counts, nil
}
