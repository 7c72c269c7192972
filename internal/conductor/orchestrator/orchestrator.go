package orchestrator

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/autoqa-project/conductor/internal/common/util"
	"github.com/autoqa-project/conductor/internal/conductor/domain"
	"github.com/autoqa-project/conductor/internal/conductor/metrics"
	"github.com/autoqa-project/conductor/internal/conductor/repository"
)

// Orchestrator is the job lifecycle authority. It holds no in-process
// state for assignment: correctness across concurrent instances depends
// entirely on the store's atomic pop-minimum and field-update primitives.
//
// Structural failures (store unreachable) propagate as errors. Expected
// outcomes that happen not to change anything (cancelling a finished job,
// retrying past the limit, dequeueing from an empty queue) are reported as
// booleans or nil results, never as errors.
type Orchestrator struct {
	jobs    repository.JobRepository
	workers repository.WorkerRepository
	clock   util.Clock
	log     *logrus.Entry
}

func New(jobs repository.JobRepository, workers repository.WorkerRepository, clock util.Clock) *Orchestrator {
	if clock == nil {
		clock = &util.DefaultClock{}
	}
	return &Orchestrator{
		jobs:    jobs,
		workers: workers,
		clock:   clock,
		log:     logrus.StandardLogger().WithField("service", "Orchestrator"),
	}
}

// SubmitJobRequest carries everything a caller attaches to a new job. The
// spec reference is opaque: validation happened upstream in the DSL layer.
type SubmitJobRequest struct {
	SpecPath    string
	SpecContent string
	Suite       string
	Name        string
	Priority    domain.JobPriority
	MaxRetries  int
	Timeout     time.Duration
	Environment string
	Variables   map[string]string
	Tags        []string
	CIMetadata  map[string]string
}

// SubmitJob writes the job record and enqueues it by priority score,
// returning the generated id.
func (o *Orchestrator) SubmitJob(req SubmitJobRequest) (string, error) {
	priority := req.Priority
	if priority == "" {
		priority = domain.PriorityNormal
	}
	now := o.clock.Now()
	job := &domain.Job{
		Id:          util.NewULID(),
		SpecPath:    req.SpecPath,
		SpecContent: req.SpecContent,
		Suite:       req.Suite,
		Name:        req.Name,
		Status:      domain.JobPending,
		Priority:    priority,
		Created:     now,
		MaxRetries:  req.MaxRetries,
		Timeout:     req.Timeout,
		Environment: req.Environment,
		Variables:   req.Variables,
		Tags:        req.Tags,
		CIMetadata:  req.CIMetadata,
	}
	if err := o.jobs.AddJob(job, domain.PriorityScore(priority, now)); err != nil {
		return "", err
	}
	metrics.JobsSubmitted.WithLabelValues(string(priority)).Inc()
	o.log.WithFields(logrus.Fields{"job": job.Id, "priority": priority}).Info("job submitted")
	return job.Id, nil
}

// GetNextJob atomically pops the highest-priority pending job and assigns
// it to workerId. At most one caller ever receives a given job. A nil job
// with a nil error means the queue is empty.
func (o *Orchestrator) GetNextJob(workerId string) (*domain.Job, error) {
	jobId, ok, err := o.jobs.PopMin()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	job, err := o.jobs.GetJob(jobId)
	if err != nil {
		return nil, err
	}
	job.Status = domain.JobRunning
	job.Started = o.clock.Now()
	job.WorkerId = workerId
	if err := o.jobs.UpdateJob(job); err != nil {
		return nil, err
	}

	o.markWorkerBusy(workerId, jobId)
	o.log.WithFields(logrus.Fields{"job": jobId, "worker": workerId}).Info("job assigned")
	return job, nil
}

// CompleteJob records the terminal outcome. The result payload is stored
// in its own namespace to keep hot job records small.
func (o *Orchestrator) CompleteJob(jobId string, result map[string]interface{}, errorMessage string) error {
	job, err := o.jobs.GetJob(jobId)
	if err != nil {
		return err
	}

	now := o.clock.Now()
	if errorMessage == "" {
		job.Status = domain.JobCompleted
	} else {
		job.Status = domain.JobFailed
		job.Error = errorMessage
	}
	job.Finished = now
	if err := o.jobs.UpdateJob(job); err != nil {
		return err
	}

	if err := o.jobs.SaveResult(&domain.JobResult{
		JobId:      jobId,
		FinishedAt: now,
		Payload:    result,
		Error:      errorMessage,
	}); err != nil {
		return err
	}

	o.markWorkerIdle(job.WorkerId, jobId)
	metrics.JobsCompleted.WithLabelValues(string(job.Status)).Inc()
	o.log.WithFields(logrus.Fields{"job": jobId, "status": job.Status}).Info("job finished")
	return nil
}

// CancelJob cancels a job that has not yet reached a terminal state and
// removes any pending queue entry. Cancelling a terminal or unknown job is
// a no-op reported as false.
func (o *Orchestrator) CancelJob(jobId string) (bool, error) {
	job, err := o.jobs.GetJob(jobId)
	if err != nil {
		var notFound *repository.ErrJobNotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, err
	}
	if job.Status.IsTerminal() {
		return false, nil
	}

	job.Status = domain.JobCancelled
	job.Finished = o.clock.Now()
	if err := o.jobs.UpdateJob(job); err != nil {
		return false, err
	}
	if err := o.jobs.RemoveFromQueue(jobId); err != nil {
		return false, err
	}
	metrics.JobsCancelled.Inc()
	o.log.WithField("job", jobId).Info("job cancelled")
	return true, nil
}

// RetryJob re-enqueues a failed job with a fresh priority score so it
// re-enters FIFO ordering at its original priority level. Once retries are
// exhausted it returns false and the job stays failed; exhaustion is
// observed, not hidden.
func (o *Orchestrator) RetryJob(jobId string) (bool, error) {
	job, err := o.jobs.GetJob(jobId)
	if err != nil {
		var notFound *repository.ErrJobNotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, err
	}
	if !job.CanRetry() {
		return false, nil
	}

	job.Retries++
	job.Status = domain.JobPending
	job.WorkerId = ""
	job.Started = time.Time{}
	job.Error = ""
	if err := o.jobs.UpdateJob(job); err != nil {
		return false, err
	}
	if err := o.jobs.Requeue(jobId, domain.PriorityScore(job.Priority, o.clock.Now())); err != nil {
		return false, err
	}
	metrics.JobsRetried.Inc()
	o.log.WithFields(logrus.Fields{"job": jobId, "retries": job.Retries}).Info("job requeued for retry")
	return true, nil
}

// GetJob returns the stored record for a job.
func (o *Orchestrator) GetJob(jobId string) (*domain.Job, error) {
	return o.jobs.GetJob(jobId)
}

// GetResult returns the stored result payload for a finished job.
func (o *Orchestrator) GetResult(jobId string) (*domain.JobResult, error) {
	return o.jobs.GetResult(jobId)
}

// ListJobs returns job records, optionally filtered by status. For
// observability only.
func (o *Orchestrator) ListJobs(status domain.JobStatus, limit int) ([]*domain.Job, error) {
	return o.jobs.ListJobs(status, limit)
}

// markWorkerBusy and markWorkerIdle keep worker bookkeeping in step with
// assignments. Workers are registered by an external agent, so a missing
// record is not an error here.
func (o *Orchestrator) markWorkerBusy(workerId, jobId string) {
	worker, err := o.workers.GetWorker(workerId)
	if err != nil {
		o.log.WithError(err).WithField("worker", workerId).Debug("skipping worker bookkeeping")
		return
	}
	worker.Status = domain.WorkerBusy
	worker.CurrentJobId = jobId
	worker.ActiveJobs++
	if worker.ActiveJobs > worker.MaxConcurrentJobs {
		worker.ActiveJobs = worker.MaxConcurrentJobs
	}
	if err := o.workers.SaveWorker(worker); err != nil {
		o.log.WithError(err).WithField("worker", workerId).Warn("failed to update worker record")
	}
}

func (o *Orchestrator) markWorkerIdle(workerId, jobId string) {
	if workerId == "" {
		return
	}
	worker, err := o.workers.GetWorker(workerId)
	if err != nil {
		return
	}
	if worker.CurrentJobId == jobId {
		worker.CurrentJobId = ""
	}
	if worker.ActiveJobs > 0 {
		worker.ActiveJobs--
	}
	if worker.ActiveJobs == 0 {
		worker.Status = domain.WorkerIdle
	}
	if err := o.workers.SaveWorker(worker); err != nil {
		o.log.WithError(err).WithField("worker", workerId).Warn("failed to update worker record")
	}
}

// RegisterWorkerRequest describes a registering execution agent. An empty
// id gets a generated one.
type RegisterWorkerRequest struct {
	Id                string
	Hostname          string
	Capabilities      []string
	MaxConcurrentJobs int
}

// RegisterWorker upserts the worker record and returns its id.
func (o *Orchestrator) RegisterWorker(req RegisterWorkerRequest) (string, error) {
	id := req.Id
	if id == "" {
		id = uuid.New().String()
	}
	maxConcurrent := req.MaxConcurrentJobs
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	worker := &domain.Worker{
		Id:                id,
		Hostname:          req.Hostname,
		Status:            domain.WorkerIdle,
		LastHeartbeat:     o.clock.Now(),
		Capabilities:      req.Capabilities,
		MaxConcurrentJobs: maxConcurrent,
	}
	if err := o.workers.SaveWorker(worker); err != nil {
		return "", err
	}
	o.log.WithFields(logrus.Fields{"worker": id, "hostname": req.Hostname}).Info("worker registered")
	return id, nil
}

// WorkerHeartbeat refreshes only the heartbeat timestamp; it never touches
// assignment fields.
func (o *Orchestrator) WorkerHeartbeat(workerId string) error {
	return o.workers.TouchHeartbeat(workerId, o.clock.Now())
}

// GetWorker returns a worker record.
func (o *Orchestrator) GetWorker(workerId string) (*domain.Worker, error) {
	return o.workers.GetWorker(workerId)
}

// EvictStaleWorkers deletes workers whose heartbeat is older than maxAge
// and returns how many were removed.
func (o *Orchestrator) EvictStaleWorkers(maxAge time.Duration) (int, error) {
	workers, err := o.workers.ListWorkers()
	if err != nil {
		return 0, err
	}
	now := o.clock.Now()
	evicted := 0
	for _, worker := range workers {
		if !worker.IsStale(now, maxAge) {
			continue
		}
		if err := o.workers.DeleteWorker(worker.Id); err != nil {
			return evicted, err
		}
		o.log.WithFields(logrus.Fields{
			"worker":    worker.Id,
			"heartbeat": worker.LastHeartbeat,
		}).Warn("evicted stale worker")
		evicted++
	}
	return evicted, nil
}
