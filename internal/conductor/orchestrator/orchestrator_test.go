package orchestrator

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoqa-project/conductor/internal/common/util"
	"github.com/autoqa-project/conductor/internal/conductor/domain"
	"github.com/autoqa-project/conductor/internal/conductor/repository"
)

func TestHighPriorityDequeuesFirst(t *testing.T) {
	withOrchestrator(t, func(o *Orchestrator, clock *util.DummyClock) {
		// LOW submitted before HIGH; HIGH must still come out first
		lowId := submit(t, o, clock, domain.PriorityLow)
		highId := submit(t, o, clock, domain.PriorityHigh)

		first, err := o.GetNextJob("w1")
		require.NoError(t, err)
		require.NotNil(t, first)
		assert.Equal(t, highId, first.Id)

		second, err := o.GetNextJob("w1")
		require.NoError(t, err)
		require.NotNil(t, second)
		assert.Equal(t, lowId, second.Id)
	})
}

func TestFIFOWithinPriorityLevel(t *testing.T) {
	withOrchestrator(t, func(o *Orchestrator, clock *util.DummyClock) {
		h1 := submit(t, o, clock, domain.PriorityHigh)
		l1 := submit(t, o, clock, domain.PriorityLow)
		h2 := submit(t, o, clock, domain.PriorityHigh)

		assert.Equal(t, []string{h1, h2, l1}, drain(t, o))
	})
}

func TestGetNextJobEmptyQueue(t *testing.T) {
	withOrchestrator(t, func(o *Orchestrator, clock *util.DummyClock) {
		job, err := o.GetNextJob("w1")
		require.NoError(t, err)
		assert.Nil(t, job)
	})
}

func TestGetNextJobAssignsAndStarts(t *testing.T) {
	withOrchestrator(t, func(o *Orchestrator, clock *util.DummyClock) {
		jobId := submit(t, o, clock, domain.PriorityNormal)
		clock.T = clock.T.Add(5 * time.Second)

		job, err := o.GetNextJob("w1")
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, jobId, job.Id)
		assert.Equal(t, domain.JobRunning, job.Status)
		assert.Equal(t, "w1", job.WorkerId)
		assert.True(t, clock.T.Equal(job.Started))
	})
}

func TestCompleteJobStoresResultSeparately(t *testing.T) {
	withOrchestrator(t, func(o *Orchestrator, clock *util.DummyClock) {
		jobId := submit(t, o, clock, domain.PriorityNormal)
		_, err := o.GetNextJob("w1")
		require.NoError(t, err)

		payload := map[string]interface{}{"passed": true}
		require.NoError(t, o.CompleteJob(jobId, payload, ""))

		job, err := o.GetJob(jobId)
		require.NoError(t, err)
		assert.Equal(t, domain.JobCompleted, job.Status)
		assert.False(t, job.Finished.IsZero())

		result, err := o.GetResult(jobId)
		require.NoError(t, err)
		assert.Equal(t, payload, result.Payload)
	})
}

func TestCompleteJobWithErrorFails(t *testing.T) {
	withOrchestrator(t, func(o *Orchestrator, clock *util.DummyClock) {
		jobId := submit(t, o, clock, domain.PriorityNormal)
		_, err := o.GetNextJob("w1")
		require.NoError(t, err)

		require.NoError(t, o.CompleteJob(jobId, nil, "element not found"))

		job, err := o.GetJob(jobId)
		require.NoError(t, err)
		assert.Equal(t, domain.JobFailed, job.Status)
		assert.Equal(t, "element not found", job.Error)
	})
}

func TestRetryExhaustion(t *testing.T) {
	withOrchestrator(t, func(o *Orchestrator, clock *util.DummyClock) {
		jobId, err := o.SubmitJob(SubmitJobRequest{
			Name:       "flaky",
			Priority:   domain.PriorityNormal,
			MaxRetries: 2,
		})
		require.NoError(t, err)

		for attempt := 1; attempt <= 2; attempt++ {
			_, err := o.GetNextJob("w1")
			require.NoError(t, err)
			require.NoError(t, o.CompleteJob(jobId, nil, "boom"))

			ok, err := o.RetryJob(jobId)
			require.NoError(t, err)
			assert.True(t, ok, "retry %d should be allowed", attempt)

			job, err := o.GetJob(jobId)
			require.NoError(t, err)
			assert.Equal(t, attempt, job.Retries)
			assert.Equal(t, domain.JobPending, job.Status)
			assert.Empty(t, job.WorkerId)
			assert.Empty(t, job.Error)
		}

		_, err = o.GetNextJob("w1")
		require.NoError(t, err)
		require.NoError(t, o.CompleteJob(jobId, nil, "boom"))

		ok, err := o.RetryJob(jobId)
		require.NoError(t, err)
		assert.False(t, ok)

		job, err := o.GetJob(jobId)
		require.NoError(t, err)
		assert.Equal(t, domain.JobFailed, job.Status)
		assert.Equal(t, 2, job.Retries)
	})
}

func TestRetriedJobRejoinsAtOriginalPriority(t *testing.T) {
	withOrchestrator(t, func(o *Orchestrator, clock *util.DummyClock) {
		flaky := submit(t, o, clock, domain.PriorityNormal)
		_, err := o.GetNextJob("w1")
		require.NoError(t, err)
		require.NoError(t, o.CompleteJob(flaky, nil, "boom"))

		waiting := submit(t, o, clock, domain.PriorityNormal)

		clock.T = clock.T.Add(time.Second)
		ok, err := o.RetryJob(flaky)
		require.NoError(t, err)
		require.True(t, ok)

		// the retried job does not jump the queue
		assert.Equal(t, []string{waiting, flaky}, drain(t, o))
	})
}

func TestCancelPendingJobRemovesQueueEntry(t *testing.T) {
	withOrchestrator(t, func(o *Orchestrator, clock *util.DummyClock) {
		jobId := submit(t, o, clock, domain.PriorityNormal)

		ok, err := o.CancelJob(jobId)
		require.NoError(t, err)
		assert.True(t, ok)

		job, err := o.GetJob(jobId)
		require.NoError(t, err)
		assert.Equal(t, domain.JobCancelled, job.Status)

		next, err := o.GetNextJob("w1")
		require.NoError(t, err)
		assert.Nil(t, next)
	})
}

func TestCancelCompletedJobIsNoOp(t *testing.T) {
	withOrchestrator(t, func(o *Orchestrator, clock *util.DummyClock) {
		jobId := submit(t, o, clock, domain.PriorityNormal)
		_, err := o.GetNextJob("w1")
		require.NoError(t, err)
		require.NoError(t, o.CompleteJob(jobId, nil, ""))

		ok, err := o.CancelJob(jobId)
		require.NoError(t, err)
		assert.False(t, ok)

		job, err := o.GetJob(jobId)
		require.NoError(t, err)
		assert.Equal(t, domain.JobCompleted, job.Status)
	})
}

func TestCancelUnknownJobIsNoOp(t *testing.T) {
	withOrchestrator(t, func(o *Orchestrator, clock *util.DummyClock) {
		ok, err := o.CancelJob("missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestSubmitRoundTripPreservesCollections(t *testing.T) {
	withOrchestrator(t, func(o *Orchestrator, clock *util.DummyClock) {
		jobId, err := o.SubmitJob(SubmitJobRequest{
			Name:      "collections",
			Priority:  domain.PriorityLow,
			Variables: map[string]string{"k": "v"},
			Tags:      []string{"t1"},
		})
		require.NoError(t, err)

		job, err := o.GetJob(jobId)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"k": "v"}, job.Variables)
		assert.Equal(t, []string{"t1"}, job.Tags)
		assert.Equal(t, domain.PriorityLow, job.Priority)
		assert.True(t, clock.T.Equal(job.Created))
	})
}

func TestWorkerRegistrationAndHeartbeat(t *testing.T) {
	withOrchestrator(t, func(o *Orchestrator, clock *util.DummyClock) {
		workerId, err := o.RegisterWorker(RegisterWorkerRequest{
			Hostname:          "runner-01",
			Capabilities:      []string{"chromium"},
			MaxConcurrentJobs: 2,
		})
		require.NoError(t, err)
		require.NotEmpty(t, workerId)

		clock.T = clock.T.Add(time.Minute)
		require.NoError(t, o.WorkerHeartbeat(workerId))

		worker, err := o.GetWorker(workerId)
		require.NoError(t, err)
		assert.True(t, clock.T.Equal(worker.LastHeartbeat))
	})
}

func TestAssignmentUpdatesWorkerBookkeeping(t *testing.T) {
	withOrchestrator(t, func(o *Orchestrator, clock *util.DummyClock) {
		workerId, err := o.RegisterWorker(RegisterWorkerRequest{Id: "w1", MaxConcurrentJobs: 2})
		require.NoError(t, err)

		jobId := submit(t, o, clock, domain.PriorityNormal)
		_, err = o.GetNextJob(workerId)
		require.NoError(t, err)

		worker, err := o.GetWorker(workerId)
		require.NoError(t, err)
		assert.Equal(t, domain.WorkerBusy, worker.Status)
		assert.Equal(t, jobId, worker.CurrentJobId)
		assert.Equal(t, 1, worker.ActiveJobs)

		require.NoError(t, o.CompleteJob(jobId, nil, ""))
		worker, err = o.GetWorker(workerId)
		require.NoError(t, err)
		assert.Equal(t, domain.WorkerIdle, worker.Status)
		assert.Empty(t, worker.CurrentJobId)
		assert.Equal(t, 0, worker.ActiveJobs)
	})
}

func TestEvictStaleWorkers(t *testing.T) {
	withOrchestrator(t, func(o *Orchestrator, clock *util.DummyClock) {
		_, err := o.RegisterWorker(RegisterWorkerRequest{Id: "stale"})
		require.NoError(t, err)

		clock.T = clock.T.Add(5 * time.Minute)
		_, err = o.RegisterWorker(RegisterWorkerRequest{Id: "fresh"})
		require.NoError(t, err)

		evicted, err := o.EvictStaleWorkers(2 * time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 1, evicted)

		_, err = o.GetWorker("stale")
		assert.Error(t, err)
		_, err = o.GetWorker("fresh")
		assert.NoError(t, err)
	})
}

func TestGetQueueStats(t *testing.T) {
	withOrchestrator(t, func(o *Orchestrator, clock *util.DummyClock) {
		submit(t, o, clock, domain.PriorityNormal)
		running := submit(t, o, clock, domain.PriorityHigh)
		_, err := o.GetNextJob("w1")
		require.NoError(t, err)

		_, err = o.RegisterWorker(RegisterWorkerRequest{Id: "w1"})
		require.NoError(t, err)

		stats, err := o.GetQueueStats()
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.QueuedJobs)
		assert.Equal(t, 1, stats.TotalWorkers)
		assert.Equal(t, 1, stats.JobStatusCounts[domain.JobRunning], "job %s should be running", running)
		assert.Equal(t, 1, stats.JobStatusCounts[domain.JobPending])
	})
}

func submit(t *testing.T, o *Orchestrator, clock *util.DummyClock, priority domain.JobPriority) string {
	t.Helper()
	// distinct submission seconds keep FIFO ordering deterministic
	clock.T = clock.T.Add(time.Second)
	jobId, err := o.SubmitJob(SubmitJobRequest{
		Name:       "test",
		Priority:   priority,
		MaxRetries: 3,
	})
	require.NoError(t, err)
	return jobId
}

func drain(t *testing.T, o *Orchestrator) []string {
	t.Helper()
	var order []string
	for {
		job, err := o.GetNextJob("drain-worker")
		require.NoError(t, err)
		if job == nil {
			return order
		}
		order = append(order, job.Id)
	}
}

func withOrchestrator(t *testing.T, action func(o *Orchestrator, clock *util.DummyClock)) {
	t.Helper()
	db, err := miniredis.Run()
	require.NoError(t, err)
	defer db.Close()

	client := redis.NewClient(&redis.Options{Addr: db.Addr()})
	defer client.Close()

	clock := &util.DummyClock{T: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	o := New(
		repository.NewRedisJobRepository(client),
		repository.NewRedisWorkerRepository(client),
		clock,
	)
	action(o, clock)
}
