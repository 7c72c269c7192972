package repository

import (
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoqa-project/conductor/internal/conductor/domain"
)

func TestAddJobAndGetJobRoundTrip(t *testing.T) {
	withJobRepository(t, func(repo *RedisJobRepository) {
		created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		job := &domain.Job{
			Id:          "job-1",
			SpecPath:    "specs/login.yaml",
			Suite:       "auth",
			Name:        "login succeeds",
			Status:      domain.JobPending,
			Priority:    domain.PriorityLow,
			Created:     created,
			MaxRetries:  2,
			Timeout:     90 * time.Second,
			Environment: "staging",
			Variables:   map[string]string{"k": "v"},
			Tags:        []string{"t1"},
			CIMetadata:  map[string]string{"pipeline": "42"},
		}
		require.NoError(t, repo.AddJob(job, domain.PriorityScore(job.Priority, created)))

		loaded, err := repo.GetJob("job-1")
		require.NoError(t, err)
		assert.True(t, created.Equal(loaded.Created))
		assert.True(t, loaded.Started.IsZero())
		assert.True(t, loaded.Finished.IsZero())
		// timestamps compared above; compare the rest structurally
		loaded.Created = job.Created
		assert.Equal(t, job, loaded)
	})
}

func TestGetJobNotFound(t *testing.T) {
	withJobRepository(t, func(repo *RedisJobRepository) {
		_, err := repo.GetJob("missing")
		var notFound *ErrJobNotFound
		assert.True(t, errors.As(err, &notFound))
	})
}

func TestPopMinOrdersByScore(t *testing.T) {
	withJobRepository(t, func(repo *RedisJobRepository) {
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		addQueued(t, repo, "low", domain.PriorityLow, base)
		addQueued(t, repo, "high-late", domain.PriorityHigh, base.Add(10*time.Second))
		addQueued(t, repo, "high-early", domain.PriorityHigh, base)
		addQueued(t, repo, "critical", domain.PriorityCritical, base.Add(time.Minute))

		assert.Equal(t, []string{"critical", "high-early", "high-late", "low"}, drainQueue(t, repo))
	})
}

func TestPopMinEmptyQueue(t *testing.T) {
	withJobRepository(t, func(repo *RedisJobRepository) {
		_, ok, err := repo.PopMin()
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestPopMinNeverReturnsDuplicates(t *testing.T) {
	withJobRepository(t, func(repo *RedisJobRepository) {
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		jobCount := 50
		for i := 0; i < jobCount; i++ {
			addQueued(t, repo, jobId(i), domain.PriorityNormal, base.Add(time.Duration(i)*time.Second))
		}

		ids := make(chan string, jobCount)
		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					id, ok, err := repo.PopMin()
					assert.NoError(t, err)
					if !ok {
						return
					}
					ids <- id
				}
			}()
		}
		wg.Wait()
		close(ids)

		seen := map[string]bool{}
		for id := range ids {
			assert.False(t, seen[id], "job %s dequeued twice", id)
			seen[id] = true
		}
		assert.Len(t, seen, jobCount)
	})
}

func TestRequeueAndRemoveFromQueue(t *testing.T) {
	withJobRepository(t, func(repo *RedisJobRepository) {
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		addQueued(t, repo, "a", domain.PriorityNormal, base)

		id, ok, err := repo.PopMin()
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "a", id)

		require.NoError(t, repo.Requeue("a", domain.PriorityScore(domain.PriorityNormal, base)))
		count, err := repo.QueuedCount()
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		require.NoError(t, repo.RemoveFromQueue("a"))
		count, err = repo.QueuedCount()
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	})
}

func TestListJobsFiltersByStatus(t *testing.T) {
	withJobRepository(t, func(repo *RedisJobRepository) {
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		addQueued(t, repo, "a", domain.PriorityNormal, base)
		addQueued(t, repo, "b", domain.PriorityNormal, base)

		job, err := repo.GetJob("b")
		require.NoError(t, err)
		job.Status = domain.JobRunning
		require.NoError(t, repo.UpdateJob(job))

		running, err := repo.ListJobs(domain.JobRunning, 0)
		require.NoError(t, err)
		require.Len(t, running, 1)
		assert.Equal(t, "b", running[0].Id)

		all, err := repo.ListJobs("", 0)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}

func TestResultsStoredSeparately(t *testing.T) {
	withJobRepository(t, func(repo *RedisJobRepository) {
		finished := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
		result := &domain.JobResult{
			JobId:      "job-1",
			FinishedAt: finished,
			Payload:    map[string]interface{}{"passed": true, "steps": float64(12)},
		}
		require.NoError(t, repo.SaveResult(result))

		loaded, err := repo.GetResult("job-1")
		require.NoError(t, err)
		assert.True(t, finished.Equal(loaded.FinishedAt))
		loaded.FinishedAt = result.FinishedAt
		assert.Equal(t, result, loaded)

		// the job record namespace is untouched
		_, err = repo.GetJob("job-1")
		var notFound *ErrJobNotFound
		assert.True(t, errors.As(err, &notFound))
	})
}

func TestOperationsFailWithoutConnection(t *testing.T) {
	repo := NewRedisJobRepository(nil)

	var noConn *ErrNoConnection
	_, _, err := repo.PopMin()
	assert.True(t, errors.As(err, &noConn))

	err = repo.AddJob(&domain.Job{Id: "x"}, 0)
	assert.True(t, errors.As(err, &noConn))

	_, err = repo.GetJob("x")
	assert.True(t, errors.As(err, &noConn))
}

func addQueued(t *testing.T, repo *RedisJobRepository, id string, priority domain.JobPriority, created time.Time) {
	t.Helper()
	job := &domain.Job{
		Id:       id,
		Status:   domain.JobPending,
		Priority: priority,
		Created:  created,
	}
	require.NoError(t, repo.AddJob(job, domain.PriorityScore(priority, created)))
}

func drainQueue(t *testing.T, repo *RedisJobRepository) []string {
	t.Helper()
	var order []string
	for {
		id, ok, err := repo.PopMin()
		require.NoError(t, err)
		if !ok {
			return order
		}
		order = append(order, id)
	}
}

func jobId(i int) string {
	return "job-" + string(rune('a'+i/10)) + string(rune('a'+i%10))
}

func withJobRepository(t *testing.T, action func(repo *RedisJobRepository)) {
	t.Helper()
	db, err := miniredis.Run()
	require.NoError(t, err)
	defer db.Close()

	client := redis.NewClient(&redis.Options{Addr: db.Addr()})
	defer client.Close()

	action(NewRedisJobRepository(client))
}
