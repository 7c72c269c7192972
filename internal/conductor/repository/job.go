package repository

import (
	"strings"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/autoqa-project/conductor/internal/conductor/domain"
)

const (
	jobQueueKey        = "jobs:queue"
	jobObjectPrefix    = "jobs:"
	resultObjectPrefix = "results:"
)

// popMinScript atomically removes and returns the lowest-scoring queue
// member. Two clients racing to pop never receive the same job id because
// the read and the removal execute as one script.
const popMinScript = `
local ids = redis.call('ZRANGE', KEYS[1], 0, 0)
if #ids == 0 then
	return false
end
redis.call('ZREM', KEYS[1], ids[1])
return ids[1]
`

type JobRepository interface {
	AddJob(job *domain.Job, score float64) error
	GetJob(jobId string) (*domain.Job, error)
	UpdateJob(job *domain.Job) error
	PopMin() (string, bool, error)
	Requeue(jobId string, score float64) error
	RemoveFromQueue(jobId string) error
	QueuedCount() (int64, error)
	ListJobs(status domain.JobStatus, limit int) ([]*domain.Job, error)
	SaveResult(result *domain.JobResult) error
	GetResult(jobId string) (*domain.JobResult, error)
}

type RedisJobRepository struct {
	db redis.UniversalClient
}

func NewRedisJobRepository(db redis.UniversalClient) *RedisJobRepository {
	return &RedisJobRepository{db: db}
}

func (repo *RedisJobRepository) connected(op string) error {
	if repo.db == nil {
		return errors.WithStack(&ErrNoConnection{Op: op})
	}
	return nil
}

// AddJob writes the job record and enqueues it in one transaction so a job
// is never visible in the queue without its record.
func (repo *RedisJobRepository) AddJob(job *domain.Job, score float64) error {
	if err := repo.connected("AddJob"); err != nil {
		return err
	}
	pipe := repo.db.TxPipeline()
	pipe.HMSet(jobObjectPrefix+job.Id, jobFields(job))
	pipe.ZAdd(jobQueueKey, redis.Z{Member: job.Id, Score: score})
	_, err := pipe.Exec()
	return errors.WithMessagef(err, "adding job %q", job.Id)
}

func (repo *RedisJobRepository) GetJob(jobId string) (*domain.Job, error) {
	if err := repo.connected("GetJob"); err != nil {
		return nil, err
	}
	fields, err := repo.db.HGetAll(jobObjectPrefix + jobId).Result()
	if err != nil {
		return nil, errors.WithMessagef(err, "reading job %q", jobId)
	}
	if len(fields) == 0 {
		return nil, errors.WithStack(&ErrJobNotFound{JobId: jobId})
	}
	return jobFromFields(fields)
}

func (repo *RedisJobRepository) UpdateJob(job *domain.Job) error {
	if err := repo.connected("UpdateJob"); err != nil {
		return err
	}
	err := repo.db.HMSet(jobObjectPrefix+job.Id, jobFields(job)).Err()
	return errors.WithMessagef(err, "updating job %q", job.Id)
}

// PopMin atomically removes and returns the id of the lowest-scoring
// pending job. The second return value is false when the queue is empty.
func (repo *RedisJobRepository) PopMin() (string, bool, error) {
	if err := repo.connected("PopMin"); err != nil {
		return "", false, err
	}
	result, err := repo.db.Eval(popMinScript, []string{jobQueueKey}).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.WithMessage(err, "popping queue minimum")
	}
	jobId, ok := result.(string)
	if !ok {
		return "", false, errors.Errorf("unexpected pop result of type %T", result)
	}
	return jobId, true, nil
}

func (repo *RedisJobRepository) Requeue(jobId string, score float64) error {
	if err := repo.connected("Requeue"); err != nil {
		return err
	}
	err := repo.db.ZAdd(jobQueueKey, redis.Z{Member: jobId, Score: score}).Err()
	return errors.WithMessagef(err, "requeueing job %q", jobId)
}

func (repo *RedisJobRepository) RemoveFromQueue(jobId string) error {
	if err := repo.connected("RemoveFromQueue"); err != nil {
		return err
	}
	err := repo.db.ZRem(jobQueueKey, jobId).Err()
	return errors.WithMessagef(err, "removing job %q from queue", jobId)
}

func (repo *RedisJobRepository) QueuedCount() (int64, error) {
	if err := repo.connected("QueuedCount"); err != nil {
		return 0, err
	}
	n, err := repo.db.ZCard(jobQueueKey).Result()
	return n, errors.WithMessage(err, "counting queued jobs")
}

// ListJobs scans job records, optionally filtered by status. A limit of
// zero or less means no limit. Listing is for observability only; it is
// never used for scheduling decisions.
func (repo *RedisJobRepository) ListJobs(status domain.JobStatus, limit int) ([]*domain.Job, error) {
	if err := repo.connected("ListJobs"); err != nil {
		return nil, err
	}
	jobs := make([]*domain.Job, 0)
	var cursor uint64
	for {
		keys, next, err := repo.db.Scan(cursor, jobObjectPrefix+"*", 100).Result()
		if err != nil {
			return nil, errors.WithMessage(err, "scanning job records")
		}
		for _, key := range keys {
			// the queue lives under the same prefix but is not a record
			if key == jobQueueKey {
				continue
			}
			job, err := repo.GetJob(strings.TrimPrefix(key, jobObjectPrefix))
			if err != nil {
				var notFound *ErrJobNotFound
				if errors.As(err, &notFound) {
					continue
				}
				return nil, err
			}
			if status != "" && job.Status != status {
				continue
			}
			jobs = append(jobs, job)
			if limit > 0 && len(jobs) >= limit {
				return jobs, nil
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return jobs, nil
}

// SaveResult stores the result payload in its own namespace, separate from
// the job record.
func (repo *RedisJobRepository) SaveResult(result *domain.JobResult) error {
	if err := repo.connected("SaveResult"); err != nil {
		return err
	}
	fields, err := resultFields(result)
	if err != nil {
		return err
	}
	err = repo.db.HMSet(resultObjectPrefix+result.JobId, fields).Err()
	return errors.WithMessagef(err, "saving result for job %q", result.JobId)
}

func (repo *RedisJobRepository) GetResult(jobId string) (*domain.JobResult, error) {
	if err := repo.connected("GetResult"); err != nil {
		return nil, err
	}
	fields, err := repo.db.HGetAll(resultObjectPrefix + jobId).Result()
	if err != nil {
		return nil, errors.WithMessagef(err, "reading result for job %q", jobId)
	}
	if len(fields) == 0 {
		return nil, errors.WithStack(&ErrJobNotFound{JobId: jobId})
	}
	return resultFromFields(fields)
}
