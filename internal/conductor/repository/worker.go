package repository

import (
	"strings"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/autoqa-project/conductor/internal/conductor/domain"
)

const (
	workerObjectPrefix   = "workers:"
	workerHeartbeatField = "last_heartbeat"
)

type WorkerRepository interface {
	SaveWorker(worker *domain.Worker) error
	GetWorker(workerId string) (*domain.Worker, error)
	ListWorkers() ([]*domain.Worker, error)
	TouchHeartbeat(workerId string, at time.Time) error
	DeleteWorker(workerId string) error
}

type RedisWorkerRepository struct {
	db redis.UniversalClient
}

func NewRedisWorkerRepository(db redis.UniversalClient) *RedisWorkerRepository {
	return &RedisWorkerRepository{db: db}
}

func (repo *RedisWorkerRepository) connected(op string) error {
	if repo.db == nil {
		return errors.WithStack(&ErrNoConnection{Op: op})
	}
	return nil
}

func (repo *RedisWorkerRepository) SaveWorker(worker *domain.Worker) error {
	if err := repo.connected("SaveWorker"); err != nil {
		return err
	}
	err := repo.db.HMSet(workerObjectPrefix+worker.Id, workerFields(worker)).Err()
	return errors.WithMessagef(err, "saving worker %q", worker.Id)
}

func (repo *RedisWorkerRepository) GetWorker(workerId string) (*domain.Worker, error) {
	if err := repo.connected("GetWorker"); err != nil {
		return nil, err
	}
	fields, err := repo.db.HGetAll(workerObjectPrefix + workerId).Result()
	if err != nil {
		return nil, errors.WithMessagef(err, "reading worker %q", workerId)
	}
	if len(fields) == 0 {
		return nil, errors.WithStack(&ErrWorkerNotFound{WorkerId: workerId})
	}
	return workerFromFields(fields)
}

func (repo *RedisWorkerRepository) ListWorkers() ([]*domain.Worker, error) {
	if err := repo.connected("ListWorkers"); err != nil {
		return nil, err
	}
	workers := make([]*domain.Worker, 0)
	var cursor uint64
	for {
		keys, next, err := repo.db.Scan(cursor, workerObjectPrefix+"*", 100).Result()
		if err != nil {
			return nil, errors.WithMessage(err, "scanning worker records")
		}
		for _, key := range keys {
			worker, err := repo.GetWorker(strings.TrimPrefix(key, workerObjectPrefix))
			if err != nil {
				var notFound *ErrWorkerNotFound
				if errors.As(err, &notFound) {
					continue
				}
				return nil, err
			}
			workers = append(workers, worker)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return workers, nil
}

// TouchHeartbeat refreshes only the heartbeat field. Assignment fields are
// written by the orchestrator on a separate path, so a heartbeat can never
// clobber a concurrent assignment.
func (repo *RedisWorkerRepository) TouchHeartbeat(workerId string, at time.Time) error {
	if err := repo.connected("TouchHeartbeat"); err != nil {
		return err
	}
	exists, err := repo.db.Exists(workerObjectPrefix + workerId).Result()
	if err != nil {
		return errors.WithMessagef(err, "checking worker %q", workerId)
	}
	if exists == 0 {
		return errors.WithStack(&ErrWorkerNotFound{WorkerId: workerId})
	}
	err = repo.db.HSet(workerObjectPrefix+workerId, workerHeartbeatField, encodeTime(at)).Err()
	return errors.WithMessagef(err, "touching heartbeat for worker %q", workerId)
}

func (repo *RedisWorkerRepository) DeleteWorker(workerId string) error {
	if err := repo.connected("DeleteWorker"); err != nil {
		return err
	}
	err := repo.db.Del(workerObjectPrefix + workerId).Err()
	return errors.WithMessagef(err, "deleting worker %q", workerId)
}
