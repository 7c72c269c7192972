package conductor

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-redis/redis"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/autoqa-project/conductor/internal/common/health"
	"github.com/autoqa-project/conductor/internal/common/task"
	"github.com/autoqa-project/conductor/internal/common/util"
	"github.com/autoqa-project/conductor/internal/conductor/configuration"
	"github.com/autoqa-project/conductor/internal/conductor/metrics"
	"github.com/autoqa-project/conductor/internal/conductor/monitoring"
	"github.com/autoqa-project/conductor/internal/conductor/orchestrator"
	"github.com/autoqa-project/conductor/internal/conductor/repository"
)

// Serve wires the store, orchestrator and resource monitor together and
// runs them until ctx is cancelled.
func Serve(ctx context.Context, config *configuration.ConductorConfig, healthChecks *health.MultiChecker) error {
	log.Info("conductor starting")
	defer log.Info("conductor shutting down")

	startupComplete := health.NewStartupCompleteChecker()
	healthChecks.Add(startupComplete)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	concurrency, err := configuration.LoadConcurrencyConfig(config.EnvPrefix)
	if err != nil {
		return err
	}

	db := redis.NewUniversalClient(&config.Redis)
	defer func() {
		if err := db.Close(); err != nil {
			log.WithError(err).Error("failed to close redis client")
		}
	}()

	// fail fast if the store is unreachable, but tolerate a briefly
	// restarting redis
	err = retry.Do(
		func() error { return db.Ping().Err() },
		retry.Attempts(5),
		retry.Delay(time.Second),
	)
	if err != nil {
		return err
	}
	healthChecks.Add(repository.NewRedisHealth(db))

	jobRepository := repository.NewRedisJobRepository(db)
	workerRepository := repository.NewRedisWorkerRepository(db)
	clock := &util.DefaultClock{}
	orch := orchestrator.New(jobRepository, workerRepository, clock)
	metrics.ExposeQueueInfo(orch)

	if concurrency.EnableResourceMonitoring {
		monitor := monitoring.NewMonitor(concurrency, nil, clock)
		g.Go(func() error { return monitor.Run(ctx) })
	}

	if config.WorkerStaleAfter <= 0 {
		config.WorkerStaleAfter = 2 * time.Minute
	}
	if config.WorkerSweepInterval <= 0 {
		config.WorkerSweepInterval = 30 * time.Second
	}
	taskManager := task.NewBackgroundTaskManager(metrics.MetricPrefix)
	defer taskManager.StopAll(concurrency.GracefulShutdownTimeout)
	taskManager.Register(func() {
		if _, err := orch.EvictStaleWorkers(config.WorkerStaleAfter); err != nil {
			log.WithError(err).Error("stale worker sweep failed")
		}
	}, config.WorkerSweepInterval, "worker_sweep")

	startupComplete.MarkComplete()

	g.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
