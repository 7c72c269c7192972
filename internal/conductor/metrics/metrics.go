package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/autoqa-project/conductor/internal/conductor/domain"
)

const MetricPrefix = "conductor_"

var (
	JobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: MetricPrefix + "jobs_submitted_total",
		Help: "Number of jobs submitted, by priority",
	}, []string{"priority"})

	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: MetricPrefix + "jobs_completed_total",
		Help: "Number of jobs reported complete, by outcome",
	}, []string{"outcome"})

	JobsRetried = promauto.NewCounter(prometheus.CounterOpts{
		Name: MetricPrefix + "jobs_retried_total",
		Help: "Number of successful retry requests",
	})

	JobsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: MetricPrefix + "jobs_cancelled_total",
		Help: "Number of jobs cancelled before reaching a terminal state",
	})

	memoryUsedPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: MetricPrefix + "memory_used_percent",
		Help: "Host memory usage from the most recent snapshot",
	})

	memoryAvailableMb = promauto.NewGauge(prometheus.GaugeOpts{
		Name: MetricPrefix + "memory_available_mb",
		Help: "Host memory available from the most recent snapshot",
	})

	cpuPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: MetricPrefix + "cpu_percent",
		Help: "Host CPU usage from the most recent snapshot",
	})

	memoryPressureLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: MetricPrefix + "memory_pressure_level",
		Help: "Current memory pressure level (0=none .. 4=critical)",
	})

	recommendedParallelism = promauto.NewGauge(prometheus.GaugeOpts{
		Name: MetricPrefix + "recommended_parallelism",
		Help: "Advisory ceiling on concurrently active execution contexts",
	})
)

// RecordResourceSnapshot publishes the gauges derived from one resource
// snapshot.
func RecordResourceSnapshot(usedPercent, availableMb, cpu float64, pressureLevel, parallelism int) {
	memoryUsedPercent.Set(usedPercent)
	memoryAvailableMb.Set(availableMb)
	cpuPercent.Set(cpu)
	memoryPressureLevel.Set(float64(pressureLevel))
	recommendedParallelism.Set(float64(parallelism))
}

// QueueStatsProvider is the read-only aggregation surface the collector
// scrapes; the orchestrator implements it.
type QueueStatsProvider interface {
	QueuedCount() (int64, error)
	WorkerCounts() (total int, active int, err error)
	JobStatusCounts() (map[domain.JobStatus]int, error)
}

var (
	queueSizeDesc = prometheus.NewDesc(
		MetricPrefix+"queue_size",
		"Number of jobs waiting in the priority queue",
		nil,
		nil,
	)

	workerCountDesc = prometheus.NewDesc(
		MetricPrefix+"workers",
		"Number of registered workers",
		[]string{"state"},
		nil,
	)

	jobStatusDesc = prometheus.NewDesc(
		MetricPrefix+"jobs",
		"Number of job records by status",
		[]string{"status"},
		nil,
	)
)

// QueueInfoCollector exposes queue depth and worker counts on scrape.
type QueueInfoCollector struct {
	provider QueueStatsProvider
}

func ExposeQueueInfo(provider QueueStatsProvider) *QueueInfoCollector {
	collector := &QueueInfoCollector{provider: provider}
	prometheus.MustRegister(collector)
	return collector
}

func (c *QueueInfoCollector) Describe(desc chan<- *prometheus.Desc) {
	desc <- queueSizeDesc
	desc <- workerCountDesc
	desc <- jobStatusDesc
}

func (c *QueueInfoCollector) Collect(out chan<- prometheus.Metric) {
	queued, err := c.provider.QueuedCount()
	if err != nil {
		log.Errorf("error collecting queue size metric: %s", err)
		return
	}
	out <- prometheus.MustNewConstMetric(queueSizeDesc, prometheus.GaugeValue, float64(queued))

	total, active, err := c.provider.WorkerCounts()
	if err != nil {
		log.Errorf("error collecting worker metrics: %s", err)
		return
	}
	out <- prometheus.MustNewConstMetric(workerCountDesc, prometheus.GaugeValue, float64(total), "total")
	out <- prometheus.MustNewConstMetric(workerCountDesc, prometheus.GaugeValue, float64(active), "active")

	statusCounts, err := c.provider.JobStatusCounts()
	if err != nil {
		log.Errorf("error collecting job status metrics: %s", err)
		return
	}
	for status, count := range statusCounts {
		out <- prometheus.MustNewConstMetric(jobStatusDesc, prometheus.GaugeValue, float64(count), string(status))
	}
}
