package configuration

import (
	"time"

	"github.com/go-redis/redis"
)

// ConductorConfig is the process-level configuration loaded from the YAML
// config file and the environment at startup.
type ConductorConfig struct {
	HttpPort    uint16
	MetricsPort uint16

	Redis redis.UniversalOptions

	// Prefix for the concurrency-related environment variables,
	// e.g. AUTOQA_MAX_PARALLEL. Defaults to "AUTOQA_".
	EnvPrefix string

	// Workers whose heartbeat is older than this are evicted by the
	// periodic sweep.
	WorkerStaleAfter    time.Duration
	WorkerSweepInterval time.Duration
}
