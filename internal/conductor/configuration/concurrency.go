package configuration

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// DefaultEnvPrefix is prepended to every recognized environment variable
// unless the caller supplies a different prefix.
const DefaultEnvPrefix = "AUTOQA_"

type ScalingStrategy string

const (
	ScalingFixed        ScalingStrategy = "fixed"
	ScalingAdaptive     ScalingStrategy = "adaptive"
	ScalingAggressive   ScalingStrategy = "aggressive"
	ScalingConservative ScalingStrategy = "conservative"
)

func ParseScalingStrategy(s string) (ScalingStrategy, error) {
	switch ScalingStrategy(strings.ToLower(s)) {
	case ScalingFixed:
		return ScalingFixed, nil
	case ScalingAdaptive:
		return ScalingAdaptive, nil
	case ScalingAggressive:
		return ScalingAggressive, nil
	case ScalingConservative:
		return ScalingConservative, nil
	}
	return "", errors.Errorf("unknown scaling strategy %q", s)
}

// ResourceLimits holds the memory thresholds driving pressure
// classification.
type ResourceLimits struct {
	MaxMemoryPercent        float64
	CriticalMemoryPercent   float64
	MinAvailableMemoryMb    float64
	ContextMemoryEstimateMb float64
}

// ConcurrencyConfig describes parallelism bounds, context lifecycle limits
// and resource thresholds. Instances are treated as immutable once
// validated; WithOverrides returns a fresh, independently validated copy.
type ConcurrencyConfig struct {
	MaxParallel        int
	MaxBrowserContexts int
	MinBrowserContexts int
	Strategy           ScalingStrategy

	ContextIdleTimeout time.Duration
	ContextMaxAge      time.Duration
	ContextMaxUses     int
	AcquireTimeout     time.Duration

	EnableResourceMonitoring bool
	MonitoringInterval       time.Duration
	GracefulShutdownTimeout  time.Duration

	RetryOnContextFailure bool
	MaxContextRetries     int

	Limits ResourceLimits
}

func DefaultConcurrencyConfig() ConcurrencyConfig {
	return ConcurrencyConfig{
		MaxParallel:        4,
		MaxBrowserContexts: 8,
		MinBrowserContexts: 1,
		Strategy:           ScalingAdaptive,

		ContextIdleTimeout: 5 * time.Minute,
		ContextMaxAge:      30 * time.Minute,
		ContextMaxUses:     50,
		AcquireTimeout:     30 * time.Second,

		EnableResourceMonitoring: true,
		MonitoringInterval:       10 * time.Second,
		GracefulShutdownTimeout:  30 * time.Second,

		RetryOnContextFailure: true,
		MaxContextRetries:     2,

		Limits: ResourceLimits{
			MaxMemoryPercent:        80,
			CriticalMemoryPercent:   90,
			MinAvailableMemoryMb:    512,
			ContextMemoryEstimateMb: 512,
		},
	}
}

// Validate checks every construction-time invariant and reports all
// violations at once.
func (c ConcurrencyConfig) Validate() error {
	var result *multierror.Error

	if c.MaxParallel <= 0 {
		result = multierror.Append(result, fmt.Errorf("maxParallel must be positive, got %d", c.MaxParallel))
	}
	if c.MinBrowserContexts < 0 {
		result = multierror.Append(result, fmt.Errorf("minBrowserContexts must be non-negative, got %d", c.MinBrowserContexts))
	}
	if c.MinBrowserContexts > c.MaxBrowserContexts {
		result = multierror.Append(result, fmt.Errorf(
			"minBrowserContexts (%d) must not exceed maxBrowserContexts (%d)",
			c.MinBrowserContexts, c.MaxBrowserContexts))
	}
	if c.ContextIdleTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("contextIdleTimeout must be positive, got %s", c.ContextIdleTimeout))
	}
	if c.ContextMaxAge <= 0 {
		result = multierror.Append(result, fmt.Errorf("contextMaxAge must be positive, got %s", c.ContextMaxAge))
	}
	if c.ContextMaxUses <= 0 {
		result = multierror.Append(result, fmt.Errorf("contextMaxUses must be positive, got %d", c.ContextMaxUses))
	}
	if c.AcquireTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("acquireTimeout must be positive, got %s", c.AcquireTimeout))
	}
	if c.MonitoringInterval <= 0 {
		result = multierror.Append(result, fmt.Errorf("monitoringInterval must be positive, got %s", c.MonitoringInterval))
	}
	if c.GracefulShutdownTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("gracefulShutdownTimeout must be positive, got %s", c.GracefulShutdownTimeout))
	}
	if c.MaxContextRetries < 0 {
		result = multierror.Append(result, fmt.Errorf("maxContextRetries must be non-negative, got %d", c.MaxContextRetries))
	}
	if _, err := ParseScalingStrategy(string(c.Strategy)); err != nil {
		result = multierror.Append(result, err)
	}

	if c.Limits.MaxMemoryPercent <= 0 {
		result = multierror.Append(result, fmt.Errorf("maxMemoryPercent must be positive, got %v", c.Limits.MaxMemoryPercent))
	}
	if c.Limits.MaxMemoryPercent >= c.Limits.CriticalMemoryPercent {
		result = multierror.Append(result, fmt.Errorf(
			"maxMemoryPercent (%v) must be below criticalMemoryPercent (%v)",
			c.Limits.MaxMemoryPercent, c.Limits.CriticalMemoryPercent))
	}
	if c.Limits.CriticalMemoryPercent > 100 {
		result = multierror.Append(result, fmt.Errorf("criticalMemoryPercent must not exceed 100, got %v", c.Limits.CriticalMemoryPercent))
	}
	if c.Limits.MinAvailableMemoryMb < 0 {
		result = multierror.Append(result, fmt.Errorf("minAvailableMemoryMb must be non-negative, got %v", c.Limits.MinAvailableMemoryMb))
	}
	if c.Limits.ContextMemoryEstimateMb <= 0 {
		result = multierror.Append(result, fmt.Errorf("contextMemoryEstimateMb must be positive, got %v", c.Limits.ContextMemoryEstimateMb))
	}

	if result != nil {
		return errors.WithMessage(result.ErrorOrNil(), "invalid concurrency configuration")
	}
	return nil
}

// ConcurrencyOverrides carries optional replacement values; nil fields keep
// the value of the config being overridden.
type ConcurrencyOverrides struct {
	MaxParallel              *int
	MaxBrowserContexts       *int
	MinBrowserContexts       *int
	Strategy                 *ScalingStrategy
	ContextIdleTimeout       *time.Duration
	ContextMaxAge            *time.Duration
	ContextMaxUses           *int
	AcquireTimeout           *time.Duration
	EnableResourceMonitoring *bool
	MonitoringInterval       *time.Duration
	GracefulShutdownTimeout  *time.Duration
	RetryOnContextFailure    *bool
	MaxContextRetries        *int
	MaxMemoryPercent         *float64
	CriticalMemoryPercent    *float64
	MinAvailableMemoryMb     *float64
	ContextMemoryEstimateMb  *float64
}

// WithOverrides returns a new, validated config; the receiver is never
// mutated.
func (c ConcurrencyConfig) WithOverrides(o ConcurrencyOverrides) (ConcurrencyConfig, error) {
	out := c
	if o.MaxParallel != nil {
		out.MaxParallel = *o.MaxParallel
	}
	if o.MaxBrowserContexts != nil {
		out.MaxBrowserContexts = *o.MaxBrowserContexts
	}
	if o.MinBrowserContexts != nil {
		out.MinBrowserContexts = *o.MinBrowserContexts
	}
	if o.Strategy != nil {
		out.Strategy = *o.Strategy
	}
	if o.ContextIdleTimeout != nil {
		out.ContextIdleTimeout = *o.ContextIdleTimeout
	}
	if o.ContextMaxAge != nil {
		out.ContextMaxAge = *o.ContextMaxAge
	}
	if o.ContextMaxUses != nil {
		out.ContextMaxUses = *o.ContextMaxUses
	}
	if o.AcquireTimeout != nil {
		out.AcquireTimeout = *o.AcquireTimeout
	}
	if o.EnableResourceMonitoring != nil {
		out.EnableResourceMonitoring = *o.EnableResourceMonitoring
	}
	if o.MonitoringInterval != nil {
		out.MonitoringInterval = *o.MonitoringInterval
	}
	if o.GracefulShutdownTimeout != nil {
		out.GracefulShutdownTimeout = *o.GracefulShutdownTimeout
	}
	if o.RetryOnContextFailure != nil {
		out.RetryOnContextFailure = *o.RetryOnContextFailure
	}
	if o.MaxContextRetries != nil {
		out.MaxContextRetries = *o.MaxContextRetries
	}
	if o.MaxMemoryPercent != nil {
		out.Limits.MaxMemoryPercent = *o.MaxMemoryPercent
	}
	if o.CriticalMemoryPercent != nil {
		out.Limits.CriticalMemoryPercent = *o.CriticalMemoryPercent
	}
	if o.MinAvailableMemoryMb != nil {
		out.Limits.MinAvailableMemoryMb = *o.MinAvailableMemoryMb
	}
	if o.ContextMemoryEstimateMb != nil {
		out.Limits.ContextMemoryEstimateMb = *o.ContextMemoryEstimateMb
	}
	if err := out.Validate(); err != nil {
		return ConcurrencyConfig{}, err
	}
	return out, nil
}

// LoadConcurrencyConfig builds a config from prefixed environment
// variables. Each key has its own default; a malformed value for one key
// logs a warning and falls back to that key's default without aborting the
// rest of the load. The assembled config is validated before it is
// returned.
func LoadConcurrencyConfig(envPrefix string) (ConcurrencyConfig, error) {
	if envPrefix == "" {
		envPrefix = DefaultEnvPrefix
	}
	v := viper.New()
	v.SetEnvPrefix(strings.TrimSuffix(envPrefix, "_"))
	v.AutomaticEnv()

	c := DefaultConcurrencyConfig()
	c.MaxParallel = loadInt(v, "max_parallel", c.MaxParallel)
	c.MaxBrowserContexts = loadInt(v, "max_browser_contexts", c.MaxBrowserContexts)
	c.MinBrowserContexts = loadInt(v, "min_browser_contexts", c.MinBrowserContexts)
	c.Strategy = loadStrategy(v, "scaling_strategy", c.Strategy)
	c.ContextIdleTimeout = loadDuration(v, "context_idle_timeout", c.ContextIdleTimeout)
	c.ContextMaxAge = loadDuration(v, "context_max_age", c.ContextMaxAge)
	c.ContextMaxUses = loadInt(v, "context_max_uses", c.ContextMaxUses)
	c.AcquireTimeout = loadDuration(v, "acquire_timeout", c.AcquireTimeout)
	c.EnableResourceMonitoring = loadBool(v, "enable_resource_monitoring", c.EnableResourceMonitoring)
	c.MonitoringInterval = loadDuration(v, "monitoring_interval", c.MonitoringInterval)
	c.GracefulShutdownTimeout = loadDuration(v, "graceful_shutdown_timeout", c.GracefulShutdownTimeout)
	c.RetryOnContextFailure = loadBool(v, "retry_on_context_failure", c.RetryOnContextFailure)
	c.MaxContextRetries = loadInt(v, "max_context_retries", c.MaxContextRetries)
	c.Limits.MaxMemoryPercent = loadFloat(v, "max_memory_percent", c.Limits.MaxMemoryPercent)
	c.Limits.CriticalMemoryPercent = loadFloat(v, "critical_memory_percent", c.Limits.CriticalMemoryPercent)
	c.Limits.MinAvailableMemoryMb = loadFloat(v, "min_available_memory_mb", c.Limits.MinAvailableMemoryMb)
	c.Limits.ContextMemoryEstimateMb = loadFloat(v, "context_memory_estimate_mb", c.Limits.ContextMemoryEstimateMb)

	if err := c.Validate(); err != nil {
		return ConcurrencyConfig{}, err
	}
	return c, nil
}

func loadInt(v *viper.Viper, key string, def int) int {
	raw := v.GetString(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Warnf("ignoring malformed value %q for %s, using default %d", raw, key, def)
		return def
	}
	return n
}

func loadFloat(v *viper.Viper, key string, def float64) float64 {
	raw := v.GetString(key)
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Warnf("ignoring malformed value %q for %s, using default %v", raw, key, def)
		return def
	}
	return f
}

func loadBool(v *viper.Viper, key string, def bool) bool {
	raw := v.GetString(key)
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		log.Warnf("ignoring malformed value %q for %s, using default %v", raw, key, def)
		return def
	}
	return b
}

// loadDuration accepts either a bare number of seconds ("30", "1.5") or a
// Go duration string ("90s", "2m").
func loadDuration(v *viper.Viper, key string, def time.Duration) time.Duration {
	raw := v.GetString(key)
	if raw == "" {
		return def
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Warnf("ignoring malformed value %q for %s, using default %s", raw, key, def)
		return def
	}
	return d
}

func loadStrategy(v *viper.Viper, key string, def ScalingStrategy) ScalingStrategy {
	raw := v.GetString(key)
	if raw == "" {
		return def
	}
	s, err := ParseScalingStrategy(raw)
	if err != nil {
		log.Warnf("ignoring malformed value %q for %s, using default %s", raw, key, def)
		return def
	}
	return s
}
