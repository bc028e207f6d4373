package scheduler

import (
	"time"

	"github.com/smallbiznis/keygate/internal/config"
)

// Config controls scheduler intervals and maintenance thresholds.
type Config struct {
	RunInterval         time.Duration
	JobTimeout          time.Duration
	LockTTL             time.Duration
	RunOnStart          bool
	RetentionDays       int
	CleanupBatchSize    int
	SuspiciousThreshold int
	SuspiciousWindow    time.Duration
	EnabledJobs         []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:         time.Hour,
		JobTimeout:          2 * time.Minute,
		LockTTL:             5 * time.Minute,
		RetentionDays:       30,
		CleanupBatchSize:    50,
		SuspiciousThreshold: 10,
		SuspiciousWindow:    24 * time.Hour,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:         cfg.Scheduler.Interval,
		JobTimeout:          cfg.Scheduler.JobTimeout,
		LockTTL:             cfg.Scheduler.LockTTL,
		RunOnStart:          cfg.Scheduler.RunOnStart,
		RetentionDays:       cfg.AccessKey.RetentionDays,
		CleanupBatchSize:    cfg.AccessKey.CleanupBatchSize,
		SuspiciousThreshold: cfg.AccessKey.SuspiciousThreshold,
		SuspiciousWindow:    cfg.AccessKey.SuspiciousWindow,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = defaults.RetentionDays
	}
	if c.CleanupBatchSize <= 0 {
		c.CleanupBatchSize = defaults.CleanupBatchSize
	}
	if c.SuspiciousThreshold <= 0 {
		c.SuspiciousThreshold = defaults.SuspiciousThreshold
	}
	if c.SuspiciousWindow <= 0 {
		c.SuspiciousWindow = defaults.SuspiciousWindow
	}
	return c
}
