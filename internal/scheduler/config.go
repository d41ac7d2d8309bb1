package scheduler

import (
	"time"
)

// Config controls the tick loop and per-job timeouts. How often each job is
// due comes from the reconcile tuning file so it can change without a restart.
type Config struct {
	TickInterval      time.Duration
	DailyCloseTimeout time.Duration
	ReconcileTimeout  time.Duration
	EnabledJobs       []string
}

func DefaultConfig() Config {
	return Config{
		TickInterval:      time.Minute,
		DailyCloseTimeout: 15 * time.Minute,
		ReconcileTimeout:  2 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = defaults.TickInterval
	}
	if c.DailyCloseTimeout <= 0 {
		c.DailyCloseTimeout = defaults.DailyCloseTimeout
	}
	if c.ReconcileTimeout <= 0 {
		c.ReconcileTimeout = defaults.ReconcileTimeout
	}
	return c
}
