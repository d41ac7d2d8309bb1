package worker

import "time"

// Config controls the daily close worker.
type Config struct {
	// CatchUpDays is how many closed days before yesterday are re-checked on each run.
	CatchUpDays int
	RunTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		CatchUpDays: 2,
		RunTimeout:  10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.CatchUpDays < 0 {
		c.CatchUpDays = defaults.CatchUpDays
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = defaults.RunTimeout
	}
	return c
}
