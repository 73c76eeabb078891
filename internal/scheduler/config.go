package scheduler

import "time"

// Config controls the billing run cadence.
type Config struct {
	RunInterval time.Duration
	// LookbackMonths is how many already-elapsed months each run tries
	// to cover. 1 means only the previous calendar month.
	LookbackMonths int
}

func DefaultConfig() Config {
	return Config{
		RunInterval:    time.Hour,
		LookbackMonths: 1,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.LookbackMonths <= 0 {
		c.LookbackMonths = defaults.LookbackMonths
	}
	return c
}
