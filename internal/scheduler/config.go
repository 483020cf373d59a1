// Package scheduler drains the message bus and runs delegated tasks on a
// bounded worker pool.
package scheduler

import "time"

// Config defines the dispatcher configuration.
type Config struct {
	// GlobalMax is the maximum number of concurrent task workers.
	GlobalMax int `yaml:"global_max"`
	// PollInterval is how often the bus is drained.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() *Config {
	return &Config{
		GlobalMax:    4,
		PollInterval: 500 * time.Millisecond,
	}
}

func (c *Config) normalize() {
	def := DefaultConfig()
	if c.GlobalMax <= 0 {
		c.GlobalMax = def.GlobalMax
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
}
