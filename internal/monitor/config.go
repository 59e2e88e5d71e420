package monitor

import "time"

// Config tunes the polling engine.
type Config struct {
	// PollInterval is the gap between scheduler cycles.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// Workers caps how many device probes run at once.
	Workers int `mapstructure:"workers"`

	// ProbeDeadline is the hard per-device budget, enforced on top of
	// whatever timeouts the adapters use internally.
	ProbeDeadline time.Duration `mapstructure:"probe_deadline"`

	// DetailedEvery forces an expensive detailed probe every N cycles.
	DetailedEvery int `mapstructure:"detailed_every"`

	// PingCount and PingTimeout tune the per-device ICMP adapter (distinct
	// from the batch ping prober).
	PingCount   int           `mapstructure:"ping_count"`
	PingTimeout time.Duration `mapstructure:"ping_timeout"`
}

// DefaultConfig returns production defaults: a 30 second cycle with 80
// workers and a 6 second hard deadline per device.
func DefaultConfig() Config {
	return Config{
		PollInterval:  30 * time.Second,
		Workers:       80,
		ProbeDeadline: 6 * time.Second,
		DetailedEvery: 10,
		PingCount:     3,
		PingTimeout:   4 * time.Second,
	}
}

// normalize fills zero values with defaults so a partial config section
// still yields a working engine.
func (c *Config) normalize() {
	def := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.ProbeDeadline <= 0 {
		c.ProbeDeadline = def.ProbeDeadline
	}
	if c.DetailedEvery <= 0 {
		c.DetailedEvery = def.DetailedEvery
	}
	if c.PingCount <= 0 {
		c.PingCount = def.PingCount
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = def.PingTimeout
	}
}
