package sweep

import "time"

// Config controls the sweep trigger and its dispatch pool.
type Config struct {
	Enabled   bool
	Interval  time.Duration // default 60s
	Workers   int           // default 4
	QueueSize int           // default 256
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 60 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	return c
}

// Stats is a point-in-time snapshot of one sweep pass.
type Stats struct {
	At               time.Time
	RecurringChecked int
	RecurringDue     int
	OneTimeChecked   int
	OneTimeDue       int
	Dropped          int
	CleanedDirs      int
	Took             time.Duration
}
