// Package scheduler evaluates feeding schedules and enqueues due slots while
// holding leadership.
package scheduler

import (
	"fmt"
	"time"
)

// Config defines the scheduler configuration.
type Config struct {
	// Interval is the delay between leadership attempts.
	Interval time.Duration `yaml:"interval"`
	// CatchUpWindow is how late a slot may still fire.
	CatchUpWindow time.Duration `yaml:"catch_up_window"`
	// Timezone names the zone used for "today" and minute-of-day. Empty means
	// the process local zone.
	Timezone string `yaml:"timezone"`
	// MaxConcurrency bounds concurrent enqueues within one tick.
	MaxConcurrency int `yaml:"max_concurrency"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		Interval:       15 * time.Second,
		CatchUpWindow:  30 * time.Minute,
		MaxConcurrency: 4,
	}
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler timezone: %w", err)
	}
	return loc, nil
}

// Validate rejects settings the loop cannot run with.
func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive, got %s", c.Interval)
	}
	if c.CatchUpWindow < time.Minute {
		return fmt.Errorf("catch-up window must be at least 1m, got %s", c.CatchUpWindow)
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max concurrency must be at least 1, got %d", c.MaxConcurrency)
	}
	_, err := c.Location()
	return err
}

func (c *Config) windowMinutes() int {
	return int(c.CatchUpWindow / time.Minute)
}
