package config

import (
	"fmt"
	"time"

	"github.com/kilianp07/smartbattery/core/command"
	"github.com/kilianp07/smartbattery/core/waveform"
)

// SimulatorConfig tunes the waveform and the command bounds.
type SimulatorConfig struct {
	// IntervalSeconds is the initial report interval.
	IntervalSeconds      int   `json:"interval_seconds"`
	MaxIntervalSeconds   int   `json:"max_interval_seconds"`
	MaxDisconnectDelayMS int64 `json:"max_disconnect_delay_ms"`
	// Seed makes the random draws reproducible; 0 picks a time based seed.
	Seed uint64 `json:"seed"`
}

// SetDefaults applies sane defaults.
func (c *SimulatorConfig) SetDefaults() {
	if c.IntervalSeconds == 0 {
		c.IntervalSeconds = waveform.DefaultIntervalSeconds
	}
	if c.MaxIntervalSeconds == 0 {
		c.MaxIntervalSeconds = command.DefaultMaxIntervalSeconds
	}
	if c.MaxDisconnectDelayMS == 0 {
		c.MaxDisconnectDelayMS = command.DefaultMaxDisconnectDelay.Milliseconds()
	}
}

// Validate checks the bounds are consistent.
func (c SimulatorConfig) Validate() error {
	if c.MaxIntervalSeconds < 1 {
		return fmt.Errorf("simulator.max_interval_seconds must be positive")
	}
	if c.IntervalSeconds < 1 || c.IntervalSeconds > c.MaxIntervalSeconds {
		return fmt.Errorf("simulator.interval_seconds must be in [1, %d]", c.MaxIntervalSeconds)
	}
	if c.MaxDisconnectDelayMS < 0 {
		return fmt.Errorf("simulator.max_disconnect_delay_ms must not be negative")
	}
	return nil
}

// Limits converts the bounds for the command dispatcher.
func (c SimulatorConfig) Limits() command.Limits {
	return command.Limits{
		MaxIntervalSeconds: c.MaxIntervalSeconds,
		MaxDisconnectDelay: time.Duration(c.MaxDisconnectDelayMS) * time.Millisecond,
	}
}
