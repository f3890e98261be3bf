package models

import "time"

// OutOfHoursGrace is fixed; it is not configurable.
const OutOfHoursGrace = 5 * time.Minute

// Config holds the guard's timer settings.
type Config struct {
	InactivityTimeout   time.Duration
	WarningDuration     time.Duration
	OfflineTimeout      time.Duration
	HeartbeatTimeout    time.Duration
	ScrollDebounce      time.Duration
	HoursCheckInterval  time.Duration
	RateWindow          time.Duration
	MaxActionsPerMinute int
	LoginPath           string
}

func DefaultConfig() Config {
	return Config{
		InactivityTimeout:   15 * time.Minute,
		WarningDuration:     60 * time.Second,
		OfflineTimeout:      2 * time.Minute,
		HeartbeatTimeout:    45 * time.Second,
		ScrollDebounce:      time.Second,
		HoursCheckInterval:  time.Minute,
		RateWindow:          time.Minute,
		MaxActionsPerMinute: 100,
		LoginPath:           "/login",
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = d.InactivityTimeout
	}
	if c.WarningDuration <= 0 {
		c.WarningDuration = d.WarningDuration
	}
	if c.OfflineTimeout <= 0 {
		c.OfflineTimeout = d.OfflineTimeout
	}
	if c.HeartbeatTimeout < 0 {
		c.HeartbeatTimeout = 0
	}
	if c.ScrollDebounce <= 0 {
		c.ScrollDebounce = d.ScrollDebounce
	}
	if c.HoursCheckInterval <= 0 {
		c.HoursCheckInterval = d.HoursCheckInterval
	}
	if c.RateWindow <= 0 {
		c.RateWindow = d.RateWindow
	}
	if c.MaxActionsPerMinute <= 0 {
		c.MaxActionsPerMinute = d.MaxActionsPerMinute
	}
	if c.LoginPath == "" {
		c.LoginPath = d.LoginPath
	}
	return c
}
