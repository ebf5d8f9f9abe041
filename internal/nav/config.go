package nav

import (
	"fmt"
	"time"
)

// Config tunes a tracker session. Zero values select the defaults.
type Config struct {
	OffRouteThresholdM float64
	MinSpeedMPS        float64
	HistoryCapacity    int
	DefaultSpeedMPS    float64

	// QueueSize bounds the number of fixes waiting to be processed.
	QueueSize int

	// Search window around the last matched segment, in segments.
	BackWindow    int
	ForwardWindow int
	// LostSignalGap forces a full-route scan when fixes stop for this long.
	LostSignalGap time.Duration

	// StepToleranceM treats a step as completed this close to its end.
	// Zero keeps the exact boundary.
	StepToleranceM float64
}

const (
	DefaultOffRouteThresholdM = 50.0
	DefaultMinSpeedMPS        = 0.5
	DefaultHistoryCapacity    = 10
	DefaultDefaultSpeedMPS    = 10.0
	DefaultQueueSize          = 64
	DefaultBackWindow         = 2
	DefaultForwardWindow      = 50
	DefaultLostSignalGap      = 30 * time.Second
)

// DefaultConfig returns a Config with every field set to its default.
func DefaultConfig() Config {
	c := Config{}
	_ = c.DefaultAndValidate()
	return c
}

// DefaultAndValidate fills zero fields with defaults and rejects negative ones.
func (c *Config) DefaultAndValidate() error {
	if c.OffRouteThresholdM < 0 {
		return fmt.Errorf("off_route_threshold_m must be >= 0")
	}
	if c.MinSpeedMPS < 0 {
		return fmt.Errorf("min_speed_mps must be >= 0")
	}
	if c.HistoryCapacity < 0 {
		return fmt.Errorf("history_capacity must be >= 0")
	}
	if c.DefaultSpeedMPS < 0 {
		return fmt.Errorf("default_speed_mps must be >= 0")
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("queue_size must be >= 0")
	}
	if c.BackWindow < 0 || c.ForwardWindow < 0 {
		return fmt.Errorf("search windows must be >= 0")
	}
	if c.LostSignalGap < 0 {
		return fmt.Errorf("lost_signal_gap must be >= 0")
	}
	if c.StepToleranceM < 0 {
		return fmt.Errorf("step_tolerance_m must be >= 0")
	}

	if c.OffRouteThresholdM == 0 {
		c.OffRouteThresholdM = DefaultOffRouteThresholdM
	}
	if c.MinSpeedMPS == 0 {
		c.MinSpeedMPS = DefaultMinSpeedMPS
	}
	if c.HistoryCapacity == 0 {
		c.HistoryCapacity = DefaultHistoryCapacity
	}
	if c.HistoryCapacity < 2 {
		// Two entries are the minimum for a two-point estimate.
		c.HistoryCapacity = 2
	}
	if c.DefaultSpeedMPS == 0 {
		c.DefaultSpeedMPS = DefaultDefaultSpeedMPS
	}
	if c.QueueSize == 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.BackWindow == 0 {
		c.BackWindow = DefaultBackWindow
	}
	if c.ForwardWindow == 0 {
		c.ForwardWindow = DefaultForwardWindow
	}
	if c.LostSignalGap == 0 {
		c.LostSignalGap = DefaultLostSignalGap
	}
	return nil
}
