package config

import (
	"fmt"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "warning": true, "error": true,
}

// ValidationResult separates problems that block startup (Fatals) from
// problems that are logged and auto-corrected (Warnings).
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool { return len(r.Fatals) > 0 }

// Validate checks Config for invalid values. Out-of-range numeric fields are
// corrected in place and reported as warnings: values above a maximum and
// the input pool sizes are clamped to the bound, while a heartbeat interval
// or signaling request timeout below 1 is reset to its default (20 and 10).
// Structurally invalid fields (bad log format) are fatal.
func (c *Config) Validate() ValidationResult {
	var r ValidationResult

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Fatals = append(r.Fatals, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}
	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid, defaulting to info", c.LogLevel))
		c.LogLevel = "info"
	}

	if c.HeartbeatIntervalSeconds < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("heartbeat_interval_seconds %d is below minimum 1, defaulting to 20", c.HeartbeatIntervalSeconds))
		c.HeartbeatIntervalSeconds = 20
	} else if c.HeartbeatIntervalSeconds > 3600 {
		r.Warnings = append(r.Warnings, fmt.Errorf("heartbeat_interval_seconds %d exceeds maximum 3600, clamping", c.HeartbeatIntervalSeconds))
		c.HeartbeatIntervalSeconds = 3600
	}

	if c.SignalingRequestTimeoutS < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("signaling_request_timeout_seconds %d is below minimum 1, defaulting to 10", c.SignalingRequestTimeoutS))
		c.SignalingRequestTimeoutS = 10
	}

	if c.MaxConcurrentInputTasks < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("max_concurrent_input_tasks %d is below minimum 1, clamping", c.MaxConcurrentInputTasks))
		c.MaxConcurrentInputTasks = 1
	}
	if c.InputQueueSize < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("input_queue_size %d is below minimum 1, clamping", c.InputQueueSize))
		c.InputQueueSize = 1
	}

	return r
}
