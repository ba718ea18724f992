package config

import "testing"

func TestValidateHeartbeatClampingIsWarning(t *testing.T) {
	cfg := Default()
	cfg.HeartbeatIntervalSeconds = 0
	result := cfg.Validate()

	if result.HasFatals() {
		t.Fatalf("clamped interval should be warning, not fatal: %v", result.Fatals)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for clamped interval")
	}
	if cfg.HeartbeatIntervalSeconds != 20 {
		t.Fatalf("HeartbeatIntervalSeconds = %d, want 20 (defaulted)", cfg.HeartbeatIntervalSeconds)
	}
}

func TestValidateHighHeartbeatClampingIsWarning(t *testing.T) {
	cfg := Default()
	cfg.HeartbeatIntervalSeconds = 9999
	result := cfg.Validate()
	if result.HasFatals() {
		t.Fatalf("clamped interval should be warning, not fatal: %v", result.Fatals)
	}
	if cfg.HeartbeatIntervalSeconds != 3600 {
		t.Fatalf("HeartbeatIntervalSeconds = %d, want 3600 (clamped)", cfg.HeartbeatIntervalSeconds)
	}
}

func TestValidateConcurrencyClamping(t *testing.T) {
	cfg := Default()
	cfg.MaxConcurrentInputTasks = 0
	cfg.InputQueueSize = 0
	result := cfg.Validate()
	if result.HasFatals() {
		t.Fatalf("clamped concurrency should be warning: %v", result.Fatals)
	}
	if cfg.MaxConcurrentInputTasks != 1 {
		t.Fatalf("MaxConcurrentInputTasks = %d, want 1", cfg.MaxConcurrentInputTasks)
	}
	if cfg.InputQueueSize != 1 {
		t.Fatalf("InputQueueSize = %d, want 1", cfg.InputQueueSize)
	}
}

func TestValidateUnknownLogLevelIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	result := cfg.Validate()
	if result.HasFatals() {
		t.Fatal("unknown log level should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for unknown log level")
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("LogLevel = %q, want info (defaulted)", cfg.LogLevel)
	}
}

func TestValidateInvalidLogFormatIsFatal(t *testing.T) {
	cfg := Default()
	cfg.LogFormat = "xml"
	result := cfg.Validate()
	if !result.HasFatals() {
		t.Fatal("invalid log format should be fatal")
	}
}

func TestHasFatals(t *testing.T) {
	r := ValidationResult{}
	if r.HasFatals() {
		t.Fatal("HasFatals() on empty result should be false")
	}
}

func TestValidConfigHasNoErrors(t *testing.T) {
	cfg := Default()
	result := cfg.Validate()
	if result.HasFatals() {
		t.Fatalf("valid config has fatals: %v", result.Fatals)
	}
	if len(result.Warnings) > 0 {
		t.Fatalf("valid config has warnings: %v", result.Warnings)
	}
}
