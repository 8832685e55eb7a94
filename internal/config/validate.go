package config

import (
	"fmt"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidationResult separates config problems that must block startup
// (Fatals) from ones that are auto-corrected and only worth a log line
// (Warnings).
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	all = append(all, r.Warnings...)
	return all
}

// ValidateTiered checks the config for invalid values. Zero/negative values
// that would otherwise panic downstream (zero-length queues, zero frame
// rate) are clamped to safe defaults and reported as warnings; values that
// can't be safely guessed are fatal.
func (c *Config) ValidateTiered() ValidationResult {
	var result ValidationResult

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	if c.DefaultCaptureWidth <= 0 {
		result.Warnings = append(result.Warnings, fmt.Errorf("default_capture_width %d is invalid, clamping to 1920", c.DefaultCaptureWidth))
		c.DefaultCaptureWidth = 1920
	}
	if c.DefaultCaptureHeight <= 0 {
		result.Warnings = append(result.Warnings, fmt.Errorf("default_capture_height %d is invalid, clamping to 1080", c.DefaultCaptureHeight))
		c.DefaultCaptureHeight = 1080
	}

	if c.DefaultFrameRate < 1 {
		result.Warnings = append(result.Warnings, fmt.Errorf("default_frame_rate %d is below minimum 1, clamping", c.DefaultFrameRate))
		c.DefaultFrameRate = 1
	} else if c.DefaultFrameRate > 240 {
		result.Warnings = append(result.Warnings, fmt.Errorf("default_frame_rate %d exceeds maximum 240, clamping", c.DefaultFrameRate))
		c.DefaultFrameRate = 240
	}

	if c.WorkspaceRoot == "" {
		result.Fatals = append(result.Fatals, fmt.Errorf("workspace_root must not be empty"))
	}

	if c.StorageCapBytes <= 0 {
		result.Fatals = append(result.Fatals, fmt.Errorf("storage_cap_bytes %d must be positive", c.StorageCapBytes))
	}

	if c.SegmentTargetBytes <= 0 {
		result.Warnings = append(result.Warnings, fmt.Errorf("segment_target_bytes %d is invalid, clamping to 512MiB", c.SegmentTargetBytes))
		c.SegmentTargetBytes = 512 * 1024 * 1024
	}

	if len(c.EncoderNames) == 0 {
		result.Fatals = append(result.Fatals, fmt.Errorf("encoder_names must list at least one candidate binary"))
	}

	if c.UserStopTimeoutMs < 100 {
		result.Warnings = append(result.Warnings, fmt.Errorf("user_stop_timeout_ms %d is below minimum 100, clamping", c.UserStopTimeoutMs))
		c.UserStopTimeoutMs = 100
	}
	if c.ModeSwitchTimeoutMs < 100 {
		result.Warnings = append(result.Warnings, fmt.Errorf("mode_switch_timeout_ms %d is below minimum 100, clamping", c.ModeSwitchTimeoutMs))
		c.ModeSwitchTimeoutMs = 100
	}
	if c.HardKillGraceMs < 100 {
		result.Warnings = append(result.Warnings, fmt.Errorf("hard_kill_grace_ms %d is below minimum 100, clamping", c.HardKillGraceMs))
		c.HardKillGraceMs = 100
	}

	if c.AudioSampleRate != 44100 && c.AudioSampleRate != 48000 {
		result.Warnings = append(result.Warnings, fmt.Errorf("audio_sample_rate %d is unusual (expected 44100 or 48000)", c.AudioSampleRate))
	}
	if c.AudioChannels < 1 || c.AudioChannels > 2 {
		result.Warnings = append(result.Warnings, fmt.Errorf("audio_channels %d is invalid, clamping to 2", c.AudioChannels))
		c.AudioChannels = 2
	}
	if c.AudioQueueDepth < 1 {
		result.Warnings = append(result.Warnings, fmt.Errorf("audio_queue_depth %d is below minimum 1, clamping", c.AudioQueueDepth))
		c.AudioQueueDepth = 1
	}

	return result
}
