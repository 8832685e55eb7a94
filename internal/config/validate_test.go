package config

import (
	"fmt"
	"strings"
	"testing"
)

func TestValidateTieredEmptyWorkspaceRootIsFatal(t *testing.T) {
	cfg := Default()
	cfg.WorkspaceRoot = ""
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("empty workspace_root should be fatal")
	}
}

func TestValidateTieredZeroStorageCapIsFatal(t *testing.T) {
	cfg := Default()
	cfg.StorageCapBytes = 0
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("zero storage_cap_bytes should be fatal")
	}
}

func TestValidateTieredNoEncoderNamesIsFatal(t *testing.T) {
	cfg := Default()
	cfg.EncoderNames = nil
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("empty encoder_names should be fatal")
	}
}

func TestValidateTieredFrameRateClampingIsWarning(t *testing.T) {
	cfg := Default()
	cfg.DefaultFrameRate = 0
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped frame rate should be warning, not fatal: %v", result.Fatals)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for clamped frame rate")
	}
	if cfg.DefaultFrameRate != 1 {
		t.Fatalf("DefaultFrameRate = %d, want 1 (clamped)", cfg.DefaultFrameRate)
	}
}

func TestValidateTieredHighFrameRateClampingIsWarning(t *testing.T) {
	cfg := Default()
	cfg.DefaultFrameRate = 9999
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped frame rate should be warning, not fatal: %v", result.Fatals)
	}
	if cfg.DefaultFrameRate != 240 {
		t.Fatalf("DefaultFrameRate = %d, want 240", cfg.DefaultFrameRate)
	}
}

func TestValidateTieredTimeoutClamping(t *testing.T) {
	cfg := Default()
	cfg.UserStopTimeoutMs = 0
	cfg.ModeSwitchTimeoutMs = 0
	cfg.HardKillGraceMs = 0
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped timeouts should be warnings: %v", result.Fatals)
	}
	if cfg.UserStopTimeoutMs != 100 || cfg.ModeSwitchTimeoutMs != 100 || cfg.HardKillGraceMs != 100 {
		t.Fatalf("expected all timeouts clamped to 100, got %d/%d/%d", cfg.UserStopTimeoutMs, cfg.ModeSwitchTimeoutMs, cfg.HardKillGraceMs)
	}
}

func TestValidateTieredAudioChannelsClamping(t *testing.T) {
	cfg := Default()
	cfg.AudioChannels = 6
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("invalid audio channels should not be fatal")
	}
	if cfg.AudioChannels != 2 {
		t.Fatalf("AudioChannels = %d, want 2 (clamped)", cfg.AudioChannels)
	}
}

func TestValidateTieredUnknownLogLevelIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("unknown log level should not be fatal")
	}
	found := false
	for _, err := range result.Warnings {
		if strings.Contains(err.Error(), "log_level") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected warning about unknown log level")
	}
}

func TestValidateTieredInvalidLogFormatIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogFormat = "xml"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("invalid log format should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for invalid log format")
	}
}

func TestHasFatals(t *testing.T) {
	r := ValidationResult{}
	if r.HasFatals() {
		t.Fatal("HasFatals() on empty result should be false")
	}
	r.Fatals = append(r.Fatals, fmt.Errorf("test error"))
	if !r.HasFatals() {
		t.Fatal("HasFatals() should be true with a fatal error")
	}
}

func TestAllErrorsReturnsBoth(t *testing.T) {
	cfg := Default()
	cfg.StorageCapBytes = 0            // fatal
	cfg.LogFormat = "xml"              // warning
	result := cfg.ValidateTiered()

	all := result.AllErrors()
	if len(all) < 2 {
		t.Fatalf("AllErrors() returned %d errors, expected at least 2 (fatals + warnings)", len(all))
	}
}

func TestValidConfigHasNoErrors(t *testing.T) {
	cfg := Default()
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("default config has fatals: %v", result.Fatals)
	}
	if len(result.Warnings) > 0 {
		t.Fatalf("default config has warnings: %v", result.Warnings)
	}
}
