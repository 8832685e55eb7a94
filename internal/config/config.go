package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/viper"
)

// Config holds the settings the recorder core needs to build a CaptureInput,
// size its workspace, and pick encoder/timeout behavior. It is deliberately
// narrow: everything about what's recorded (monitor/window target, bitrate,
// output folder) arrives per-session via Settings and StartRecording's
// arguments, not here.
type Config struct {
	// Logging configuration
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	LogFile   string `mapstructure:"log_file"`

	// Default capture geometry, used when a session doesn't override it.
	DefaultCaptureWidth  int `mapstructure:"default_capture_width"`
	DefaultCaptureHeight int `mapstructure:"default_capture_height"`
	DefaultFrameRate     int `mapstructure:"default_frame_rate"`

	// Workspace / storage
	WorkspaceRoot      string `mapstructure:"workspace_root"`
	StorageCapBytes    int64  `mapstructure:"storage_cap_bytes"`
	SegmentTargetBytes int64  `mapstructure:"segment_target_bytes"`

	// Encoder discovery: directories searched, in order, for an encoder
	// binary before falling back to PATH.
	EncoderSearchPaths []string `mapstructure:"encoder_search_paths"`
	EncoderNames       []string `mapstructure:"encoder_names"`

	// Stop timeouts, in milliseconds.
	UserStopTimeoutMs   int `mapstructure:"user_stop_timeout_ms"`
	ModeSwitchTimeoutMs int `mapstructure:"mode_switch_timeout_ms"`
	HardKillGraceMs     int `mapstructure:"hard_kill_grace_ms"`

	// Audio settings. These are validated but not read by the audio
	// package, which uses its own fixed format and queue capacity.
	AudioSampleRate int `mapstructure:"audio_sample_rate"`
	AudioChannels   int `mapstructure:"audio_channels"`
	AudioQueueDepth int `mapstructure:"audio_queue_depth"`
}

func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",

		DefaultCaptureWidth:  1920,
		DefaultCaptureHeight: 1080,
		DefaultFrameRate:     30,

		WorkspaceRoot:      filepath.Join(GetDataDir(), "sessions"),
		StorageCapBytes:    20 * 1024 * 1024 * 1024, // 20 GiB
		SegmentTargetBytes: 512 * 1024 * 1024,       // 512 MiB

		EncoderSearchPaths: []string{
			filepath.Join(GetDataDir(), "bin"),
		},
		EncoderNames: []string{"ffmpeg", "ffmpeg.exe"},

		UserStopTimeoutMs:   5000,
		ModeSwitchTimeoutMs: 1500,
		HardKillGraceMs:     2000,

		AudioSampleRate: 48000,
		AudioChannels:   2,
		AudioQueueDepth: 64,
	}
}

// Load reads settings from cfgFile (or the platform config dir if empty),
// optionally layering a koanf-parsed defaults file under viper's
// flag/env/file precedence, then validates the result.
func Load(cfgFile, defaultsFile string) (*Config, error) {
	cfg := Default()

	if defaultsFile != "" {
		overlay, err := loadDefaultsOverlay(defaultsFile)
		if err != nil {
			return nil, fmt.Errorf("loading defaults file %q: %w", defaultsFile, err)
		}
		for key, value := range overlay {
			viper.SetDefault(key, value)
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("recorder")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("BREEZE_RECORDER")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	result := cfg.ValidateTiered()
	for _, err := range result.Warnings {
		slog.Warn("config validation", "error", err)
	}
	if result.HasFatals() {
		for _, err := range result.Fatals {
			slog.Error("config validation fatal", "error", err)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %v", result.Fatals[0])
	}

	return cfg, nil
}

// loadDefaultsOverlay parses a YAML defaults file with koanf and flattens it
// into dotted mapstructure-compatible keys, suitable for viper.SetDefault.
func loadDefaultsOverlay(path string) (map[string]any, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, err
	}
	return k.All(), nil
}

func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

func SaveTo(cfg *Config, cfgFile string) error {
	viper.Set("log_level", cfg.LogLevel)
	viper.Set("log_format", cfg.LogFormat)
	viper.Set("log_file", cfg.LogFile)
	viper.Set("default_capture_width", cfg.DefaultCaptureWidth)
	viper.Set("default_capture_height", cfg.DefaultCaptureHeight)
	viper.Set("default_frame_rate", cfg.DefaultFrameRate)
	viper.Set("workspace_root", cfg.WorkspaceRoot)
	viper.Set("storage_cap_bytes", cfg.StorageCapBytes)
	viper.Set("segment_target_bytes", cfg.SegmentTargetBytes)
	viper.Set("encoder_search_paths", cfg.EncoderSearchPaths)
	viper.Set("encoder_names", cfg.EncoderNames)
	viper.Set("user_stop_timeout_ms", cfg.UserStopTimeoutMs)
	viper.Set("mode_switch_timeout_ms", cfg.ModeSwitchTimeoutMs)
	viper.Set("hard_kill_grace_ms", cfg.HardKillGraceMs)
	viper.Set("audio_sample_rate", cfg.AudioSampleRate)
	viper.Set("audio_channels", cfg.AudioChannels)
	viper.Set("audio_queue_depth", cfg.AudioQueueDepth)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "recorder.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	if err := viper.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	return os.Chmod(cfgPath, 0600)
}

// GetDataDir returns the platform-specific data directory for recordings.
func GetDataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Breeze", "Recorder")
	case "darwin":
		return "/Library/Application Support/Breeze/Recorder"
	default:
		return "/var/lib/breeze-recorder"
	}
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Breeze", "Recorder")
	case "darwin":
		return "/Library/Application Support/Breeze/Recorder"
	default:
		return "/etc/breeze-recorder"
	}
}
