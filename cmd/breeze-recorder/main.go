package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/recorder/internal/config"
	"github.com/breeze-rmm/recorder/internal/logging"
	"github.com/breeze-rmm/recorder/internal/recorder"
)

var (
	version = "0.1.0"
	cfgFile string

	captureSource  string
	windowTitle    string
	windowHandle   string
	frameRate      int
	bitrateKbps    int64
	videoQuality   string
	enableAudio    bool
	enableDiagnostics bool
	outputFolder   string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "breeze-recorder",
	Short: "Breeze desktop recording engine",
	Long:  `breeze-recorder drives a single recording session: monitor or window capture, system audio, and automatic recovery from window loss.`,
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Start a recording session and block until it's stopped",
	Run: func(cmd *cobra.Command, args []string) {
		runRecord()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the recording session started by a running 'record' process",
	Run: func(cmd *cobra.Command, args []string) {
		runStop()
	},
}

var listWindowsCmd = &cobra.Command{
	Use:   "list-windows",
	Short: "List the currently capturable top-level windows",
	Run: func(cmd *cobra.Command, args []string) {
		runListWindows()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("breeze-recorder v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is the platform config dir)")

	recordCmd.Flags().StringVar(&captureSource, "source", "monitor", `capture source: "monitor" or "window"`)
	recordCmd.Flags().StringVar(&windowTitle, "window-title", "", "window title to capture (required for window capture if no handle is known)")
	recordCmd.Flags().StringVar(&windowHandle, "window-handle", "", "window handle to capture, as a decimal string")
	recordCmd.Flags().IntVar(&frameRate, "fps", 30, "requested frame rate")
	recordCmd.Flags().Int64Var(&bitrateKbps, "bitrate-kbps", 4000, "target video bitrate in kbps")
	recordCmd.Flags().StringVar(&videoQuality, "quality", "balanced", "informational video quality label")
	recordCmd.Flags().BoolVar(&enableAudio, "audio", false, "include system audio loopback")
	recordCmd.Flags().BoolVar(&enableDiagnostics, "diagnostics", false, "log per-second encoder diagnostics")
	recordCmd.Flags().StringVar(&outputFolder, "output", "", "output folder (default is the platform workspace root)")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(listWindowsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initLogging(cfg *config.Config) {
	var output io.Writer = os.Stdout
	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, 10, 3)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v (logging to stdout)\n", cfg.LogFile, err)
		} else {
			output = logging.TeeWriter(os.Stdout, rw)
		}
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, output)
	log = logging.L("main")
}

func loadConfig() *config.Config {
	cfg, err := config.Load(cfgFile, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// pidFilePath is a fixed per-workspace marker a running record process
// writes its PID to, so a separate stop invocation can find it. There is
// no daemon; a record process only ever serves the session it started.
func pidFilePath(cfg *config.Config) string {
	return filepath.Join(cfg.WorkspaceRoot, "record.pid")
}

func runRecord() {
	cfg := loadConfig()
	initLogging(cfg)

	settings := recorder.Settings{
		CaptureSource:              recorder.CaptureSource(captureSource),
		CaptureWindowHandle:        windowHandle,
		CaptureWindowTitle:         windowTitle,
		FrameRate:                  frameRate,
		BitrateBPS:                 bitrateKbps * 1000,
		VideoQuality:               videoQuality,
		EnableSystemAudio:          enableAudio,
		EnableRecordingDiagnostics: enableDiagnostics,
	}

	folder := outputFolder
	if folder == "" {
		folder = cfg.WorkspaceRoot
	}
	if err := os.MkdirAll(cfg.WorkspaceRoot, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create workspace root: %v\n", err)
		os.Exit(1)
	}

	rec, err := recorder.New(cfg, recorder.NewSlogEventSink())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize recorder: %v\n", err)
		os.Exit(1)
	}

	outputPath, width, height, err := rec.StartRecording(context.Background(), settings, folder, cfg.StorageCapBytes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start recording: %v\n", err)
		os.Exit(1)
	}
	log.Info("recording started", "output", outputPath, "width", width, "height", height)

	if err := os.WriteFile(pidFilePath(cfg), []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		log.Warn("failed to write pid file, 'stop' won't be able to find this process", "error", err)
	}
	defer os.Remove(pidFilePath(cfg))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info("stop requested, finalizing recording")

	if _, err := rec.StopRecording(); err != nil {
		fmt.Fprintf(os.Stderr, "stop failed: %v\n", err)
		os.Exit(1)
	}

	for rec.Status().IsRecording {
		time.Sleep(100 * time.Millisecond)
	}
	fmt.Println(outputPath)
}

func runStop() {
	cfg := loadConfig()
	raw, err := os.ReadFile(pidFilePath(cfg))
	if err != nil {
		fmt.Fprintln(os.Stderr, "no active recording process found")
		os.Exit(1)
	}
	pid, err := strconv.Atoi(string(raw))
	if err != nil {
		fmt.Fprintln(os.Stderr, "corrupt pid file")
		os.Exit(1)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "process %d not found: %v\n", pid, err)
		os.Exit(1)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		fmt.Fprintf(os.Stderr, "failed to signal process %d: %v\n", pid, err)
		os.Exit(1)
	}
	fmt.Printf("stop signal sent to pid %d\n", pid)
}

func runListWindows() {
	cfg := loadConfig()
	rec, err := recorder.New(cfg, recorder.NewSlogEventSink())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize recorder: %v\n", err)
		os.Exit(1)
	}
	windows := rec.ListCaptureWindows()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(windows); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode window list: %v\n", err)
		os.Exit(1)
	}
}
