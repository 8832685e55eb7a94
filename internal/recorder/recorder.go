// Package recorder implements the Session Driver: it owns a recording
// session's lifecycle end to end, driving the Segment Runner through
// repeated segments and handing the result to the Segment Finalizer.
package recorder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/breeze-rmm/recorder/internal/config"
	"github.com/breeze-rmm/recorder/internal/logging"
	"github.com/breeze-rmm/recorder/internal/recorder/audio"
	"github.com/breeze-rmm/recorder/internal/recorder/finalize"
	"github.com/breeze-rmm/recorder/internal/recorder/segment"
	"github.com/breeze-rmm/recorder/internal/recorder/window"
)

var log = logging.L("recorder")

const (
	maxBitrateWithAudioBPS = 16_000_000
	maxConsecutiveFailures = 3
	segmentSettleDelay     = 100 * time.Millisecond
	expectedDurationProxySeconds = 600 // storage-budget sizing proxy
)

// CaptureInput is the resolved recording target, constructed at session
// start and discarded at session end. windowHandle is set while the input
// is resolved at session start and is not refreshed afterwards;
// useExclusiveWindowCapture is cleared in place by the Segment Runner on
// fallback while the session runs.
type CaptureInput struct {
	Source      CaptureSource
	WindowTitle string

	windowHandle              atomic.Uintptr
	useExclusiveWindowCapture atomic.Bool
}

func (c *CaptureInput) target() window.Target {
	return window.Target{Handle: c.windowHandle.Load(), Title: c.WindowTitle}
}

// RecordingState is the process-wide singleton tracking whether a session
// is active. Only StartRecording, StopRecording, and a session's own
// finalization step may mutate it, all under mu.
type RecordingState struct {
	mu                sync.RWMutex
	isRecording       bool
	isStopping        bool
	currentOutputPath string
	stopCh            chan struct{}
}

func (s *RecordingState) snapshot() (recording, stopping bool, outputPath string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRecording, s.isStopping, s.currentOutputPath
}

// Status reports whether a session is currently active.
type Status struct {
	IsRecording       bool
	IsStopping        bool
	CurrentOutputPath string
}

// Recorder is the process-wide driver; one instance serves the whole
// process, serializing session start/stop against its RecordingState.
type Recorder struct {
	cfg      *config.Config
	events   EventSink
	selector *segment.Selector
	probe    *window.Probe

	state RecordingState

	startMu sync.Mutex // serializes the start_recording reentrancy check
}

// New constructs a Recorder, locating the encoder binary immediately so a
// missing encoder is a hard error at construction rather than at the first
// start_recording call.
func New(cfg *config.Config, events EventSink) (*Recorder, error) {
	selector, err := segment.NewSelector(cfg.EncoderSearchPaths, cfg.EncoderNames)
	if err != nil {
		return nil, fmt.Errorf("locate encoder binary: %w", err)
	}
	if events == nil {
		events = NewSlogEventSink()
	}
	return &Recorder{
		cfg:      cfg,
		events:   events,
		selector: selector,
		probe:    window.NewProbe(),
	}, nil
}

// Status reports the current session state.
func (r *Recorder) Status() Status {
	recording, stopping, path := r.state.snapshot()
	return Status{IsRecording: recording, IsStopping: stopping, CurrentOutputPath: path}
}

// ListCaptureWindows returns the currently capturable top-level windows.
func (r *Recorder) ListCaptureWindows() []window.Window {
	return r.probe.EnumerateWindows()
}

// StartRecording resolves settings into a capture input, prepares the
// session, and runs it on a background goroutine. It returns once the
// prelude has either succeeded (and the session is underway) or failed.
func (r *Recorder) StartRecording(ctx context.Context, settings Settings, outputFolder string, maxStorageBytes int64) (outputPath string, width, height uint32, err error) {
	r.startMu.Lock()
	defer r.startMu.Unlock()

	r.state.mu.Lock()
	if r.state.isRecording {
		r.state.mu.Unlock()
		return "", 0, 0, fmt.Errorf("a recording session is already in progress")
	}
	r.state.mu.Unlock()

	settings, err = settings.sanitize()
	if err != nil {
		return "", 0, 0, err
	}

	if err := os.MkdirAll(outputFolder, 0o755); err != nil {
		return "", 0, 0, fmt.Errorf("create output folder: %w", err)
	}
	estimate := estimateSessionBytes(settings.BitrateBPS, expectedDurationProxySeconds)
	if deleted, evErr := evictIfNeeded(outputFolder, estimate, maxStorageBytes); evErr != nil {
		log.Warn("storage eviction check failed", "error", evErr)
	} else if deleted > 0 {
		r.events.StorageCleanup(deleted)
	}

	capture, err := r.resolveCaptureInput(settings)
	if err != nil {
		return "", 0, 0, err
	}

	width, height, region, err := r.resolveDimensions(capture)
	if err != nil {
		return "", 0, 0, err
	}

	bitrate := settings.BitrateBPS
	if settings.EnableSystemAudio && bitrate > maxBitrateWithAudioBPS {
		bitrate = maxBitrateWithAudioBPS
	}

	if settings.EnableSystemAudio {
		if err := validateAudioAvailable(ctx); err != nil {
			return "", 0, 0, fmt.Errorf("audio validation failed: %w", err)
		}
	}

	stamp := time.Now().Format("20060102_150405")
	finalPath := filepath.Join(outputFolder, fmt.Sprintf("screen_recording_%s.mp4", stamp))

	usesWorkspace := capture.Source == CaptureSourceWindow
	var workspaceDir string
	if usesWorkspace {
		workspaceDir = filepath.Join(outputFolder, fmt.Sprintf(".screen_recording_%s_segments_%s", stamp, uuid.NewString()))
		if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
			return "", 0, 0, fmt.Errorf("create segment workspace: %w", err)
		}
	}

	stopCh := make(chan struct{})
	r.state.mu.Lock()
	r.state.isRecording = true
	r.state.isStopping = false
	r.state.currentOutputPath = finalPath
	r.state.stopCh = stopCh
	r.state.mu.Unlock()

	initialMode := segment.ModeMonitor
	if capture.Source == CaptureSourceWindow {
		initialMode = segment.ModeWindow
	}

	sess := &sessionRun{
		recorder:     r,
		settings:     settings,
		capture:      capture,
		bitrateBPS:   bitrate,
		width:        width,
		height:       height,
		region:       region,
		finalPath:    finalPath,
		workspaceDir: workspaceDir,
		stopCh:       stopCh,
		mode:         initialMode,
	}
	go sess.run(context.Background())

	return finalPath, width, height, nil
}

// StopRecording signals the active session to stop. It's idempotent: a
// second call while the first is still stopping returns the same output
// path without error.
func (r *Recorder) StopRecording() (string, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	if !r.state.isRecording {
		return "", fmt.Errorf("no recording session is active")
	}
	outputPath := r.state.currentOutputPath
	if r.state.isStopping {
		return outputPath, nil
	}
	r.state.isStopping = true
	close(r.state.stopCh)
	return outputPath, nil
}

func (r *Recorder) resolveCaptureInput(settings Settings) (*CaptureInput, error) {
	capture := &CaptureInput{Source: settings.CaptureSource}
	capture.useExclusiveWindowCapture.Store(true)

	if settings.CaptureSource == CaptureSourceMonitor {
		return capture, nil
	}

	handle := parseWindowHandle(settings.CaptureWindowHandle)
	title := settings.CaptureWindowTitle

	if handle != 0 {
		capture.windowHandle.Store(handle)
		capture.WindowTitle = title
		if r.probe.Evaluate(window.Target{Handle: handle, Title: title}) != window.Closed {
			return capture, nil
		}
	}

	if title == "" {
		return nil, fmt.Errorf("window is no longer available and no title was provided to re-resolve it")
	}
	for _, w := range r.probe.EnumerateWindows() {
		if w.Title == title {
			capture.windowHandle.Store(w.Handle)
			capture.WindowTitle = title
			return capture, nil
		}
	}
	return nil, fmt.Errorf("window %q not found among current windows", title)
}

func (r *Recorder) resolveDimensions(capture *CaptureInput) (width, height uint32, region *window.Region, err error) {
	if capture.Source != CaptureSourceWindow {
		w, h := uint32(r.cfg.DefaultCaptureWidth), uint32(r.cfg.DefaultCaptureHeight)
		return sanitizeDims(w), sanitizeDims(h), nil, nil
	}
	resolved, err := r.probe.ResolveRegion(capture.target())
	if err != nil {
		return 0, 0, nil, fmt.Errorf("resolve window capture region: %w", err)
	}
	return resolved.Width, resolved.Height, &resolved, nil
}

func sanitizeDims(v uint32) uint32 {
	if v < 2 {
		return 2
	}
	if v%2 != 0 {
		v--
	}
	if v < 2 {
		v = 2
	}
	return v
}

// validateAudioAvailable constructs and immediately discards a loopback
// pipeline to confirm the device opens before committing to a session.
func validateAudioAvailable(ctx context.Context) error {
	pipeline, err := audio.New()
	if err != nil {
		return err
	}
	defer pipeline.Stop()

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pipeline.Start(probeCtx); err != nil {
		return err
	}
	return nil
}

// sessionRun is the per-session state the background goroutine owns: the
// capture input, workspace, and accumulated segment list. It is discarded
// once the session ends.
type sessionRun struct {
	recorder *Recorder
	settings Settings
	capture  *CaptureInput

	bitrateBPS int64
	width      uint32
	height     uint32
	region     *window.Region

	finalPath    string
	workspaceDir string
	stopCh       chan struct{}

	mode          segment.Mode
	segmentIndex  int
	segmentPaths  []string
	consecutiveFailures int

	activeWarning          string
	lastAvailabilityReason window.Availability
}

func (s *sessionRun) run(ctx context.Context) {
	runner := segment.NewRunner()

loop:
	for {
		outputPath := s.nextSegmentPath()
		cfg, opts, err := s.buildSegmentConfigAndOptions(ctx, outputPath)
		if err != nil {
			log.Error("failed to prepare segment", "error", err)
			break
		}

		result, err := runner.Run(ctx, cfg, opts)
		if err != nil {
			log.Error("segment runner failed", "error", err)
			s.consecutiveFailures++
		} else {
			if result.OutputWritten {
				s.segmentPaths = append(s.segmentPaths, outputPath)
			}
			if result.EncoderSucceeded {
				s.consecutiveFailures = 0
			} else {
				s.consecutiveFailures++
			}
			if result.ExclusiveCaptureFallback {
				s.recorder.events.RecordingWarning("exclusive capture fallback: retrying this window without exclusive access")
			}

			if s.consecutiveFailures > maxConsecutiveFailures {
				log.Error("aborting session after consecutive encoder failures", "count", s.consecutiveFailures)
				break loop
			}

			switch result.Transition.Kind {
			case segment.TransitionStop:
				break loop
			case segment.TransitionSwitch:
				s.mode = result.Transition.NextMod
				s.lastAvailabilityReason = result.Transition.AvailabilityReason
				s.segmentIndex++
			case segment.TransitionRestartSameMode:
				if s.mode == segment.ModeMonitor {
					break loop
				}
				s.segmentIndex++
			}
			s.applyAvailabilityWarnings()
		}

		if s.consecutiveFailures > maxConsecutiveFailures {
			break loop
		}
		select {
		case <-s.stopCh:
			break loop
		case <-time.After(segmentSettleDelay):
		}
	}

	s.finalizeAndCleanup(ctx)
}

func (s *sessionRun) nextSegmentPath() string {
	if s.workspaceDir == "" {
		return s.finalPath
	}
	return filepath.Join(s.workspaceDir, fmt.Sprintf("segment_%04d.mp4", s.segmentIndex))
}

func (s *sessionRun) buildSegmentConfigAndOptions(ctx context.Context, outputPath string) (segment.Config, segment.Options, error) {
	candidate, err := s.recorder.selector.Select(ctx)
	if err != nil {
		return segment.Config{}, segment.Options{}, fmt.Errorf("select encoder: %w", err)
	}

	cfg := segment.Config{
		EncoderPath:        s.recorder.selector.BinPath(),
		Mode:               s.mode,
		OutputPath:         outputPath,
		RequestedFrameRate: s.settings.FrameRate,
		OutputFrameRate:    s.settings.FrameRate,
		BitrateBPS:         s.bitrateBPS,
		IncludeSystemAudio: s.settings.EnableSystemAudio,
		Diagnostics:        s.settings.EnableRecordingDiagnostics,
		EncoderID:          candidate.ID,
		Preset:             candidate.Preset,
		Width:              s.width,
		Height:             s.height,
		VideoQuality:       s.settings.VideoQuality,
	}
	if s.mode == segment.ModeWindow && s.region != nil {
		cfg.OffsetX = s.region.OffsetX
		cfg.OffsetY = s.region.OffsetY
		cfg.MonitorIndex = s.region.OutputIndex
	}

	opts := segment.Options{
		StopCh:               s.stopCh,
		UserStopTimeout:      time.Duration(s.recorder.cfg.UserStopTimeoutMs) * time.Millisecond,
		ModeSwitchTimeout:    time.Duration(s.recorder.cfg.ModeSwitchTimeoutMs) * time.Millisecond,
		ExclusiveCaptureFlag: &s.capture.useExclusiveWindowCapture,
		WindowTarget:         s.capture.target(),
		Probe:                s.recorder.probe,
	}

	if s.settings.EnableSystemAudio {
		pipeline, err := audio.New()
		if err != nil {
			return segment.Config{}, segment.Options{}, fmt.Errorf("bind audio pipeline: %w", err)
		}
		if err := pipeline.Start(ctx); err != nil {
			return segment.Config{}, segment.Options{}, fmt.Errorf("start audio pipeline: %w", err)
		}
		opts.AudioAddr = pipeline.Addr()
		opts.AudioStats = &pipeline.Stats
		opts.StopAudio = pipeline.Stop
	}

	return cfg, opts, nil
}

// applyAvailabilityWarnings keeps the UI-visible warning state in sync with
// the current mode, emitting each observable change exactly once.
func (s *sessionRun) applyAvailabilityWarnings() {
	var want string
	switch s.mode {
	case segment.ModeBlack:
		if s.capture.Source == CaptureSourceWindow {
			switch s.lastAvailabilityReason {
			case window.Minimized:
				want = "window minimized"
			default:
				want = "window closed or unavailable"
			}
		}
	}
	if want == s.activeWarning {
		return
	}
	if want == "" {
		s.recorder.events.RecordingWarningCleared()
	} else {
		s.recorder.events.RecordingWarning(want)
	}
	s.activeWarning = want
}

func (s *sessionRun) finalizeAndCleanup(ctx context.Context) {
	defer func() {
		s.recorder.state.mu.Lock()
		s.recorder.state.isRecording = false
		s.recorder.state.isStopping = false
		s.recorder.state.currentOutputPath = ""
		s.recorder.state.mu.Unlock()
		s.recorder.events.RecordingStopped()
	}()

	if s.workspaceDir != "" {
		result, err := finalize.Finalize(ctx, finalize.Config{
			EncoderPath:     s.recorder.selector.BinPath(),
			SegmentPaths:    s.segmentPaths,
			FinalOutputPath: s.finalPath,
			WorkspaceDir:    s.workspaceDir,
		})
		if err != nil {
			log.Error("finalization failed", "error", err)
			return
		}
		s.recorder.events.RecordingFinalized(result.FinalPath)
		return
	}

	if info, err := os.Stat(s.finalPath); err == nil && info.Size() > 0 {
		s.recorder.events.RecordingFinalized(s.finalPath)
	}
}
