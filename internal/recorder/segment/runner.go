package segment

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"github.com/breeze-rmm/recorder/internal/recorder/audio"
	"github.com/breeze-rmm/recorder/internal/recorder/window"
)

const pollInterval = 25 * time.Millisecond
const statsInterval = time.Second
const availabilityInterval = 500 * time.Millisecond

// Options carries everything about a segment run that isn't part of the
// immutable Config: the stop signal, the audio side-channel, the window
// probe for availability ticks, and the shared exclusive-capture flag.
type Options struct {
	StopCh <-chan struct{}

	UserStopTimeout   time.Duration
	ModeSwitchTimeout time.Duration

	AudioAddr  string
	AudioStats *audio.Stats
	StopAudio  func()

	ExclusiveCaptureFlag *atomic.Bool
	WindowTarget         window.Target
	Probe                *window.Probe
}

// Runner drives one encoder child process through its full lifecycle for a
// single segment.
type Runner struct{}

// NewRunner constructs a Runner. Runner carries no state between segments;
// one instance is reused across a session's segments.
func NewRunner() *Runner { return &Runner{} }

// Run spawns the encoder for cfg and blocks until it exits or is killed,
// returning the verdict the Session Driver uses to decide what happens
// next.
func (*Runner) Run(ctx context.Context, cfg Config, opts Options) (*Result, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, cfg.EncoderPath, buildArgs(cfg, opts.AudioAddr)...)
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open encoder stdin: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("open encoder stderr: %w", err)
	}

	classifier := newStderrClassifier(cfg.Diagnostics, func() {
		log.Warn("encode running below realtime", "segment", cfg.OutputPath)
	})
	go classifier.run(stderr)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start encoder: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	var (
		stopRequestedAt   time.Time
		stopRequested     bool
		userStopRequested bool
		forceKilled       bool
		pendingTransition *Transition
		activeStopTimeout time.Duration
		warnedDrop        bool
	)

	requestStop := func(userInitiated bool, timeout time.Duration) {
		if stopRequested {
			return
		}
		stopRequested = true
		userStopRequested = userInitiated
		stopRequestedAt = time.Now()
		activeStopTimeout = timeout
		if _, werr := stdin.Write([]byte("q")); werr != nil {
			log.Warn("failed to write graceful stop to encoder stdin", "error", werr)
		}
		if opts.StopAudio != nil {
			opts.StopAudio()
		}
	}

	var statsTicker, availTicker *time.Ticker
	if opts.AudioStats != nil {
		statsTicker = time.NewTicker(statsInterval)
		defer statsTicker.Stop()
	}
	if cfg.Mode != ModeMonitor {
		availTicker = time.NewTicker(availabilityInterval)
		defer availTicker.Stop()
	}
	pollTicker := time.NewTicker(pollInterval)
	defer pollTicker.Stop()

	var prevQueued, prevDequeued, prevDropped, prevTimeouts uint64
	var lastExitErr error

loop:
	for {
		var statsCh, availCh <-chan time.Time
		if statsTicker != nil {
			statsCh = statsTicker.C
		}
		if availTicker != nil {
			availCh = availTicker.C
		}

		select {
		case lastExitErr = <-waitErr:
			break loop

		case <-ctx.Done():
			requestStop(true, opts.UserStopTimeout)

		case <-opts.StopCh:
			requestStop(true, opts.UserStopTimeout)

		case <-statsCh:
			snap := opts.AudioStats.Snapshot()
			dQueued := snap.QueuedChunks - prevQueued
			dDequeued := snap.DequeuedChunks - prevDequeued
			dDropped := snap.DroppedChunks - prevDropped
			dTimeouts := snap.WriteTimeouts - prevTimeouts
			prevQueued, prevDequeued, prevDropped, prevTimeouts = snap.QueuedChunks, snap.DequeuedChunks, snap.DroppedChunks, snap.WriteTimeouts
			if dDropped > 0 && !warnedDrop {
				warnedDrop = true
				log.Warn("audio chunks dropped", "segment", cfg.OutputPath, "dropped", dDropped)
			}
			if dTimeouts > 0 {
				log.Warn("audio write timeouts", "segment", cfg.OutputPath, "timeouts", dTimeouts)
			}
			if cfg.Diagnostics {
				log.Info("audio stats", "queued", dQueued, "dequeued", dDequeued, "dropped", dDropped, "writeTimeouts", dTimeouts)
			}

		case <-availCh:
			avail := opts.Probe.Evaluate(opts.WindowTarget)
			switch cfg.Mode {
			case ModeWindow:
				if avail != window.Available && pendingTransition == nil {
					pendingTransition = &Transition{Kind: TransitionSwitch, NextMod: ModeBlack, AvailabilityReason: avail}
					requestStop(false, opts.ModeSwitchTimeout)
				}
			case ModeBlack:
				if avail == window.Available && pendingTransition == nil {
					if _, regionErr := opts.Probe.ResolveRegion(opts.WindowTarget); regionErr == nil {
						pendingTransition = &Transition{Kind: TransitionSwitch, NextMod: ModeWindow, AvailabilityReason: avail}
						requestStop(false, opts.ModeSwitchTimeout)
					}
				}
			}

		case <-pollTicker.C:
			if stopRequested && !forceKilled && time.Since(stopRequestedAt) > activeStopTimeout {
				if killErr := killProcess(cmd); killErr != nil {
					log.Warn("failed to kill encoder process", "error", killErr)
				}
				forceKilled = true
			}
		}
	}

	result := classifyExit(cfg, lastExitErr, classifier.diagnosticTail(), opts.ExclusiveCaptureFlag,
		userStopRequested, pendingTransition, forceKilled, opts.Probe, opts.WindowTarget)
	result.WallClock = time.Since(start)

	if info, statErr := os.Stat(cfg.OutputPath); statErr == nil && info.Size() > 0 {
		result.OutputWritten = true
	}

	return result, nil
}

func classifyExit(
	cfg Config,
	exitErr error,
	diagnosticTail []string,
	exclusiveFlag *atomic.Bool,
	userStopRequested bool,
	pendingTransition *Transition,
	forceKilled bool,
	probe *window.Probe,
	target window.Target,
) *Result {
	result := &Result{ForceKilled: forceKilled}

	if exitErr == nil {
		result.EncoderSucceeded = true
		switch {
		case userStopRequested:
			result.Transition = Transition{Kind: TransitionStop}
		case pendingTransition != nil:
			result.Transition = *pendingTransition
		default:
			result.Transition = Transition{Kind: TransitionRestartSameMode}
		}
		return result
	}

	result.EncoderSucceeded = false

	var exitCode int
	if asExitErr, ok := exitErr.(*exec.ExitError); ok {
		exitCode = asExitErr.ExitCode()
	} else {
		exitCode = -1
	}

	if cfg.Mode == ModeWindow && exclusiveFlag != nil && exclusiveFlag.Load() &&
		isCaptureSetupFailure(exitCode, diagnosticTail) {
		exclusiveFlag.Store(false)
		result.ExclusiveCaptureFallback = true
		log.Warn("exclusive window capture failed, retrying without it", "segment", cfg.OutputPath, "exitCode", exitCode)
		result.Transition = Transition{Kind: TransitionRestartSameMode}
		return result
	}

	if userStopRequested {
		result.Transition = Transition{Kind: TransitionStop}
		return result
	}

	result.Transition = deriveFailureTransition(cfg.Mode, probe, target)
	return result
}

// deriveFailureTransition decides what to do after a failed, non-user-stop
// exit based on current window availability.
func deriveFailureTransition(mode Mode, probe *window.Probe, target window.Target) Transition {
	switch mode {
	case ModeMonitor:
		return Transition{Kind: TransitionStop}
	case ModeWindow:
		if avail := probe.Evaluate(target); avail != window.Available {
			return Transition{Kind: TransitionSwitch, NextMod: ModeBlack, AvailabilityReason: avail}
		}
		return Transition{Kind: TransitionRestartSameMode}
	case ModeBlack:
		if probe.Evaluate(target) == window.Available {
			if _, err := probe.ResolveRegion(target); err == nil {
				return Transition{Kind: TransitionSwitch, NextMod: ModeWindow, AvailabilityReason: window.Available}
			}
		}
		return Transition{Kind: TransitionRestartSameMode}
	default:
		return Transition{Kind: TransitionStop}
	}
}

// captureSetupFailureMarkers are textual fingerprints of a graphics-capture
// initialization failure, as opposed to an ordinary encode error.
var captureSetupFailureMarkers = []string{
	"could not duplicate output",
	"dxgi_error",
	"failed to create capture",
	"access is denied",
	"device removed",
}

func isCaptureSetupFailure(exitCode int, diagnosticTail []string) bool {
	if exitCode == -1073741819 { // STATUS_ACCESS_VIOLATION, seen from broken duplication setups
		return true
	}
	for _, line := range diagnosticTail {
		lower := strings.ToLower(line)
		for _, marker := range captureSetupFailureMarkers {
			if strings.Contains(lower, marker) {
				return true
			}
		}
	}
	return false
}
