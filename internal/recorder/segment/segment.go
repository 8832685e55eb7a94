// Package segment implements the Segment Runner: spawning and supervising
// one encoder child process per recording segment, wiring its stdin/stderr,
// and running the poll loop that implements stop, timeout, availability
// transitions, and statistics logging.
package segment

import (
	"time"

	"github.com/breeze-rmm/recorder/internal/logging"
	"github.com/breeze-rmm/recorder/internal/recorder/window"
)

var log = logging.L("segment")

// Mode is the runtime capture style for one segment.
type Mode int

const (
	ModeMonitor Mode = iota
	ModeWindow
	ModeBlack
)

func (m Mode) String() string {
	switch m {
	case ModeMonitor:
		return "monitor"
	case ModeWindow:
		return "window"
	case ModeBlack:
		return "black"
	default:
		return "unknown"
	}
}

// TransitionKind is the action the session driver should take after a
// segment ends.
type TransitionKind int

const (
	TransitionStop TransitionKind = iota
	TransitionSwitch
	TransitionRestartSameMode
)

// Transition is the segment's verdict on what the session driver should do
// next.
type Transition struct {
	Kind    TransitionKind
	NextMod Mode // only meaningful when Kind == TransitionSwitch

	// AvailabilityReason explains a switch into or out of black mode; it's
	// meaningless for any other Kind/NextMod combination.
	AvailabilityReason window.Availability
}

// Config is the immutable per-segment record the runner is given.
type Config struct {
	EncoderPath          string
	Mode                 Mode
	OutputPath           string
	RequestedFrameRate   int
	OutputFrameRate      int
	BitrateBPS           int64
	IncludeSystemAudio   bool
	Diagnostics          bool
	EncoderID            string // e.g. "h264_nvenc", "libx264"
	Preset               string // only set for encoders that accept one
	Width                uint32
	Height               uint32
	OffsetX              int32
	OffsetY              int32
	MonitorIndex         uint32
	VideoQuality         string // informational only, never affects args
}

// Result is the outcome of one encoder invocation.
type Result struct {
	Transition               Transition
	EncoderSucceeded         bool
	OutputWritten            bool
	ForceKilled              bool
	ExclusiveCaptureFallback bool // true exactly once, the segment exclusive capture was dropped on
	WallClock                time.Duration
}
