package recorder

import "github.com/breeze-rmm/recorder/internal/logging"

// EventSink receives the user-visible lifecycle events a session emits. The
// UI shell implements this directly; recordertest provides a recording
// fake for tests.
type EventSink interface {
	RecordingWarning(text string)
	RecordingWarningCleared()
	RecordingFinalized(outputPath string)
	RecordingStopped()
	StorageCleanup(deletedCount int)
}

// slogEventSink is the default sink: it just logs. Real UI wiring swaps
// this for one that forwards to the shell's event channel.
type slogEventSink struct{}

// NewSlogEventSink returns an EventSink that logs every event at info level
// and nothing else; useful as a default when no UI is attached.
func NewSlogEventSink() EventSink { return slogEventSink{} }

var eventLog = logging.L("events")

func (slogEventSink) RecordingWarning(text string) {
	eventLog.Info("recording-warning", "text", text)
}

func (slogEventSink) RecordingWarningCleared() {
	eventLog.Info("recording-warning-cleared")
}

func (slogEventSink) RecordingFinalized(outputPath string) {
	eventLog.Info("recording-finalized", "outputPath", outputPath)
}

func (slogEventSink) RecordingStopped() {
	eventLog.Info("recording-stopped")
}

func (slogEventSink) StorageCleanup(deletedCount int) {
	eventLog.Info("storage-cleanup", "deletedCount", deletedCount)
}
