// Package recordertest provides a recording EventSink double for driving
// and asserting on recorder sessions in tests.
package recordertest

import "sync"

// Event is one emitted lifecycle event, captured in order.
type Event struct {
	Kind       string // "warning", "warning-cleared", "finalized", "stopped", "storage-cleanup"
	Text       string
	OutputPath string
	Deleted    int
}

// Sink is an EventSink that records every event it receives, in order, for
// assertions in tests.
type Sink struct {
	mu     sync.Mutex
	events []Event
}

func NewSink() *Sink { return &Sink{} }

func (s *Sink) RecordingWarning(text string) {
	s.append(Event{Kind: "warning", Text: text})
}

func (s *Sink) RecordingWarningCleared() {
	s.append(Event{Kind: "warning-cleared"})
}

func (s *Sink) RecordingFinalized(outputPath string) {
	s.append(Event{Kind: "finalized", OutputPath: outputPath})
}

func (s *Sink) RecordingStopped() {
	s.append(Event{Kind: "stopped"})
}

func (s *Sink) StorageCleanup(deletedCount int) {
	s.append(Event{Kind: "storage-cleanup", Deleted: deletedCount})
}

func (s *Sink) append(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

// Events returns a copy of the events recorded so far, in order.
func (s *Sink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// CountKind returns how many recorded events have the given Kind.
func (s *Sink) CountKind(kind string) int {
	n := 0
	for _, e := range s.Events() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
