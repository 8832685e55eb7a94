package segment

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Candidate pairs an ffmpeg -encoders name with the preset flag it
// accepts, in the hardware-to-software preference order the session driver
// tries them in. Mirrors the teacher's register-factory / try-in-order
// pattern for picking a hardware backend before falling back to software.
type Candidate struct {
	ID     string
	Preset string
}

var preferenceOrder = []Candidate{
	{ID: "h264_nvenc", Preset: "p4"},
	{ID: "h264_qsv", Preset: "medium"},
	{ID: "h264_amf", Preset: "balanced"},
	{ID: "libx264", Preset: "veryfast"},
}

// Selector locates the encoder binary when it is constructed and caches
// which of the candidate encoder IDs the binary actually reports as
// available, so repeated segment starts don't re-shell out to query
// -encoders. The query runs once per Selector; the Recorder keeps a single
// Selector for its lifetime, so later sessions reuse the choice made during
// the first one.
type Selector struct {
	once     sync.Once
	probeErr error

	binPath  string
	selected Candidate
}

// NewSelector locates the encoder binary by searching the given directories
// for any of the given executable names (in order), falling back to PATH
// lookup of the names if no search path hit.
func NewSelector(searchPaths, names []string) (*Selector, error) {
	path, err := findEncoderBinary(searchPaths, names)
	if err != nil {
		return nil, err
	}
	return &Selector{binPath: path}, nil
}

func findEncoderBinary(searchPaths, names []string) (string, error) {
	for _, dir := range searchPaths {
		for _, name := range names {
			candidate := filepath.Join(dir, name)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, nil
			}
		}
	}
	for _, name := range names {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no encoder binary found among %v in %v or PATH", names, searchPaths)
}

// BinPath returns the resolved encoder executable path.
func (s *Selector) BinPath() string { return s.binPath }

// Select returns the first candidate in preference order that the encoder
// binary reports support for, probing "-encoders" output at most once.
func (s *Selector) Select(ctx context.Context) (Candidate, error) {
	s.once.Do(func() {
		s.selected, s.probeErr = s.probe(ctx)
	})
	return s.selected, s.probeErr
}

func (s *Selector) probe(ctx context.Context) (Candidate, error) {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, s.binPath, "-hide_banner", "-encoders")
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		log.Warn("encoder capability probe failed, assuming software encoder", "error", err)
		return preferenceOrder[len(preferenceOrder)-1], nil
	}

	listing := out.String()
	for _, candidate := range preferenceOrder {
		if strings.Contains(listing, candidate.ID) {
			log.Info("selected encoder", "id", candidate.ID)
			return candidate, nil
		}
	}
	return Candidate{}, fmt.Errorf("encoder binary reports none of the known h264 encoders")
}
