// Package window implements the window-availability probe: classifying a
// user-selected capture target as Available, Minimized, or Closed, and
// resolving it to a capture region on its current monitor.
package window

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Availability is a three-valued classification of a capture target.
type Availability int

const (
	Available Availability = iota
	Minimized
	Closed
)

func (a Availability) String() string {
	switch a {
	case Available:
		return "available"
	case Minimized:
		return "minimized"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Target identifies the window a probe should evaluate. Handle is 0 when no
// handle is stored yet or the previously stored one is known stale; Title is
// used as the fallback match key.
type Target struct {
	Handle uintptr
	Title  string
}

// Region is a capture region expressed relative to the monitor it was
// resolved against. Width and Height are always >= 2 and even.
type Region struct {
	OutputIndex uint32
	OffsetX     int32
	OffsetY     int32
	Width       uint32
	Height      uint32
}

// Window describes one enumerated top-level window.
type Window struct {
	Handle uintptr
	Title  string
}

type rect struct {
	Left, Top, Right, Bottom int32
}

func (r rect) empty() bool {
	return r.Right <= r.Left || r.Bottom <= r.Top
}

func intersectRect(a, b rect) rect {
	out := rect{
		Left:   maxI32(a.Left, b.Left),
		Top:    maxI32(a.Top, b.Top),
		Right:  minI32(a.Right, b.Right),
		Bottom: minI32(a.Bottom, b.Bottom),
	}
	if out.Right < out.Left {
		out.Right = out.Left
	}
	if out.Bottom < out.Top {
		out.Bottom = out.Top
	}
	return out
}

func maxI32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

func minI32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}

// normalizeDim clamps a raw pixel span to the encoder's requirement: >= 2
// and even.
func normalizeDim(v int32) uint32 {
	if v < 2 {
		return 2
	}
	u := uint32(v)
	if u%2 != 0 {
		u--
	}
	if u < 2 {
		u = 2
	}
	return u
}

// platform is the set of OS hooks a Probe needs; window_windows.go and
// window_other.go each provide one implementation.
type platform interface {
	isWindowAlive(handle uintptr) bool
	isIconic(handle uintptr) bool
	enumerateTopLevel() []Window
	clientRectOnScreen(handle uintptr) (rect, error)
	monitorForWindow(handle uintptr) (monitorRect rect, monitorIndex uint32, err error)
	primaryMonitorRegion() (Region, error)
}

type regionCache struct {
	valid  bool
	handle uintptr
	title  string
	region Region
}

// Probe evaluates availability and resolves capture regions for capture
// targets. Its region cache is keyed by (handle, title), so one Probe can
// serve successive sessions' targets; it is safe for concurrent use.
type Probe struct {
	hooks platform

	mu    sync.Mutex
	cache regionCache
}

// NewProbe returns a Probe bound to the current platform's window hooks.
func NewProbe() *Probe {
	return &Probe{hooks: hooks}
}

// Evaluate classifies the current availability of t. Callers resolve
// Monitor-mode targets themselves (Monitor always reports Available and
// never needs a Target); Evaluate is only meaningful for Window-mode
// targets.
func (p *Probe) Evaluate(t Target) Availability {
	if t.Handle != 0 && p.hooks.isWindowAlive(t.Handle) {
		if p.hooks.isIconic(t.Handle) {
			return Minimized
		}
		return Available
	}

	if t.Title == "" {
		return Closed
	}

	foundIconic := false
	for _, w := range p.hooks.enumerateTopLevel() {
		if !strings.EqualFold(w.Title, t.Title) {
			continue
		}
		if p.hooks.isIconic(w.Handle) {
			foundIconic = true
			continue
		}
		if r, err := p.hooks.clientRectOnScreen(w.Handle); err == nil && r.Right-r.Left <= 1 {
			// A title match with no practical width isn't a real capture
			// target; keep scanning rather than reporting Available.
			continue
		}
		return Available
	}
	if foundIconic {
		return Minimized
	}
	return Closed
}

// ResolveRegion resolves t to a capture region on its current monitor. The
// last resolved region is cached per (handle, title) so two consecutive
// identical calls don't redo monitor enumeration.
func (p *Probe) ResolveRegion(t Target) (Region, error) {
	handle := t.Handle
	if handle == 0 || !p.hooks.isWindowAlive(handle) {
		if t.Title == "" {
			return Region{}, errors.New("no longer valid")
		}
		handle = 0
		for _, w := range p.hooks.enumerateTopLevel() {
			if strings.EqualFold(w.Title, t.Title) {
				handle = w.Handle
				break
			}
		}
		if handle == 0 {
			return Region{}, errors.New("no longer valid")
		}
	}

	p.mu.Lock()
	if p.cache.valid && p.cache.handle == handle && p.cache.title == t.Title {
		region := p.cache.region
		p.mu.Unlock()
		return region, nil
	}
	p.mu.Unlock()

	clientRect, err := p.hooks.clientRectOnScreen(handle)
	if err != nil {
		return Region{}, fmt.Errorf("could not map monitor: %w", err)
	}
	monitorRect, monitorIndex, err := p.hooks.monitorForWindow(handle)
	if err != nil {
		return Region{}, fmt.Errorf("could not map monitor: %w", err)
	}

	inter := intersectRect(clientRect, monitorRect)
	if inter.empty() {
		return Region{}, errors.New("no capturable area")
	}

	region := Region{
		OutputIndex: monitorIndex,
		OffsetX:     inter.Left - monitorRect.Left,
		OffsetY:     inter.Top - monitorRect.Top,
		Width:       normalizeDim(inter.Right - inter.Left),
		Height:      normalizeDim(inter.Bottom - inter.Top),
	}

	p.mu.Lock()
	p.cache = regionCache{valid: true, handle: handle, title: t.Title, region: region}
	p.mu.Unlock()

	return region, nil
}

// EnumerateWindows lists capturable top-level windows, sorted by lowercased
// title then handle.
func (p *Probe) EnumerateWindows() []Window {
	wins := p.hooks.enumerateTopLevel()
	sort.Slice(wins, func(i, j int) bool {
		li, lj := strings.ToLower(wins[i].Title), strings.ToLower(wins[j].Title)
		if li != lj {
			return li < lj
		}
		return wins[i].Handle < wins[j].Handle
	})
	return wins
}

// PrimaryMonitorRegion resolves the primary monitor's region. The session
// driver does not call it; Monitor-mode capture dimensions come from the
// configured defaults.
func (p *Probe) PrimaryMonitorRegion() (Region, error) {
	return p.hooks.primaryMonitorRegion()
}
