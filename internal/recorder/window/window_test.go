package window

import "testing"

type fakePlatform struct {
	alive       map[uintptr]bool
	iconicSet   map[uintptr]bool
	windows     []Window
	rects       map[uintptr]rect
	monitorRect rect
	monitorIdx  uint32
	monitorErr  error
	primary     Region
}

func (f *fakePlatform) isWindowAlive(h uintptr) bool { return f.alive[h] }
func (f *fakePlatform) isIconic(h uintptr) bool       { return f.iconicSet[h] }
func (f *fakePlatform) enumerateTopLevel() []Window   { return f.windows }
func (f *fakePlatform) clientRectOnScreen(h uintptr) (rect, error) {
	r, ok := f.rects[h]
	if !ok {
		return rect{}, errNotFound
	}
	return r, nil
}
func (f *fakePlatform) monitorForWindow(uintptr) (rect, uint32, error) {
	return f.monitorRect, f.monitorIdx, f.monitorErr
}
func (f *fakePlatform) primaryMonitorRegion() (Region, error) { return f.primary, nil }

var errNotFound = fakeErr("handle not found")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

func newProbeWithFake(f *fakePlatform) *Probe {
	return &Probe{hooks: f}
}

func TestEvaluateLiveHandleAvailable(t *testing.T) {
	f := &fakePlatform{alive: map[uintptr]bool{1: true}, iconicSet: map[uintptr]bool{}}
	p := newProbeWithFake(f)
	if got := p.Evaluate(Target{Handle: 1}); got != Available {
		t.Fatalf("got %v, want Available", got)
	}
}

func TestEvaluateLiveHandleMinimized(t *testing.T) {
	f := &fakePlatform{alive: map[uintptr]bool{1: true}, iconicSet: map[uintptr]bool{1: true}}
	p := newProbeWithFake(f)
	if got := p.Evaluate(Target{Handle: 1}); got != Minimized {
		t.Fatalf("got %v, want Minimized", got)
	}
}

func TestEvaluateStaleHandleFallsBackToTitle(t *testing.T) {
	f := &fakePlatform{
		alive:     map[uintptr]bool{},
		iconicSet: map[uintptr]bool{},
		windows:   []Window{{Handle: 2, Title: "Target"}},
		rects:     map[uintptr]rect{2: {Left: 0, Top: 0, Right: 800, Bottom: 600}},
	}
	p := newProbeWithFake(f)
	if got := p.Evaluate(Target{Handle: 99, Title: "target"}); got != Available {
		t.Fatalf("got %v, want Available (case-insensitive title match)", got)
	}
}

func TestEvaluateStaleHandleNoTitleMatchIsClosed(t *testing.T) {
	f := &fakePlatform{windows: []Window{{Handle: 2, Title: "Other"}}}
	p := newProbeWithFake(f)
	if got := p.Evaluate(Target{Handle: 99, Title: "target"}); got != Closed {
		t.Fatalf("got %v, want Closed", got)
	}
}

func TestEvaluateStaleHandleIconicTitleMatchIsMinimized(t *testing.T) {
	f := &fakePlatform{
		iconicSet: map[uintptr]bool{2: true},
		windows:   []Window{{Handle: 2, Title: "target"}},
	}
	p := newProbeWithFake(f)
	if got := p.Evaluate(Target{Handle: 0, Title: "target"}); got != Minimized {
		t.Fatalf("got %v, want Minimized", got)
	}
}

func TestEvaluateDegenerateWidthTitleMatchIsClosed(t *testing.T) {
	f := &fakePlatform{
		windows: []Window{{Handle: 2, Title: "target"}},
		rects:   map[uintptr]rect{2: {Left: 0, Top: 0, Right: 1, Bottom: 600}},
	}
	p := newProbeWithFake(f)
	if got := p.Evaluate(Target{Handle: 0, Title: "target"}); got != Closed {
		t.Fatalf("got %v, want Closed for a one-pixel-wide title match", got)
	}
}

func TestEvaluateNoHandleNoTitleIsClosed(t *testing.T) {
	p := newProbeWithFake(&fakePlatform{})
	if got := p.Evaluate(Target{}); got != Closed {
		t.Fatalf("got %v, want Closed", got)
	}
}

func TestResolveRegionNormalizesToEvenMinimumTwo(t *testing.T) {
	f := &fakePlatform{
		alive: map[uintptr]bool{1: true},
		rects: map[uintptr]rect{1: {Left: 100, Top: 100, Right: 101, Bottom: 100 + 3}},
		monitorRect: rect{
			Left: 0, Top: 0, Right: 1920, Bottom: 1080,
		},
		monitorIdx: 0,
	}
	p := newProbeWithFake(f)
	region, err := p.ResolveRegion(Target{Handle: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if region.Width%2 != 0 || region.Width < 2 {
		t.Fatalf("width %d not normalized", region.Width)
	}
	if region.Height%2 != 0 || region.Height < 2 {
		t.Fatalf("height %d not normalized", region.Height)
	}
}

func TestResolveRegionCachesIdenticalCalls(t *testing.T) {
	f := &fakePlatform{
		alive:       map[uintptr]bool{1: true},
		rects:       map[uintptr]rect{1: {Left: 0, Top: 0, Right: 800, Bottom: 600}},
		monitorRect: rect{Left: 0, Top: 0, Right: 1920, Bottom: 1080},
		monitorIdx:  1,
	}
	p := newProbeWithFake(f)

	first, err := p.ResolveRegion(Target{Handle: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Mutate the fake's underlying rect; a cache hit should still return
	// the previously resolved region rather than recomputing.
	f.rects[1] = rect{Left: 0, Top: 0, Right: 10, Bottom: 10}

	second, err := p.ResolveRegion(Target{Handle: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second != first {
		t.Fatalf("expected cached region %+v, got %+v", first, second)
	}
}

func TestResolveRegionStaleHandleNoTitleErrors(t *testing.T) {
	p := newProbeWithFake(&fakePlatform{})
	if _, err := p.ResolveRegion(Target{Handle: 99}); err == nil {
		t.Fatal("expected error for stale handle with no title fallback")
	}
}

func TestResolveRegionEmptyIntersectionErrors(t *testing.T) {
	f := &fakePlatform{
		alive:       map[uintptr]bool{1: true},
		rects:       map[uintptr]rect{1: {Left: 5000, Top: 5000, Right: 5100, Bottom: 5100}},
		monitorRect: rect{Left: 0, Top: 0, Right: 1920, Bottom: 1080},
	}
	p := newProbeWithFake(f)
	if _, err := p.ResolveRegion(Target{Handle: 1}); err == nil {
		t.Fatal("expected 'no capturable area' error")
	}
}

func TestEnumerateWindowsSortedByTitleThenHandle(t *testing.T) {
	f := &fakePlatform{
		windows: []Window{
			{Handle: 20, Title: "Beta"},
			{Handle: 10, Title: "alpha"},
			{Handle: 5, Title: "Alpha"},
		},
	}
	p := newProbeWithFake(f)
	got := p.EnumerateWindows()
	if len(got) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(got))
	}
	if got[0].Handle != 5 || got[1].Handle != 10 || got[2].Handle != 20 {
		t.Fatalf("unexpected sort order: %+v", got)
	}
}
