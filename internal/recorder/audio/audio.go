// Package audio implements the system-audio loopback capture and delivery
// pipeline: a capture worker draining the default render device via
// shared-mode loopback, and a writer worker forwarding fixed-size chunks to
// a TCP peer (the encoder's PCM input), joined by a bounded queue.
package audio

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/breeze-rmm/recorder/internal/logging"
)

// Fixed wire format, per spec: 16-bit PCM stereo at 48kHz, 20ms chunks.
const (
	SampleRate  = 48000
	Channels    = 2
	BytesPerSample = 2
	ChunkFrames = 960
	ChunkBytes  = ChunkFrames * Channels * BytesPerSample

	QueueCapacity = 256

	eventWaitTimeout = 500 * time.Millisecond
	bindBackoff      = 25 * time.Millisecond
	writeTimeout     = 12 * time.Millisecond
	receiveTimeout   = 10 * time.Millisecond
	devicePollRetry  = 10 * time.Millisecond

	dropWarnEvery = 64
)

// Stats holds the pipeline's monotonic counters. All fields are read via
// relaxed atomic loads from the segment runner's stats tick; they are
// diagnostic only and never gate correctness.
type Stats struct {
	QueuedChunks   atomic.Uint64
	DequeuedChunks atomic.Uint64
	DroppedChunks  atomic.Uint64
	WriteTimeouts  atomic.Uint64
}

// Snapshot is a point-in-time copy of Stats for delta computation.
type Snapshot struct {
	QueuedChunks   uint64
	DequeuedChunks uint64
	DroppedChunks  uint64
	WriteTimeouts  uint64
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		QueuedChunks:   s.QueuedChunks.Load(),
		DequeuedChunks: s.DequeuedChunks.Load(),
		DroppedChunks:  s.DroppedChunks.Load(),
		WriteTimeouts:  s.WriteTimeouts.Load(),
	}
}

func (a Snapshot) sub(b Snapshot) Snapshot {
	return Snapshot{
		QueuedChunks:   a.QueuedChunks - b.QueuedChunks,
		DequeuedChunks: a.DequeuedChunks - b.DequeuedChunks,
		DroppedChunks:  a.DroppedChunks - b.DroppedChunks,
		WriteTimeouts:  a.WriteTimeouts - b.WriteTimeouts,
	}
}

// Delta returns the change in counters between two snapshots taken in order.
func Delta(prev, cur Snapshot) Snapshot {
	return cur.sub(prev)
}

var log = logging.L("audio")

// Pipeline runs the capture and writer workers for one segment's audio
// stream. A Pipeline is single-use: create one per segment, Start it, Stop
// it, discard it.
type Pipeline struct {
	Stats Stats

	listener *net.TCPListener
	queue    chan []byte

	captureStop chan struct{}
	writerStop  chan struct{}

	closeCaptureOnce sync.Once
	closeWriterOnce  sync.Once

	sup *suture.Supervisor

	runErr   atomic.Value // error
	done     chan struct{}
	doneOnce sync.Once
}

// New binds a TCP listener on an ephemeral loopback port but does not yet
// start capturing; callers read Addr() to build the encoder's PCM input
// before calling Start.
func New() (*Pipeline, error) {
	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		return nil, fmt.Errorf("bind audio loopback listener: %w", err)
	}

	p := &Pipeline{
		listener:    listener,
		queue:       make(chan []byte, QueueCapacity),
		captureStop: make(chan struct{}),
		writerStop:  make(chan struct{}),
		done:        make(chan struct{}),
	}
	return p, nil
}

// Addr returns the "host:port" the encoder should dial.
func (p *Pipeline) Addr() string {
	return p.listener.Addr().String()
}

// Start opens the loopback capture device and begins the capture/writer
// workers under a suture supervisor, so a panicking worker is restarted
// instead of silently wedging the pipeline. Normal stop remains
// signal-driven via Stop; suture restart is a safety net for panics only.
func (p *Pipeline) Start(ctx context.Context) error {
	source, err := openLoopbackSource()
	if err != nil {
		p.listener.Close()
		return fmt.Errorf("open loopback capture device: %w", err)
	}

	p.sup = suture.New("audio-pipeline", suture.Spec{
		FailureThreshold: 4,
		FailureBackoff:   time.Second,
	})
	p.sup.Add(&captureService{pipeline: p, source: source})
	p.sup.Add(&writerService{pipeline: p})

	// Stop the supervisor tree once Stop has signalled the workers, so a
	// worker returning on its stop signal ends the tree instead of being
	// restarted.
	supCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-p.writerStop:
		case <-supCtx.Done():
		}
		cancel()
	}()

	errCh := p.sup.ServeBackground(supCtx)
	go func() {
		err := <-errCh
		if err != nil {
			p.runErr.Store(err)
		}
		p.doneOnce.Do(func() { close(p.done) })
	}()

	return nil
}

// Stop signals both workers and waits for them to exit.
func (p *Pipeline) Stop() {
	p.closeCaptureOnce.Do(func() { close(p.captureStop) })
	p.closeWriterOnce.Do(func() { close(p.writerStop) })
	if p.sup != nil {
		<-p.done
	}
	p.listener.Close()
}

// Err returns the error the supervisor tree stopped with, if any. Errors
// returned by the individual workers go to the supervisor's restart policy
// and are not reported here.
func (p *Pipeline) Err() error {
	if v := p.runErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// enqueue submits chunk to the bounded queue. QueuedChunks counts every
// submission attempt (so that dequeued_chunks + dropped_chunks <=
// queued_chunks holds as an invariant, per spec.md §8); DroppedChunks
// counts the subset that didn't fit.
func (p *Pipeline) enqueue(chunk []byte) (dropped bool) {
	p.Stats.QueuedChunks.Add(1)
	select {
	case p.queue <- chunk:
		return false
	default:
		p.Stats.DroppedChunks.Add(1)
		return true
	}
}
