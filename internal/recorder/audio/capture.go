package audio

import (
	"context"
	"time"
)

// source abstracts the platform loopback capture device. Implementations
// live in audio_windows.go (real WASAPI capture) and audio_other.go (stub).
type source interface {
	// nextPacket returns the raw bytes available in the device's current
	// packet, which may be empty if none is ready. A non-nil error means
	// the device call itself failed (caller sleeps and retries).
	nextPacket() ([]byte, error)
	// waitEvent blocks until the device signals more data is ready, or
	// timeout elapses.
	waitEvent(timeout time.Duration)
	close()
}

// captureService drains the loopback device into fixed-size chunks and
// enqueues them for the writer. It implements suture.Service.
type captureService struct {
	pipeline *Pipeline
	source   source
}

func (c *captureService) Serve(ctx context.Context) error {
	defer c.source.close()

	log.Debug("audio capture worker starting")

	var pending []byte
	shouldStop := false

	for {
		select {
		case <-c.pipeline.captureStop:
			shouldStop = true
		case <-ctx.Done():
			shouldStop = true
		default:
		}

		packet, err := c.source.nextPacket()
		if err != nil {
			time.Sleep(devicePollRetry)
			if shouldStop {
				break
			}
			continue
		}

		if len(packet) > 0 {
			pending = append(pending, packet...)
		}

		for len(pending) >= ChunkBytes {
			chunk := make([]byte, ChunkBytes)
			copy(chunk, pending[:ChunkBytes])
			pending = pending[ChunkBytes:]

			if dropped := c.pipeline.enqueue(chunk); dropped {
				total := c.pipeline.Stats.DroppedChunks.Load()
				if total%dropWarnEvery == 0 {
					log.Warn("audio queue full, dropping chunks", "dropped_total", total)
				}
			}
		}

		if shouldStop {
			break
		}

		c.source.waitEvent(eventWaitTimeout)
	}

	if len(pending) > 0 {
		final := make([]byte, len(pending))
		copy(final, pending)
		c.pipeline.enqueue(final)
	}

	log.Debug("audio capture worker stopped")
	return nil
}
