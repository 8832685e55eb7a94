package audio

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"time"
)

// writerService accepts the encoder's inbound TCP connection and forwards
// queued chunks to it. It implements suture.Service.
type writerService struct {
	pipeline *Pipeline
}

func (w *writerService) Serve(ctx context.Context) error {
	log.Debug("audio writer worker starting")

	conn, ok := w.accept(ctx)
	if !ok {
		log.Debug("audio writer worker stopped before accept")
		return nil
	}
	defer conn.Close()

	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}

	for {
		select {
		case <-w.pipeline.writerStop:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		chunk, ok := w.receiveChunk()
		if !ok {
			continue
		}

		if err := w.writeChunk(conn, chunk); err != nil {
			if isExpectedDisconnect(err) {
				log.Debug("audio writer disconnected", "error", err)
				return nil
			}
			log.Warn("audio writer failed", "error", err)
			return err
		}
	}
}

func (w *writerService) accept(ctx context.Context) (net.Conn, bool) {
	for {
		select {
		case <-w.pipeline.writerStop:
			return nil, false
		case <-ctx.Done():
			return nil, false
		default:
		}

		w.pipeline.listener.SetDeadline(time.Now().Add(bindBackoff))
		conn, err := w.pipeline.listener.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return nil, false
		}
		return conn, true
	}
}

func (w *writerService) receiveChunk() ([]byte, bool) {
	select {
	case chunk := <-w.pipeline.queue:
		w.pipeline.Stats.DequeuedChunks.Add(1)
		return chunk, true
	case <-time.After(receiveTimeout):
		return nil, false
	}
}

// writeChunk retries on timeout (retaining the chunk rather than dropping
// it, since a partial write would corrupt stream framing) and returns only
// on success, stop signal, or a non-timeout write error.
func (w *writerService) writeChunk(conn net.Conn, chunk []byte) error {
	for {
		select {
		case <-w.pipeline.writerStop:
			return nil
		default:
		}

		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_, err := conn.Write(chunk)
		if err == nil {
			return nil
		}

		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			w.pipeline.Stats.WriteTimeouts.Add(1)
			continue
		}
		return err
	}
}

// isExpectedDisconnect classifies write errors that are normal consequences
// of the encoder being stopped, per spec.md §4.2's disconnect classification.
func isExpectedDisconnect(err error) bool {
	if errors.Is(err, os.ErrClosed) || errors.Is(err, net.ErrClosed) {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{"10053", "broken pipe", "connection reset"} {
		if strings.Contains(strings.ToLower(msg), marker) {
			return true
		}
	}
	return false
}
