package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
)

// ErrInputClosed reports a write attempted after the process input was
// closed or the process went away. It is an expected error, never a crash.
var ErrInputClosed = errors.New("process input closed")

var errQueueFull = errors.New("input queue full")

const defaultQueueDepth = 64

const (
	stateRunning int32 = iota
	stateExiting
	stateExited
)

// Handle owns one running transcoding process on behalf of a session. All
// chunk writes flow through a bounded queue drained by a single writer
// goroutine, preserving arrival order.
type Handle struct {
	sessionID string
	proc      Process
	logger    *slog.Logger

	in     chan []byte
	closed chan struct{}
	failed chan struct{}

	closeOnce sync.Once
	failOnce  sync.Once
	state     atomic.Int32
	congested atomic.Bool

	onWriteErr func(sessionID string, err error)
}

func newHandle(sessionID string, proc Process, logger *slog.Logger, queueDepth int, onExit func(*Handle, ExitInfo), onWriteErr func(string, error)) *Handle {
	if queueDepth <= 0 {
		queueDepth = defaultQueueDepth
	}
	h := &Handle{
		sessionID:  sessionID,
		proc:       proc,
		logger:     logger,
		in:         make(chan []byte, queueDepth),
		closed:     make(chan struct{}),
		failed:     make(chan struct{}),
		onWriteErr: onWriteErr,
	}
	go h.writeLoop()
	go func() {
		<-proc.Done()
		h.state.Store(stateExited)
		if onExit != nil {
			onExit(h, proc.Exit())
		}
	}()
	return h
}

// SessionID reports the session that owns this handle.
func (h *Handle) SessionID() string { return h.sessionID }

// Done is closed once the underlying process has exited.
func (h *Handle) Done() <-chan struct{} { return h.proc.Done() }

// State reports the handle's termination state.
func (h *Handle) State() string {
	switch h.state.Load() {
	case stateExiting:
		return "exiting"
	case stateExited:
		return "exited"
	default:
		return "running"
	}
}

// TryEnqueue queues chunk for delivery without blocking. It returns
// errQueueFull when the bounded queue is at capacity and ErrInputClosed
// once the handle stopped accepting writes.
func (h *Handle) TryEnqueue(chunk []byte) error {
	if err := h.writable(); err != nil {
		return err
	}
	select {
	case h.in <- chunk:
		return nil
	default:
		return errQueueFull
	}
}

// EnqueueWait blocks until the queue accepts chunk, the context is
// cancelled, or the process goes away. Blocking here pauses intake for the
// owning session only; other sessions are unaffected.
func (h *Handle) EnqueueWait(ctx context.Context, chunk []byte) error {
	if err := h.writable(); err != nil {
		return err
	}
	select {
	case h.in <- chunk:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.closed:
		return ErrInputClosed
	case <-h.failed:
		return ErrInputClosed
	case <-h.proc.Done():
		return ErrInputClosed
	}
}

// markCongested flags the start of a backpressure episode. Only the call
// that began the episode sees true.
func (h *Handle) markCongested() bool {
	return h.congested.CompareAndSwap(false, true)
}

// clearCongested ends the episode once a chunk is accepted without
// blocking.
func (h *Handle) clearCongested() {
	h.congested.Store(false)
}

// CloseInput signals end-of-input. Chunks already queued are flushed before
// the stdin pipe is closed. Idempotent.
func (h *Handle) CloseInput() {
	h.closeOnce.Do(func() {
		h.state.CompareAndSwap(stateRunning, stateExiting)
		close(h.closed)
	})
}

// Signal forwards sig to the process. Failures are reported to the caller
// for logging but never escalate.
func (h *Handle) Signal(sig os.Signal) error {
	return h.proc.Signal(sig)
}

// Kill forcibly terminates the process.
func (h *Handle) Kill() error {
	return h.proc.Kill()
}

func (h *Handle) writable() error {
	select {
	case <-h.closed:
		return ErrInputClosed
	case <-h.failed:
		return ErrInputClosed
	case <-h.proc.Done():
		return ErrInputClosed
	default:
		return nil
	}
}

func (h *Handle) writeLoop() {
	in := h.proc.Input()
	for {
		select {
		case chunk := <-h.in:
			if !h.write(in, chunk) {
				return
			}
		case <-h.closed:
			h.drain(in)
			return
		case <-h.proc.Done():
			return
		}
	}
}

// drain flushes chunks accepted before CloseInput, then delivers EOF.
func (h *Handle) drain(in io.WriteCloser) {
	for {
		select {
		case chunk := <-h.in:
			if !h.write(in, chunk) {
				return
			}
		default:
			if err := in.Close(); err != nil {
				h.logger.Debug("close process input", "session_id", h.sessionID, "error", err)
			}
			return
		}
	}
}

func (h *Handle) write(in io.Writer, chunk []byte) bool {
	if _, err := in.Write(chunk); err != nil {
		h.failOnce.Do(func() {
			close(h.failed)
			if h.onWriteErr != nil {
				h.onWriteErr(h.sessionID, err)
			}
		})
		return false
	}
	return true
}
