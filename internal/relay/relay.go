package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"relaycast/internal/observability/metrics"
)

// ErrNotRunning reports a chunk for a session with no registered process.
var ErrNotRunning = errors.New("not running")

// ErrStalled reports that a session's process failed to drain its input
// queue within the relay write timeout.
var ErrStalled = errors.New("relay stalled")

// DefaultWriteTimeout bounds how long a single chunk may wait for the
// process input queue to drain before the relay gives up on it.
const DefaultWriteTimeout = 5 * time.Second

// RelayConfig assembles a Relay.
type RelayConfig struct {
	Registry     *Registry
	Emitter      Emitter
	Logger       *slog.Logger
	Metrics      *metrics.Recorder
	WriteTimeout time.Duration
}

// Relay moves inbound binary chunks into the owning session's process
// handle under backpressure. Chunks are size-preserving pass-throughs:
// never merged, split, or reordered, and never cross-wired between
// sessions.
type Relay struct {
	registry *Registry
	emitter  Emitter
	logger   *slog.Logger
	metrics  *metrics.Recorder
	timeout  time.Duration
}

// NewRelay initialises a relay over the supervisor's registry.
func NewRelay(cfg RelayConfig) *Relay {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	return &Relay{
		registry: cfg.Registry,
		emitter:  cfg.Emitter,
		logger:   logger,
		metrics:  recorder,
		timeout:  timeout,
	}
}

// Relay forwards chunk into sessionID's process input. With no registered
// handle the chunk is discarded, a "not running" status is reported, and
// ErrNotRunning is returned. When the bounded input queue is full the call
// blocks, pausing intake for this session only, until the queue drains,
// ctx is cancelled, or the write timeout elapses.
func (r *Relay) Relay(ctx context.Context, sessionID string, chunk []byte) error {
	handle := r.registry.Handle(sessionID)
	if handle == nil {
		r.metrics.ObserveRelayError("not_running")
		r.emit(sessionID, Status{Status: StatusError, Message: "not running"})
		return ErrNotRunning
	}

	err := handle.TryEnqueue(chunk)
	if err == nil {
		handle.clearCongested()
	}
	if errors.Is(err, errQueueFull) {
		r.metrics.ObserveRelayError("backpressure")
		if handle.markCongested() {
			r.emit(sessionID, Status{Status: StatusError, Message: "stream backpressure: input queue full"})
		}
		r.logger.Debug("input queue full, waiting for drain", "session_id", sessionID)
		waitCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err = handle.EnqueueWait(waitCtx, chunk)
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			r.metrics.ObserveRelayError("stalled")
			r.emit(sessionID, Status{Status: StatusError, Message: "stream backpressure: destination not draining"})
			return fmt.Errorf("session %s: %w", sessionID, ErrStalled)
		}
	}
	switch {
	case err == nil:
		r.metrics.ObserveChunk(len(chunk))
		return nil
	case errors.Is(err, ErrInputClosed):
		// The write-error and exit paths already reported their own
		// status; enqueueing after close is the same condition seen
		// from the intake side.
		r.metrics.ObserveRelayError("input_closed")
		r.emit(sessionID, Status{Status: StatusError, Message: "stream write error: process input closed"})
		return err
	case errors.Is(err, context.Canceled):
		return err
	default:
		r.metrics.ObserveRelayError("write_error")
		r.emit(sessionID, Status{Status: StatusError, Message: fmt.Sprintf("stream write error: %v", err)})
		return err
	}
}

func (r *Relay) emit(sessionID string, status Status) {
	r.metrics.ObserveStatus(status.Status)
	if r.emitter != nil {
		r.emitter.Emit(sessionID, status)
	}
}
