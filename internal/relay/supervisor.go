package relay

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"relaycast/internal/observability/metrics"
)

// DefaultStopGrace bounds how long an explicitly stopped process may take
// to exit before it is forcibly killed.
const DefaultStopGrace = 2 * time.Second

// Config assembles a Supervisor.
type Config struct {
	Registry     *Registry
	Runner       Runner
	Emitter      Emitter
	Collaborator Collaborator
	Logger       *slog.Logger
	Metrics      *metrics.Recorder
	Encoding     Encoding
	FFmpegPath   string
	StopGrace    time.Duration
	QueueDepth   int
}

// Supervisor owns creation, replacement, and termination of process
// handles, enforcing at most one live process per session.
type Supervisor struct {
	registry   *Registry
	runner     Runner
	emitter    Emitter
	collab     Collaborator
	logger     *slog.Logger
	metrics    *metrics.Recorder
	encoding   Encoding
	ffmpegPath string
	stopGrace  time.Duration
	queueDepth int
}

// NewSupervisor initialises a supervisor from cfg, applying defaults for
// the runner, logger, metrics recorder, ffmpeg path, and stop grace.
func NewSupervisor(cfg Config) *Supervisor {
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	runner := cfg.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	path := cfg.FFmpegPath
	if path == "" {
		path = "ffmpeg"
	}
	grace := cfg.StopGrace
	if grace <= 0 {
		grace = DefaultStopGrace
	}
	return &Supervisor{
		registry:   registry,
		runner:     runner,
		emitter:    cfg.Emitter,
		collab:     cfg.Collaborator,
		logger:     logger,
		metrics:    recorder,
		encoding:   cfg.Encoding,
		ffmpegPath: path,
		stopGrace:  grace,
		queueDepth: cfg.QueueDepth,
	}
}

// Registry exposes the session registry shared with the stream relay.
func (s *Supervisor) Registry() *Registry { return s.registry }

// Start spawns a transcoding process for sessionID fanning out to
// destinations. An existing process for the session is terminated and
// discarded first; re-issuing Start is a hot replace, not an error. Exactly
// one status event is emitted: started on success, error on failure.
func (s *Supervisor) Start(ctx context.Context, sessionID string, destinations []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	args, err := buildArgs(s.encoding, destinations)
	if err != nil {
		s.emit(sessionID, Status{Status: StatusError, Message: fmt.Sprintf("failed to start stream: %v", err)})
		return err
	}

	unlock := s.registry.Lock(sessionID)
	defer unlock()

	if old := s.registry.remove(sessionID); old != nil {
		s.logger.Info("replacing previous process", "session_id", sessionID)
		old.simCancel()
		s.retire(old)
		s.metrics.SessionStopped()
	}

	proc, err := s.runner.Start(StartSpec{
		Name:   s.ffmpegPath,
		Args:   args,
		Stderr: newProcessLogWriter(s.logger, sessionID),
	})
	if err != nil {
		s.metrics.ObserveProcessEvent("spawn_failed")
		s.logger.Error("failed to spawn process", "session_id", sessionID, "error", err)
		s.emit(sessionID, Status{Status: StatusError, Message: fmt.Sprintf("failed to start stream: %v", err)})
		return fmt.Errorf("start session %s: %w", sessionID, err)
	}

	handle := newHandle(sessionID, proc, s.logger, s.queueDepth, s.onProcessExit, s.onWriteError)
	simCtx, simCancel := context.WithCancel(context.Background())
	s.registry.register(sessionID, handle, simCancel)
	if s.collab != nil {
		s.collab.Begin(simCtx, sessionID, destinations)
	}

	s.metrics.SessionStarted()
	s.metrics.ObserveProcessEvent("spawned")
	s.logger.Info("process started", "session_id", sessionID, "destinations", len(destinations))
	s.emit(sessionID, Status{Status: StatusStarted, Message: fmt.Sprintf("streaming to %d destination(s)", len(destinations))})
	return nil
}

// Stop signals graceful end-of-input for the session's process, schedules a
// forced kill after the grace period, and removes the registry entry
// immediately. A stop for an idle session is a no-op.
func (s *Supervisor) Stop(sessionID string) {
	unlock := s.registry.Lock(sessionID)
	ent := s.registry.remove(sessionID)
	unlock()
	if ent == nil {
		s.logger.Debug("stop requested for idle session", "session_id", sessionID)
		return
	}
	ent.simCancel()
	handle := ent.handle
	handle.CloseInput()

	// The kill timer loses to a normal exit: Done fires first and the
	// timer is discarded.
	go func() {
		timer := time.NewTimer(s.stopGrace)
		defer timer.Stop()
		select {
		case <-handle.Done():
		case <-timer.C:
			s.logger.Warn("process did not exit within grace period", "session_id", sessionID)
			if err := handle.Kill(); err != nil {
				s.logger.Debug("kill process", "session_id", sessionID, "error", err)
			}
			s.metrics.ObserveProcessEvent("killed")
		}
	}()

	s.metrics.SessionStopped()
	s.logger.Info("stream stopped", "session_id", sessionID)
	s.emit(sessionID, Status{Status: StatusStopped, Message: "stream stopped"})
}

// Terminate tears down the session's process without the grace-period kill
// scheduling: end-of-input plus an immediate interrupt, fire-and-forget.
// Used on transport disconnect and during process-wide shutdown.
func (s *Supervisor) Terminate(sessionID string) {
	unlock := s.registry.Lock(sessionID)
	ent := s.registry.remove(sessionID)
	unlock()
	if ent == nil {
		return
	}
	ent.simCancel()
	s.retire(ent)
	s.metrics.SessionStopped()
	s.logger.Info("session terminated", "session_id", sessionID)
}

// Shutdown cancels every active session's process independently and waits,
// bounded by ctx, for the processes to exit. Processes still running at the
// deadline are killed.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	var group errgroup.Group
	for _, sessionID := range s.registry.Sessions() {
		sessionID := sessionID
		group.Go(func() error {
			unlock := s.registry.Lock(sessionID)
			ent := s.registry.remove(sessionID)
			unlock()
			if ent == nil {
				return nil
			}
			ent.simCancel()
			s.retire(ent)
			s.metrics.SessionStopped()
			select {
			case <-ent.handle.Done():
				return nil
			case <-ctx.Done():
				if err := ent.handle.Kill(); err != nil {
					s.logger.Debug("kill process", "session_id", sessionID, "error", err)
				}
				s.metrics.ObserveProcessEvent("killed")
				return ctx.Err()
			}
		})
	}
	return group.Wait()
}

// retire delivers end-of-input and an interrupt to a handle that is being
// discarded. Signal errors mean the process is already gone; cleanup has
// happened regardless.
func (s *Supervisor) retire(ent *entry) {
	ent.handle.CloseInput()
	if err := ent.handle.Signal(os.Interrupt); err != nil {
		s.logger.Debug("interrupt process", "session_id", ent.handle.SessionID(), "error", err)
	}
}

// onProcessExit runs once per process from the handle's exit watcher. The
// registry entry is removed only if it still holds the exiting handle,
// which makes the observer idempotent with explicit stops and safe across
// hot replaces; the losing path is a no-op.
func (s *Supervisor) onProcessExit(h *Handle, info ExitInfo) {
	unlock := s.registry.Lock(h.SessionID())
	ent := s.registry.removeIf(h.SessionID(), h)
	unlock()
	s.metrics.ObserveProcessEvent("exited")
	if ent == nil {
		return
	}
	ent.simCancel()
	s.metrics.SessionStopped()
	message := fmt.Sprintf("stream ended (code %d)", info.Code)
	if info.Signal != "" {
		message = fmt.Sprintf("stream ended (signal %s)", info.Signal)
	}
	s.logger.Info("process exited", "session_id", h.SessionID(), "code", info.Code, "signal", info.Signal)
	s.emit(h.SessionID(), Status{Status: StatusStopped, Message: message, Detail: info})
}

// onWriteError runs once per handle when a queued chunk could not be
// written to the process input pipe.
func (s *Supervisor) onWriteError(sessionID string, err error) {
	s.metrics.ObserveRelayError("write_error")
	s.logger.Warn("stream write error", "session_id", sessionID, "error", err)
	s.emit(sessionID, Status{Status: StatusError, Message: fmt.Sprintf("stream write error: %v", err)})
}

func (s *Supervisor) emit(sessionID string, status Status) {
	s.metrics.ObserveStatus(status.Status)
	if s.emitter != nil {
		s.emitter.Emit(sessionID, status)
	}
}
