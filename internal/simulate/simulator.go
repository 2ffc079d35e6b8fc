// Package simulate feeds sessions periodic viewer-count and chat updates
// for their streaming destinations. The data is synthetic and decorative:
// nothing here participates in relay correctness, and every failure is
// logged and skipped.
package simulate

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"relaycast/internal/observability/metrics"
)

// DefaultInterval matches the original backend's five-second update cadence.
const DefaultInterval = 5 * time.Second

// HistoryLimit caps how many chat records a session retains.
const HistoryLimit = 50

// ChatRecord is one synthetic chat message attributed to a destination
// platform.
type ChatRecord struct {
	Platform  string `json:"platform"`
	User      string `json:"user"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Emitter delivers simulation updates to the owning session. Delivery is
// best-effort; implementations must not block.
type Emitter interface {
	EmitViewerUpdate(sessionID string, counts map[string]int)
	EmitChatUpdate(sessionID string, records []ChatRecord)
}

// History stores per-session chat records, trimmed to the most recent
// HistoryLimit entries.
type History interface {
	// Append stores records for the session and returns the retained
	// window, oldest first.
	Append(ctx context.Context, sessionID string, records []ChatRecord) ([]ChatRecord, error)
	// Clear drops the session's records.
	Clear(ctx context.Context, sessionID string) error
}

// Config assembles a Simulator.
type Config struct {
	Emitter  Emitter
	History  History
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
	Interval time.Duration
}

// Simulator runs one goroutine per streaming session, emitting fixed-table
// viewer counts and synthetic chat messages until the session's context is
// cancelled.
type Simulator struct {
	emitter  Emitter
	history  History
	logger   *slog.Logger
	metrics  *metrics.Recorder
	interval time.Duration
}

// New initialises a simulator, defaulting the history store, logger,
// metrics recorder, and interval.
func New(cfg Config) *Simulator {
	history := cfg.History
	if history == nil {
		history = NewMemoryHistory()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Simulator{
		emitter:  cfg.Emitter,
		history:  history,
		logger:   logger,
		metrics:  recorder,
		interval: interval,
	}
}

// Begin starts the simulation loop for one session. It returns immediately;
// the loop stops and clears the session's history when ctx is cancelled.
func (s *Simulator) Begin(ctx context.Context, sessionID string, destinations []string) {
	dests := make([]string, len(destinations))
	copy(dests, destinations)
	go s.run(ctx, sessionID, dests)
}

func (s *Simulator) run(ctx context.Context, sessionID string, destinations []string) {
	defer func() {
		if err := s.history.Clear(context.Background(), sessionID); err != nil {
			s.logger.Debug("clear chat history", "session_id", sessionID, "error", err)
		}
	}()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, sessionID, destinations)
		}
	}
}

func (s *Simulator) tick(ctx context.Context, sessionID string, destinations []string) {
	counts := make(map[string]int, len(destinations))
	fresh := make([]ChatRecord, 0, len(destinations))
	timestamp := time.Now().Format("15:04:05")
	for _, destination := range destinations {
		platform := PlatformFor(destination)
		counts[platform] = ViewerCountFor(platform)
		fresh = append(fresh, ChatRecord{
			Platform:  platform,
			User:      fmt.Sprintf("User_%d", rand.Intn(1000)),
			Message:   fmt.Sprintf("Sample message from %s", platform),
			Timestamp: timestamp,
		})
	}

	records, err := s.history.Append(ctx, sessionID, fresh)
	if err != nil {
		s.logger.Warn("append chat history", "session_id", sessionID, "error", err)
		records = fresh
	}

	s.metrics.ObserveSimulatorTick()
	if s.emitter != nil {
		s.emitter.EmitViewerUpdate(sessionID, counts)
		s.emitter.EmitChatUpdate(sessionID, records)
	}
}
