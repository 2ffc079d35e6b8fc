package simulate

import (
	"context"
	"sync"
)

// MemoryHistory keeps chat records in process memory. Suitable for single
// instance deployments and tests.
type MemoryHistory struct {
	mu       sync.Mutex
	sessions map[string][]ChatRecord
}

// NewMemoryHistory returns an empty in-memory history store.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{sessions: make(map[string][]ChatRecord)}
}

// Append implements History.
func (m *MemoryHistory) Append(_ context.Context, sessionID string, records []ChatRecord) ([]ChatRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	combined := append(m.sessions[sessionID], records...)
	if len(combined) > HistoryLimit {
		combined = combined[len(combined)-HistoryLimit:]
	}
	m.sessions[sessionID] = combined
	out := make([]ChatRecord, len(combined))
	copy(out, combined)
	return out, nil
}

// Clear implements History.
func (m *MemoryHistory) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}
