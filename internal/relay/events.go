package relay

import "context"

// Lifecycle states reported to sessions.
const (
	StatusStarted = "started"
	StatusError   = "error"
	StatusStopped = "stopped"
)

// Status describes a lifecycle transition of a session's transcoding
// pipeline. Detail carries optional structured context such as the process
// exit code.
type Status struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Detail  any    `json:"detail,omitempty"`
}

// Emitter delivers status events to the session that owns the pipeline.
// Events are never broadcast; delivery is best-effort and implementations
// must not block the caller.
type Emitter interface {
	Emit(sessionID string, status Status)
}

// Collaborator is begun for a session when its pipeline starts and is
// expected to stop when the provided context is cancelled. The supervisor
// treats it as decorative: collaborator failures never affect the relay.
type Collaborator interface {
	Begin(ctx context.Context, sessionID string, destinations []string)
}
