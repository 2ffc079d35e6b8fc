package relay

import (
	"bytes"
	"log/slog"
)

// processLogWriter splits process stderr output into lines and forwards
// them to the session's logger. ffmpeg reports progress on stderr, so
// ordinary lines land at debug and error-looking lines at warn.
type processLogWriter struct {
	logger *slog.Logger
}

func newProcessLogWriter(logger *slog.Logger, sessionID string) *processLogWriter {
	return &processLogWriter{logger: logger.With("session_id", sessionID, "stream", "stderr")}
}

func (w *processLogWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		idx := bytes.IndexByte(p, '\n')
		var line []byte
		if idx == -1 {
			line, p = p, nil
		} else {
			line, p = p[:idx], p[idx+1:]
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if bytes.Contains(line, []byte("Error")) || bytes.Contains(line, []byte("error")) {
			w.logger.Warn(string(line))
		} else {
			w.logger.Debug(string(line))
		}
	}
	return total, nil
}
