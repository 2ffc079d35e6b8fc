package server

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"

	"relaycast/internal/observability/logging"
)

const requestIDHeader = "X-Request-ID"

// requestIDMiddleware tags every request with an identifier, honouring one
// supplied by the client, and stores it on the context for downstream
// loggers.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = newRequestID()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := logging.ContextWithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newRequestID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(buf)
}
