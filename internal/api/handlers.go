package api

import (
	"log/slog"
	"net/http"

	"relaycast/internal/counter"
	"relaycast/internal/gateway"
)

// HandlerConfig wires a Handler.
type HandlerConfig struct {
	Logger  *slog.Logger
	Gateway *gateway.Gateway
	Counter counter.Counter
}

// Handler bundles the service's HTTP endpoints.
type Handler struct {
	logger  *slog.Logger
	gateway *gateway.Gateway
	counter counter.Counter
}

// NewHandler initialises a Handler, defaulting the logger and counter.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := cfg.Counter
	if c == nil {
		c = counter.NewMemory()
	}
	return &Handler{logger: logger, gateway: cfg.Gateway, counter: c}
}

// Health reports service liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CounterIncrement bumps the live counter and returns the new value.
func (h *Handler) CounterIncrement(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	value, err := h.counter.Increment(r.Context())
	if err != nil {
		h.logger.Error("increment counter", "error", err)
		http.Error(w, "counter unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"counter": value})
}

// CounterValue returns the current live counter value.
func (h *Handler) CounterValue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	value, err := h.counter.Value(r.Context())
	if err != nil {
		h.logger.Error("read counter", "error", err)
		http.Error(w, "counter unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"counter": value})
}

// StreamWebsocket hands the connection to the streaming gateway.
func (h *Handler) StreamWebsocket(w http.ResponseWriter, r *http.Request) {
	if h.gateway == nil {
		http.Error(w, "streaming unavailable", http.StatusServiceUnavailable)
		return
	}
	h.gateway.HandleConnection(w, r)
}
