package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory counters and gauges for HTTP requests,
// session lifecycle, relayed media chunks, process events, and simulator
// activity. It coordinates concurrent writers via a RWMutex while exposing
// thread-safe gauges for active session tracking.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	processEvents   map[string]uint64
	relayErrors     map[string]uint64
	statusEvents    map[string]uint64
	chunksRelayed   uint64
	bytesRelayed    uint64
	simulatorTicks  uint64
	activeSessions  atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		processEvents:   make(map[string]uint64),
		relayErrors:     make(map[string]uint64),
		statusEvents:    make(map[string]uint64),
	}
}

// Default returns the process-wide Recorder shared by components that are
// not handed an explicit instance.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest records one completed HTTP request.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{method: method, path: path, status: fmt.Sprintf("%d", status)}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
}

// SessionStarted increments the active session gauge.
func (r *Recorder) SessionStarted() {
	r.activeSessions.Add(1)
}

// SessionStopped decrements the active session gauge, bottoming out at zero.
func (r *Recorder) SessionStopped() {
	for {
		current := r.activeSessions.Load()
		if current <= 0 {
			return
		}
		if r.activeSessions.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// ActiveSessions reports the current number of sessions with a live process.
func (r *Recorder) ActiveSessions() int64 {
	return r.activeSessions.Load()
}

// ObserveProcessEvent records a transcoding process lifecycle event such as
// spawned, spawn_failed, exited, or killed.
func (r *Recorder) ObserveProcessEvent(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processEvents[event]++
}

// ObserveRelayError records a relay failure by kind.
func (r *Recorder) ObserveRelayError(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.relayErrors[kind]++
}

// ObserveStatus records a stream-status emission by status value.
func (r *Recorder) ObserveStatus(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statusEvents[status]++
}

// ObserveChunk records one relayed chunk of the given size.
func (r *Recorder) ObserveChunk(size int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunksRelayed++
	if size > 0 {
		r.bytesRelayed += uint64(size)
	}
}

// ObserveSimulatorTick records one simulation interval for a session.
func (r *Recorder) ObserveSimulatorTick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.simulatorTicks++
}

// ChunkCounts reports the total chunks and bytes relayed so far.
func (r *Recorder) ChunkCounts() (chunks uint64, bytes uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.chunksRelayed, r.bytesRelayed
}

// RelayErrorCounts returns a copy of the relay error counters by kind.
func (r *Recorder) RelayErrorCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]uint64, len(r.relayErrors))
	for kind, count := range r.relayErrors {
		out[kind] = count
	}
	return out
}

// Reset clears all recorded values. Intended for tests.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.processEvents = make(map[string]uint64)
	r.relayErrors = make(map[string]uint64)
	r.statusEvents = make(map[string]uint64)
	r.chunksRelayed = 0
	r.bytesRelayed = 0
	r.simulatorTicks = 0
	r.mu.Unlock()
	r.activeSessions.Store(0)
}

// Handler exposes the Recorder in Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	processEvents := sortedKeys(r.processEvents)
	relayErrors := sortedKeys(r.relayErrors)
	statusEvents := sortedKeys(r.statusEvents)

	fmt.Fprintln(w, "# HELP relaycast_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE relaycast_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "relaycast_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP relaycast_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE relaycast_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "relaycast_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP relaycast_active_sessions Current number of sessions with a live transcoding process")
	fmt.Fprintln(w, "# TYPE relaycast_active_sessions gauge")
	fmt.Fprintf(w, "relaycast_active_sessions %d\n", r.activeSessions.Load())

	fmt.Fprintln(w, "# HELP relaycast_process_events_total Transcoding process lifecycle events by type")
	fmt.Fprintln(w, "# TYPE relaycast_process_events_total counter")
	for _, event := range processEvents {
		fmt.Fprintf(w, "relaycast_process_events_total{event=\"%s\"} %d\n", event, r.processEvents[event])
	}

	fmt.Fprintln(w, "# HELP relaycast_relay_errors_total Relay failures by kind")
	fmt.Fprintln(w, "# TYPE relaycast_relay_errors_total counter")
	for _, kind := range relayErrors {
		fmt.Fprintf(w, "relaycast_relay_errors_total{kind=\"%s\"} %d\n", kind, r.relayErrors[kind])
	}

	fmt.Fprintln(w, "# HELP relaycast_status_events_total Stream status emissions by status")
	fmt.Fprintln(w, "# TYPE relaycast_status_events_total counter")
	for _, status := range statusEvents {
		fmt.Fprintf(w, "relaycast_status_events_total{status=\"%s\"} %d\n", status, r.statusEvents[status])
	}

	fmt.Fprintln(w, "# HELP relaycast_chunks_relayed_total Media chunks written into process input queues")
	fmt.Fprintln(w, "# TYPE relaycast_chunks_relayed_total counter")
	fmt.Fprintf(w, "relaycast_chunks_relayed_total %d\n", r.chunksRelayed)

	fmt.Fprintln(w, "# HELP relaycast_bytes_relayed_total Media bytes written into process input queues")
	fmt.Fprintln(w, "# TYPE relaycast_bytes_relayed_total counter")
	fmt.Fprintf(w, "relaycast_bytes_relayed_total %d\n", r.bytesRelayed)

	fmt.Fprintln(w, "# HELP relaycast_simulator_ticks_total Viewer/chat simulation intervals executed")
	fmt.Fprintln(w, "# TYPE relaycast_simulator_ticks_total counter")
	fmt.Fprintf(w, "relaycast_simulator_ticks_total %d\n", r.simulatorTicks)
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func sortedKeys(values map[string]uint64) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Handler exposes the default Recorder in Prometheus text format.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
