package metrics

import (
	"bufio"
	"net"
	"net/http"
)

// ResponseRecorder wraps an http.ResponseWriter to capture the final status
// code. Hijacker and Flusher are forwarded so the websocket upgrade keeps
// working behind the middleware chain.
type ResponseRecorder struct {
	http.ResponseWriter
	status int
}

// NewResponseRecorder constructs a ResponseRecorder defaulting the status
// code to 200 OK when WriteHeader is never invoked by the handler.
func NewResponseRecorder(w http.ResponseWriter) *ResponseRecorder {
	return &ResponseRecorder{ResponseWriter: w, status: http.StatusOK}
}

// Status exposes the last status code written to the response.
func (rr *ResponseRecorder) Status() int {
	return rr.status
}

// WriteHeader captures the status code before delegating to the underlying
// ResponseWriter.
func (rr *ResponseRecorder) WriteHeader(status int) {
	rr.status = status
	rr.ResponseWriter.WriteHeader(status)
}

// Flush flushes the response when supported by the underlying writer.
func (rr *ResponseRecorder) Flush() {
	if flusher, ok := rr.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack preserves HTTP/1.1 connection hijacking when available.
func (rr *ResponseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rr.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}
