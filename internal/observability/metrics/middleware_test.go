package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResponseRecorderDefaultsToOK(t *testing.T) {
	rr := NewResponseRecorder(httptest.NewRecorder())
	if rr.Status() != http.StatusOK {
		t.Fatalf("unexpected default status: got %d want %d", rr.Status(), http.StatusOK)
	}
}

func TestResponseRecorderCapturesStatus(t *testing.T) {
	inner := httptest.NewRecorder()
	rr := NewResponseRecorder(inner)

	rr.WriteHeader(http.StatusAccepted)

	if rr.Status() != http.StatusAccepted {
		t.Fatalf("unexpected captured status: got %d want %d", rr.Status(), http.StatusAccepted)
	}
	if inner.Code != http.StatusAccepted {
		t.Fatalf("status was not forwarded: got %d want %d", inner.Code, http.StatusAccepted)
	}
}

func TestResponseRecorderHijackUnsupported(t *testing.T) {
	rr := NewResponseRecorder(httptest.NewRecorder())
	if _, _, err := rr.Hijack(); err == nil {
		t.Fatal("expected hijack to fail for a plain recorder")
	}
}
