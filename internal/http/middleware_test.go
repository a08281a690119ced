package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type recordedRequest struct {
	method, path string
	status       int
}

type stubHTTPRecorder struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (r *stubHTTPRecorder) HTTPRequest(method, path string, status int, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, recordedRequest{method: method, path: path, status: status})
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	t.Parallel()

	var healthErr error
	recorder := &stubHTTPRecorder{}
	router := NewRouter(RouterConfig{
		Meetings: NewMeetingHandler(&stubService{}, nil),
		Health:   func(context.Context) error { return healthErr },
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		}),
		Recorder: recorder,
	})

	rec := serve(t, router, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected healthz to be public, got %d", rec.Code)
	}
	rec = serve(t, router, http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "# metrics\n" {
		t.Fatalf("expected metrics to be served, got %d %q", rec.Code, rec.Body.String())
	}

	healthErr = errors.New("database unreachable")
	rec = serve(t, router, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when the health check fails, got %d", rec.Code)
	}

	serve(t, router, http.MethodGet, "/meetings/m-42", "", "coach-1")
	last := recorder.requests[len(recorder.requests)-1]
	if last.path != "/meetings/{id}" || last.status != http.StatusOK || last.method != http.MethodGet {
		t.Fatalf("expected the route template to be recorded, got %+v", last)
	}
}

func TestRequestLogger_AttachesLogger(t *testing.T) {
	t.Parallel()

	var sawLogger bool
	handler := RequestLogger(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawLogger = LoggerFromContext(r.Context()) != nil
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/anything", nil))
	if !sawLogger || rec.Code != http.StatusTeapot {
		t.Fatalf("expected a request logger and the handler status, got %v %d", sawLogger, rec.Code)
	}
}

func TestRecover(t *testing.T) {
	t.Parallel()

	handler := Recover(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 after a panic, got %d", rec.Code)
	}
}
