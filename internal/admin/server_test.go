package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danmuck/dbgwire/internal/engine"
	"github.com/danmuck/dbgwire/internal/testutil/testlog"
)

type stubSource struct {
	status   engine.Status
	suspends int
	resumeFn func() error
}

func (s *stubSource) Status() engine.Status { return s.status }

func (s *stubSource) Suspend(context.Context) error {
	s.suspends++
	return nil
}

func (s *stubSource) Resume(context.Context) error {
	if s.resumeFn != nil {
		return s.resumeFn()
	}
	return nil
}

func do(t *testing.T, s *Server, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body of %s %s: %v (%s)", method, path, err, rr.Body.String())
	}
	return rr, body
}

func TestReadyFollowsConnection(t *testing.T) {
	testlog.Start(t)
	src := &stubSource{status: engine.Status{Session: "s1", Connected: true}}
	s := New("127.0.0.1:0", src, Options{})

	rr, body := do(t, s, http.MethodGet, "/ready")
	if rr.Code != http.StatusOK || body["ready"] != true {
		t.Fatalf("expected ready, got %d %v", rr.Code, body)
	}
	src.status.Connected = false
	rr, body = do(t, s, http.MethodGet, "/ready")
	if rr.Code != http.StatusServiceUnavailable || body["ready"] != false {
		t.Fatalf("expected not ready, got %d %v", rr.Code, body)
	}
}

func TestStatusReportsSnapshot(t *testing.T) {
	testlog.Start(t)
	src := &stubSource{status: engine.Status{Session: "s2", Remote: "10.0.0.1:5005", Connected: true, Pending: 3}}
	s := New("127.0.0.1:0", src, Options{})

	rr, body := do(t, s, http.MethodGet, "/status")
	if rr.Code != http.StatusOK {
		t.Fatalf("status code %d", rr.Code)
	}
	if body["session"] != "s2" || body["remote"] != "10.0.0.1:5005" || body["pending_requests"] != float64(3) {
		t.Fatalf("unexpected status body %v", body)
	}
}

func TestActions(t *testing.T) {
	testlog.Start(t)
	src := &stubSource{status: engine.Status{Session: "s3"}}
	s := New("127.0.0.1:0", src, Options{})

	if rr, _ := do(t, s, http.MethodPost, "/actions/suspend"); rr.Code != http.StatusOK || src.suspends != 1 {
		t.Fatalf("suspend action: code=%d suspends=%d", rr.Code, src.suspends)
	}
	if rr, _ := do(t, s, http.MethodPost, "/actions/explode"); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown action code %d", rr.Code)
	}
	src.resumeFn = func() error { return errors.New("dispatch: disconnected") }
	if rr, body := do(t, s, http.MethodPost, "/actions/resume"); rr.Code != http.StatusBadGateway || body["error"] == nil {
		t.Fatalf("failed action: code=%d body=%v", rr.Code, body)
	}
}

func TestActionsRequireToken(t *testing.T) {
	testlog.Start(t)
	src := &stubSource{status: engine.Status{Session: "s5"}}
	s := New("127.0.0.1:0", src, Options{Token: "letmein"})

	if rr, _ := do(t, s, http.MethodPost, "/actions/suspend"); rr.Code != http.StatusUnauthorized || src.suspends != 0 {
		t.Fatalf("unauthenticated action: code=%d suspends=%d", rr.Code, src.suspends)
	}
	req := httptest.NewRequest(http.MethodPost, "/actions/suspend", nil)
	req.Header.Set("Authorization", "Bearer letmein")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || src.suspends != 1 {
		t.Fatalf("authenticated action: code=%d suspends=%d", rr.Code, src.suspends)
	}
	if rr, _ := do(t, s, http.MethodGet, "/status"); rr.Code != http.StatusOK {
		t.Fatalf("read routes stay open, got %d", rr.Code)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	s := New("127.0.0.1:0", &stubSource{status: engine.Status{Session: "s4", Connected: true}}, Options{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ServeListener(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health code %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not stop")
	}
}
