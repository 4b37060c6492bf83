package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chicken/broker/internal/grpc"
	"chicken/broker/internal/logging"
	"chicken/broker/internal/replay"
	"chicken/broker/internal/sequencer"
	"chicken/broker/internal/session"
	"chicken/broker/internal/simulation"
)

type stubReadiness struct {
	sessions     int
	participants int
	uptime       time.Duration
	err          error
}

func (s *stubReadiness) SessionCounts() (int, int) { return s.sessions, s.participants }
func (s *stubReadiness) StartupError() error       { return s.err }
func (s *stubReadiness) Uptime() time.Duration     { return s.uptime }

type stubLimiter struct {
	remaining int
}

func (s *stubLimiter) Allow() bool {
	if s.remaining <= 0 {
		return false
	}
	s.remaining--
	return true
}

type stubSessions struct {
	snapshots []session.Snapshot
	aborted   map[string]string
}

func (s *stubSessions) List() []session.Snapshot { return s.snapshots }

func (s *stubSessions) Abort(id, reason string) error {
	for _, snapshot := range s.snapshots {
		if snapshot.ID == id {
			if s.aborted == nil {
				s.aborted = make(map[string]string)
			}
			s.aborted[id] = reason
			return nil
		}
	}
	return session.ErrUnknownSession
}

func TestLivenessHandlerReturnsJSON(t *testing.T) {
	fixed := time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), TimeSource: func() time.Time { return fixed }})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/livez", nil)

	handlers.LivenessHandler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var payload struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "alive" {
		t.Fatalf("unexpected status %q", payload.Status)
	}
	if payload.Timestamp != fixed.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected timestamp %q", payload.Timestamp)
	}
}

func TestReadinessHandlerUnavailable(t *testing.T) {
	readiness := &stubReadiness{sessions: 3, participants: 2, uptime: 45 * time.Second, err: errors.New("boom")}
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Readiness: readiness})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	handlers.ReadinessHandler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var payload struct {
		Status        string  `json:"status"`
		Message       string  `json:"message"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Sessions      int     `json:"sessions"`
		Participants  int     `json:"participants"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "error" || payload.Message != "boom" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.Sessions != 3 || payload.Participants != 2 {
		t.Fatalf("unexpected counts: %+v", payload)
	}
	if payload.UptimeSeconds != readiness.uptime.Seconds() {
		t.Fatalf("unexpected uptime: got %f want %f", payload.UptimeSeconds, readiness.uptime.Seconds())
	}
}

func TestMetricsHandlerOutputsPrometheusFormat(t *testing.T) {
	readiness := &stubReadiness{sessions: 2, participants: 1, uptime: 90 * time.Second}
	handlers := NewHandlerSet(Options{
		Logger:    logging.NewTestLogger(),
		Readiness: readiness,
		Ticks: func() simulation.TickMetricsSnapshot {
			return simulation.TickMetricsSnapshot{Samples: 10, Average: 2 * time.Millisecond, Max: 25 * time.Millisecond, Overruns: 1}
		},
		Results: func() grpc.CollectorStats { return grpc.CollectorStats{Accepted: 5, Rejected: 1} },
		Storage: func() replay.StorageStats { return replay.StorageStats{Bundles: 4, Open: 1, Bytes: 2048} },
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	handlers.MetricsHandler().ServeHTTP(rr, req)

	if got := rr.Header().Get("Content-Type"); got != "text/plain; version=0.0.4" {
		t.Fatalf("unexpected content type %q", got)
	}
	body := rr.Body.String()
	for _, substr := range []string{
		"chicken_uptime_seconds 90",
		"chicken_sessions 2",
		"chicken_participants 1",
		`chicken_tick_seconds{stat="max"} 0.025000`,
		"chicken_tick_overruns_total 1",
		`chicken_results_total{outcome="accepted"} 5`,
		`chicken_results_total{outcome="rejected"} 1`,
		`chicken_bundles{state="closed"} 3`,
		"chicken_bundle_bytes 2048",
	} {
		if !strings.Contains(body, substr) {
			t.Fatalf("metrics missing %q:\n%s", substr, body)
		}
	}
}

func TestSessionsHandlerRequiresAdminToken(t *testing.T) {
	created := time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)
	sessions := &stubSessions{snapshots: []session.Snapshot{{ID: "s-1", State: sequencer.StateAwaitingGoal, Index: 3, Trials: 19, Created: created}}}
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Sessions: sessions, AdminToken: "topsecret"})

	rr := httptest.NewRecorder()
	handlers.SessionsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("X-Admin-Token", "topsecret")
	handlers.SessionsHandler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var payload struct {
		Sessions []struct {
			ID     string `json:"id"`
			State  string `json:"state"`
			Index  int    `json:"index"`
			Trials int    `json:"trials"`
		} `json:"sessions"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Sessions) != 1 || payload.Sessions[0].ID != "s-1" || payload.Sessions[0].Trials != 19 {
		t.Fatalf("unexpected sessions: %+v", payload.Sessions)
	}
	if payload.Sessions[0].State != sequencer.StateAwaitingGoal.String() {
		t.Fatalf("expected state name, got %q", payload.Sessions[0].State)
	}
}

func TestSessionsHandlerDisabledWithoutToken(t *testing.T) {
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Sessions: &stubSessions{}})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("Authorization", "Bearer anything")
	handlers.SessionsHandler().ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 when admin auth is disabled, got %d", rr.Code)
	}
}

func TestAbortHandlerAuthAndRateLimits(t *testing.T) {
	sessions := &stubSessions{snapshots: []session.Snapshot{{ID: "s-1"}}}
	limiter := &stubLimiter{remaining: 2}
	handlers := NewHandlerSet(Options{
		Logger:      logging.NewTestLogger(),
		Sessions:    sessions,
		AdminToken:  "topsecret",
		RateLimiter: limiter,
	})
	mux := http.NewServeMux()
	handlers.Register(mux)

	makeRequest := func(method, path, token string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(method, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		mux.ServeHTTP(rr, req)
		return rr
	}

	if resp := makeRequest(http.MethodPost, "/sessions/s-1/abort", ""); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized for missing token, got %d", resp.Code)
	}
	if resp := makeRequest(http.MethodGet, "/sessions/s-1/abort", "topsecret"); resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", resp.Code)
	}
	if resp := makeRequest(http.MethodPost, "/sessions/s-1/pause", "topsecret"); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown action, got %d", resp.Code)
	}
	if resp := makeRequest(http.MethodPost, "/sessions/s-1/abort?reason=dropout", "topsecret"); resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for authorised request, got %d", resp.Code)
	}
	if sessions.aborted["s-1"] != "dropout" {
		t.Fatalf("expected abort reason to be forwarded, got %+v", sessions.aborted)
	}
	if resp := makeRequest(http.MethodPost, "/sessions/missing/abort", "topsecret"); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", resp.Code)
	}
	if resp := makeRequest(http.MethodPost, "/sessions/s-1/abort", "topsecret"); resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected rate limit, got %d", resp.Code)
	}
}
