package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"chicken/broker/internal/grpc"
	"chicken/broker/internal/logging"
	"chicken/broker/internal/replay"
	"chicken/broker/internal/session"
	"chicken/broker/internal/simulation"
)

// ReadinessProvider exposes server state required for readiness checks.
type ReadinessProvider interface {
	SessionCounts() (active, participants int)
	StartupError() error
	Uptime() time.Duration
}

// SessionAdmin lists and aborts running experiment sessions.
type SessionAdmin interface {
	List() []session.Snapshot
	Abort(id, reason string) error
}

// RateLimiter gates how frequently sensitive operations may be invoked.
type RateLimiter interface {
	Allow() bool
}

// Options configures the HandlerSet.
type Options struct {
	Logger      *logging.Logger
	Readiness   ReadinessProvider
	Sessions    SessionAdmin
	Ticks       func() simulation.TickMetricsSnapshot
	Results     func() grpc.CollectorStats
	Storage     func() replay.StorageStats
	AdminToken  string
	RateLimiter RateLimiter
	TimeSource  func() time.Time
}

// HandlerSet bundles the operational handlers.
type HandlerSet struct {
	logger      *logging.Logger
	readiness   ReadinessProvider
	sessions    SessionAdmin
	ticks       func() simulation.TickMetricsSnapshot
	results     func() grpc.CollectorStats
	storage     func() replay.StorageStats
	adminToken  string
	rateLimiter RateLimiter
	now         func() time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:      logger,
		readiness:   opts.Readiness,
		sessions:    opts.Sessions,
		ticks:       opts.Ticks,
		results:     opts.Results,
		storage:     opts.Storage,
		adminToken:  strings.TrimSpace(opts.AdminToken),
		rateLimiter: opts.RateLimiter,
		now:         now,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/sessions", h.SessionsHandler())
	mux.HandleFunc("/sessions/", h.AbortHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports readiness, including session counts and startup status.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string  `json:"status"`
		Message       string  `json:"message,omitempty"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Sessions      int     `json:"sessions"`
		Participants  int     `json:"participants"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok"}
		if h.readiness != nil {
			resp.Sessions, resp.Participants = h.readiness.SessionCounts()
			resp.UptimeSeconds = h.readiness.Uptime().Seconds()
			if err := h.readiness.StartupError(); err != nil {
				status = http.StatusServiceUnavailable
				resp.Status = "error"
				resp.Message = err.Error()
			}
		}
		writeJSON(w, status, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var sessions, participants int
		var uptime float64
		if h.readiness != nil {
			sessions, participants = h.readiness.SessionCounts()
			uptime = h.readiness.Uptime().Seconds()
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprintf(w, "# HELP chicken_uptime_seconds Server uptime in seconds.\n")
		fmt.Fprintf(w, "# TYPE chicken_uptime_seconds gauge\n")
		fmt.Fprintf(w, "chicken_uptime_seconds %.0f\n", uptime)

		fmt.Fprintf(w, "# HELP chicken_sessions Running experiment sessions.\n")
		fmt.Fprintf(w, "# TYPE chicken_sessions gauge\n")
		fmt.Fprintf(w, "chicken_sessions %d\n", sessions)

		fmt.Fprintf(w, "# HELP chicken_participants Connected participant WebSockets.\n")
		fmt.Fprintf(w, "# TYPE chicken_participants gauge\n")
		fmt.Fprintf(w, "chicken_participants %d\n", participants)

		if h.ticks != nil {
			ticks := h.ticks()
			fmt.Fprintf(w, "# HELP chicken_tick_seconds Session frame duration statistics.\n")
			fmt.Fprintf(w, "# TYPE chicken_tick_seconds gauge\n")
			fmt.Fprintf(w, "chicken_tick_seconds{stat=\"average\"} %.6f\n", ticks.Average.Seconds())
			fmt.Fprintf(w, "chicken_tick_seconds{stat=\"max\"} %.6f\n", ticks.Max.Seconds())
			fmt.Fprintf(w, "chicken_tick_seconds{stat=\"last\"} %.6f\n", ticks.Last.Seconds())
			fmt.Fprintf(w, "# HELP chicken_tick_overruns_total Frames that exceeded the fixed step budget.\n")
			fmt.Fprintf(w, "# TYPE chicken_tick_overruns_total counter\n")
			fmt.Fprintf(w, "chicken_tick_overruns_total %d\n", ticks.Overruns)
		}
		if h.results != nil {
			results := h.results()
			fmt.Fprintf(w, "# HELP chicken_results_total Experiment documents received by the collector.\n")
			fmt.Fprintf(w, "# TYPE chicken_results_total counter\n")
			fmt.Fprintf(w, "chicken_results_total{outcome=\"accepted\"} %d\n", results.Accepted)
			fmt.Fprintf(w, "chicken_results_total{outcome=\"rejected\"} %d\n", results.Rejected)
		}
		if h.storage != nil {
			storage := h.storage()
			fmt.Fprintf(w, "# HELP chicken_bundles Experiment bundles on disk.\n")
			fmt.Fprintf(w, "# TYPE chicken_bundles gauge\n")
			fmt.Fprintf(w, "chicken_bundles{state=\"open\"} %d\n", storage.Open)
			fmt.Fprintf(w, "chicken_bundles{state=\"closed\"} %d\n", storage.Bundles-storage.Open)
			fmt.Fprintf(w, "# HELP chicken_bundle_bytes Bytes used by experiment bundles.\n")
			fmt.Fprintf(w, "# TYPE chicken_bundle_bytes gauge\n")
			fmt.Fprintf(w, "chicken_bundle_bytes %d\n", storage.Bytes)
		}
	}
}

// SessionsHandler lists running sessions for authorised operators.
func (h *HandlerSet) SessionsHandler() http.HandlerFunc {
	type response struct {
		Sessions []session.Snapshot `json:"sessions"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		reqLogger := h.requestLogger("sessions", r)
		if !h.admit(w, r, reqLogger) {
			return
		}
		if h.sessions == nil {
			writeJSON(w, http.StatusOK, response{Sessions: []session.Snapshot{}})
			return
		}
		writeJSON(w, http.StatusOK, response{Sessions: h.sessions.List()})
	}
}

// AbortHandler ends a session early via POST /sessions/{id}/abort.
func (h *HandlerSet) AbortHandler() http.HandlerFunc {
	type response struct {
		Status  string `json:"status"`
		Session string `json:"session"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.requestLogger("session_abort", r)
		id, ok := strings.CutSuffix(strings.TrimPrefix(r.URL.Path, "/sessions/"), "/abort")
		if !ok || id == "" || strings.Contains(id, "/") {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !h.admit(w, r, reqLogger) {
			return
		}
		if h.rateLimiter != nil && !h.rateLimiter.Allow() {
			reqLogger.Warn("session abort denied: rate limit exceeded")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		if h.sessions == nil {
			http.Error(w, "session administration is unavailable", http.StatusServiceUnavailable)
			return
		}
		reason := strings.TrimSpace(r.URL.Query().Get("reason"))
		if reason == "" {
			reason = "operator"
		}
		if err := h.sessions.Abort(id, reason); err != nil {
			if errors.Is(err, session.ErrUnknownSession) {
				http.Error(w, "unknown session", http.StatusNotFound)
				return
			}
			reqLogger.Error("session abort failed", logging.Error(err), logging.Session(id))
			http.Error(w, "failed to abort session", http.StatusInternalServerError)
			return
		}
		reqLogger.Info("session abort requested", logging.Session(id), logging.String("reason", reason))
		writeJSON(w, http.StatusAccepted, response{Status: "aborted", Session: id})
	}
}

func (h *HandlerSet) requestLogger(handler string, r *http.Request) *logging.Logger {
	return h.logger.With(
		logging.String("handler", handler),
		logging.String("remote_addr", r.RemoteAddr),
	)
}

// admit writes the rejection response and returns false when the request is not authorised.
func (h *HandlerSet) admit(w http.ResponseWriter, r *http.Request, reqLogger *logging.Logger) bool {
	if h.adminToken == "" {
		reqLogger.Warn("admin request denied: admin auth disabled")
		http.Error(w, "admin authentication not configured", http.StatusForbidden)
		return false
	}
	if !h.authorise(r) {
		reqLogger.Warn("admin request denied: unauthorized request")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	} else if header != "" {
		token = header
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
