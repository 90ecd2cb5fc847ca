// Package health serves the gateway's liveness/readiness endpoint,
// reporting display-supervisor and browser-launcher state in place of
// an upstream-gateway HTTP reachability probe (spec.md §4.9).
package health

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/0xmemo-claw/openclaw/internal/auth"
	"github.com/0xmemo-claw/openclaw/internal/display"
	"github.com/0xmemo-claw/openclaw/internal/logring"
)

// recentIssueWindow bounds how far back the detailed health response
// looks when summarizing recent warnings/errors.
const recentIssueWindow = 5 * time.Minute

// Response is the JSON response from the /health endpoint.
type Response struct {
	Status          string   `json:"status"`
	Uptime          string   `json:"uptime"`
	ActiveSiblings  int      `json:"active_siblings"`
	DisplayUp       bool     `json:"display_up"`
	FramebufferUp   bool     `json:"framebuffer_up"`
	LauncherRunning bool     `json:"launcher_running"`
	Version         string   `json:"version"`
	Timestamp       string   `json:"timestamp"`
	Details         *Details `json:"details,omitempty"`
}

// Details contains extended health information.
type Details struct {
	DisplayPID     int     `json:"display_pid"`
	FbPID          int     `json:"fb_pid"`
	MemoryMB       float64 `json:"memory_mb"`
	WarningsRecent int     `json:"warnings_last_5m"`
	ErrorsRecent   int     `json:"errors_last_5m"`
}

// BrowserRunner reports whether the browser child process is alive. It
// is satisfied by *launcher.Launcher.
type BrowserRunner interface {
	Running() bool
}

// Handler serves the health check endpoint.
type Handler struct {
	startTime  time.Time
	supervisor *display.Supervisor
	launcher   BrowserRunner
	registry   *auth.Registry
	ring       *logring.RingBuffer
	version    string
	detailed   bool
}

// NewHandler creates a new health check handler. ring may be nil, in
// which case detailed responses omit the recent warn/error summary.
func NewHandler(supervisor *display.Supervisor, launcher BrowserRunner, registry *auth.Registry, ring *logring.RingBuffer, version string, detailed bool) *Handler {
	return &Handler{
		startTime:  time.Now(),
		supervisor: supervisor,
		launcher:   launcher,
		registry:   registry,
		ring:       ring,
		version:    version,
		detailed:   detailed,
	}
}

// ServeHTTP handles health check requests.
// The health listener runs on its own loopback-bound address, separate
// from the proxy listener, so local monitoring tools (systemd,
// Prometheus) can check health without crossing the mesh boundary.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	state := h.supervisor.Status()
	launcherUp := h.launcher != nil && h.launcher.Running()

	status := "ok"
	httpCode := http.StatusOK
	if !state.DisplayRunning || !state.FbRunning {
		status = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	resp := Response{
		Status:          status,
		Uptime:          time.Since(h.startTime).Round(time.Second).String(),
		ActiveSiblings:  h.registry.Len(),
		DisplayUp:       state.DisplayRunning,
		FramebufferUp:   state.FbRunning,
		LauncherRunning: launcherUp,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	}

	if h.detailed {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)
		resp.Version = h.version
		details := &Details{
			DisplayPID: state.DisplayPID,
			FbPID:      state.FbPID,
			MemoryMB:   float64(memStats.Alloc) / 1024 / 1024,
		}
		if h.ring != nil {
			details.WarningsRecent = h.ring.Summary(slog.LevelWarn, recentIssueWindow)
			details.ErrorsRecent = h.ring.Summary(slog.LevelError, recentIssueWindow)
		}
		resp.Details = details
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(httpCode)
	json.NewEncoder(w).Encode(resp)
}
