// Package metrics registers the Prometheus series for every gateway
// subsystem (spec.md §2 table): auth-result, hook-dispatch,
// framebuffer-proxy, display-supervisor, and browser-launcher series,
// plus a gateway-level errors-by-type counter.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	// Authorizer / registry
	AuthResultsTotal  *prometheus.CounterVec
	ActiveSiblings    prometheus.Gauge

	// Hooks
	HookDispatchesTotal *prometheus.CounterVec
	HookRejectionsTotal *prometheus.CounterVec

	// Framebuffer proxy
	FbproxySessionsTotalCounter prometheus.Counter
	FbproxyBytesTotalVec        *prometheus.CounterVec
	FbproxyErrorsTotalVec       *prometheus.CounterVec
	FbproxyActiveSessions       prometheus.Gauge

	// Display supervisor
	DisplayRestartsTotal *prometheus.CounterVec
	DisplayUp            *prometheus.GaugeVec

	// Browser launcher
	LauncherCrashesTotal  prometheus.Counter
	LauncherReadyDuration prometheus.Histogram
	LauncherRunning       prometheus.Gauge

	ErrorsTotal *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		AuthResultsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "openclaw_auth_results_total",
			Help: "Authorization outcomes by result (ok, unauthorized, rate_limited)",
		}, []string{"result"}),
		ActiveSiblings: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "openclaw_active_siblings",
			Help: "Distinct IPs with at least one live authenticated connection",
		}),

		HookDispatchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "openclaw_hook_dispatches_total",
			Help: "Successful hook dispatches by kind (wake, agent, mapped)",
		}, []string{"kind"}),
		HookRejectionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "openclaw_hook_rejections_total",
			Help: "Hook requests rejected before dispatch, by status code",
		}, []string{"status"}),

		FbproxySessionsTotalCounter: promauto.NewCounter(prometheus.CounterOpts{
			Name: "openclaw_fbproxy_sessions_total",
			Help: "Total framebuffer proxy sessions established",
		}),
		FbproxyBytesTotalVec: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "openclaw_fbproxy_bytes_total",
			Help: "Bytes pumped through the framebuffer proxy, by direction",
		}, []string{"direction"}),
		FbproxyErrorsTotalVec: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "openclaw_fbproxy_errors_total",
			Help: "Framebuffer proxy errors, by reason",
		}, []string{"reason"}),
		FbproxyActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "openclaw_fbproxy_active_sessions",
			Help: "Current active framebuffer proxy sessions",
		}),

		DisplayRestartsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "openclaw_display_restarts_total",
			Help: "Display/framebuffer-server child restarts, by kind",
		}, []string{"kind"}),
		DisplayUp: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "openclaw_display_up",
			Help: "Whether a supervised child process is currently running, by kind",
		}, []string{"kind"}),

		LauncherCrashesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "openclaw_launcher_crashes_total",
			Help: "Early browser crashes treated as profile corruption",
		}),
		LauncherReadyDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "openclaw_launcher_ready_duration_seconds",
			Help: "Time from browser spawn to CDP readiness",
		}),
		LauncherRunning: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "openclaw_launcher_running",
			Help: "Whether the browser process is currently running",
		}),

		ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "openclaw_errors_total",
			Help: "Total errors, by type",
		}, []string{"type"}),
	}
}

// AuthResult satisfies internal/auth.Metrics.
func (m *Metrics) AuthResult(result string) {
	m.AuthResultsTotal.WithLabelValues(result).Inc()
}

// Dispatched satisfies internal/hooks.Metrics.
func (m *Metrics) Dispatched(kind string) {
	m.HookDispatchesTotal.WithLabelValues(kind).Inc()
}

// Rejected satisfies internal/hooks.Metrics.
func (m *Metrics) Rejected(status int) {
	m.HookRejectionsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}

// Restart satisfies internal/display.Metrics.
func (m *Metrics) Restart(kind string) {
	m.DisplayRestartsTotal.WithLabelValues(kind).Inc()
}

// Up satisfies internal/display.Metrics.
func (m *Metrics) Up(kind string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	m.DisplayUp.WithLabelValues(kind).Set(v)
}

// Crash satisfies internal/launcher.Metrics.
func (m *Metrics) Crash() {
	m.LauncherCrashesTotal.Inc()
}

// ReadyDuration satisfies internal/launcher.Metrics.
func (m *Metrics) ReadyDuration(seconds float64) {
	m.LauncherReadyDuration.Observe(seconds)
}

// Running satisfies internal/launcher.Metrics.
func (m *Metrics) Running(running bool) {
	v := 0.0
	if running {
		v = 1.0
	}
	m.LauncherRunning.Set(v)
}

// Error records a gateway-level error by type, for failures that don't
// belong to any one subsystem series above (listener bind failures,
// config reload failures, server-loop errors).
func (m *Metrics) Error(kind string) {
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}

// FbproxySessionsTotal satisfies internal/fbproxy.Metrics.
func (m *Metrics) FbproxySessionsTotal() {
	m.FbproxySessionsTotalCounter.Inc()
	m.FbproxyActiveSessions.Inc()
}

// FbproxyBytesTotal satisfies internal/fbproxy.Metrics.
func (m *Metrics) FbproxyBytesTotal(direction string, n int) {
	m.FbproxyBytesTotalVec.WithLabelValues(direction).Add(float64(n))
}

// FbproxyErrorsTotal satisfies internal/fbproxy.Metrics.
func (m *Metrics) FbproxyErrorsTotal(reason string) {
	m.FbproxyErrorsTotalVec.WithLabelValues(reason).Inc()
	m.FbproxyActiveSessions.Dec()
}
