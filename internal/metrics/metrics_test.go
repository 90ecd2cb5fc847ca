package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNew(t *testing.T) {
	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg

	m := New()

	if m.AuthResultsTotal == nil {
		t.Error("AuthResultsTotal is nil")
	}
	if m.ActiveSiblings == nil {
		t.Error("ActiveSiblings is nil")
	}
	if m.HookDispatchesTotal == nil {
		t.Error("HookDispatchesTotal is nil")
	}
	if m.HookRejectionsTotal == nil {
		t.Error("HookRejectionsTotal is nil")
	}
	if m.FbproxySessionsTotalCounter == nil {
		t.Error("FbproxySessionsTotalCounter is nil")
	}
	if m.FbproxyBytesTotalVec == nil {
		t.Error("FbproxyBytesTotalVec is nil")
	}
	if m.FbproxyErrorsTotalVec == nil {
		t.Error("FbproxyErrorsTotalVec is nil")
	}
	if m.DisplayRestartsTotal == nil {
		t.Error("DisplayRestartsTotal is nil")
	}
	if m.DisplayUp == nil {
		t.Error("DisplayUp is nil")
	}
	if m.LauncherCrashesTotal == nil {
		t.Error("LauncherCrashesTotal is nil")
	}
	if m.LauncherReadyDuration == nil {
		t.Error("LauncherReadyDuration is nil")
	}
	if m.LauncherRunning == nil {
		t.Error("LauncherRunning is nil")
	}
	if m.ErrorsTotal == nil {
		t.Error("ErrorsTotal is nil")
	}

	// Exercise every metric, including the fbproxy.Metrics adapter methods.
	m.AuthResultsTotal.WithLabelValues("ok").Inc()
	m.ActiveSiblings.Set(3)
	m.HookDispatchesTotal.WithLabelValues("wake").Inc()
	m.HookRejectionsTotal.WithLabelValues("401").Inc()
	m.FbproxySessionsTotal()
	m.FbproxyBytesTotal("client_to_backend", 128)
	m.FbproxyErrorsTotal("dial_failure")
	m.DisplayRestartsTotal.WithLabelValues("display").Inc()
	m.DisplayUp.WithLabelValues("fbserver").Set(1)
	m.LauncherCrashesTotal.Inc()
	m.LauncherReadyDuration.Observe(1.5)
	m.LauncherRunning.Set(1)
	m.ErrorsTotal.WithLabelValues("dial_failure").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	expected := []string{
		"openclaw_auth_results_total",
		"openclaw_active_siblings",
		"openclaw_hook_dispatches_total",
		"openclaw_hook_rejections_total",
		"openclaw_fbproxy_sessions_total",
		"openclaw_fbproxy_bytes_total",
		"openclaw_fbproxy_errors_total",
		"openclaw_fbproxy_active_sessions",
		"openclaw_display_restarts_total",
		"openclaw_display_up",
		"openclaw_launcher_crashes_total",
		"openclaw_launcher_ready_duration_seconds",
		"openclaw_launcher_running",
		"openclaw_errors_total",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("missing metric: %s", name)
		}
	}
}

func TestMetrics_FbproxyAdapterMethods(t *testing.T) {
	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg

	m := New()
	var iface interface {
		FbproxySessionsTotal()
		FbproxyBytesTotal(direction string, n int)
		FbproxyErrorsTotal(reason string)
	} = m

	iface.FbproxySessionsTotal()
	iface.FbproxyBytesTotal("backend_to_client", 64)
	iface.FbproxyErrorsTotal("write_timeout")
}
