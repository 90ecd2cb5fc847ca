package main

import (
	"context"

	"github.com/0xmemo-claw/openclaw/internal/display"
	"github.com/0xmemo-claw/openclaw/internal/launcher"
	"github.com/0xmemo-claw/openclaw/internal/viewer"
)

// gatewaySession composes the display supervisor and the browser
// launcher into the single viewer.SessionController the framebuffer
// viewer's control API drives. Pure wiring glue, not a reusable
// package: the two subsystems it composes are independently owned by
// runGateway.
type gatewaySession struct {
	supervisor *display.Supervisor
	launcher   *launcher.Launcher
	cdpPort    int
	stealth    bool
}

func newGatewaySession(supervisor *display.Supervisor, l *launcher.Launcher, cdpPort int, stealth bool) *gatewaySession {
	return &gatewaySession{supervisor: supervisor, launcher: l, cdpPort: cdpPort, stealth: stealth}
}

// Status implements viewer.SessionController.
func (s *gatewaySession) Status() viewer.SessionStatus {
	running := s.launcher != nil && s.launcher.Running()
	pid := 0
	if s.launcher != nil {
		pid = s.launcher.PID()
	}
	return viewer.SessionStatus{
		Running: running,
		PID:     pid,
		CDPPort: s.cdpPort,
		Stealth: s.stealth,
	}
}

// Start implements viewer.SessionController: bring up the display
// before the browser, since the browser's CDP connection assumes a
// live X server.
func (s *gatewaySession) Start(ctx context.Context) error {
	if s.supervisor != nil {
		if err := s.supervisor.Start(); err != nil {
			return err
		}
	}
	if s.launcher != nil {
		return s.launcher.Start(ctx)
	}
	return nil
}

// Stop implements viewer.SessionController: tear down in the reverse
// order of Start.
func (s *gatewaySession) Stop(ctx context.Context) {
	if s.launcher != nil {
		s.launcher.Stop(ctx)
	}
	if s.supervisor != nil {
		s.supervisor.Stop()
	}
}

// noopMetrics satisfies internal/fbproxy.Metrics when Prometheus
// metrics are disabled, so the upgrade dispatcher always has a
// non-nil metrics collaborator to call.
type noopMetrics struct{}

func (noopMetrics) FbproxySessionsTotal()         {}
func (noopMetrics) FbproxyBytesTotal(string, int) {}
func (noopMetrics) FbproxyErrorsTotal(string)     {}
