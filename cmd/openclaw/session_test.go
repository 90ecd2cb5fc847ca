package main

import (
	"context"
	"testing"

	"github.com/0xmemo-claw/openclaw/internal/display"
	"github.com/0xmemo-claw/openclaw/internal/launcher"
)

func TestGatewaySession_StatusWithNilCollaborators(t *testing.T) {
	s := newGatewaySession(nil, nil, 9222, true)
	st := s.Status()
	if st.Running {
		t.Fatal("expected Running false with nil launcher")
	}
	if st.PID != 0 {
		t.Fatalf("expected PID 0 with nil launcher, got %d", st.PID)
	}
	if st.CDPPort != 9222 {
		t.Fatalf("expected CDPPort 9222, got %d", st.CDPPort)
	}
	if !st.Stealth {
		t.Fatal("expected Stealth true")
	}
}

func TestGatewaySession_StartStopWithNilCollaboratorsIsNoop(t *testing.T) {
	s := newGatewaySession(nil, nil, 0, false)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() with nil collaborators: %v", err)
	}
	s.Stop(context.Background())
}

func TestGatewaySession_StartReturnsSupervisorErrorBeforeLauncher(t *testing.T) {
	sup := display.New(display.Config{DisplayBinary: "definitely-not-a-real-binary-xyz", FbServerBinary: "also-not-real"})
	l := launcher.New(launcher.Config{ExecutableCandidates: []string{"definitely-not-real"}})
	s := newGatewaySession(sup, l, 9222, false)

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected an error when the display binary cannot be found")
	}
}

func TestNoopMetrics_SatisfiesFbproxyMetrics(t *testing.T) {
	var m noopMetrics
	m.FbproxySessionsTotal()
	m.FbproxyBytesTotal("to_client", 128)
	m.FbproxyErrorsTotal("backend_unreachable")
}
