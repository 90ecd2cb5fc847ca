package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/0xmemo-claw/openclaw/internal/auth"
	"github.com/0xmemo-claw/openclaw/internal/config"
	"github.com/0xmemo-claw/openclaw/internal/display"
	"github.com/0xmemo-claw/openclaw/internal/health"
	"github.com/0xmemo-claw/openclaw/internal/hooks"
	"github.com/0xmemo-claw/openclaw/internal/launcher"
	"github.com/0xmemo-claw/openclaw/internal/logging"
	"github.com/0xmemo-claw/openclaw/internal/logring"
	"github.com/0xmemo-claw/openclaw/internal/metrics"
	"github.com/0xmemo-claw/openclaw/internal/netutil"
	"github.com/0xmemo-claw/openclaw/internal/router"
	"github.com/0xmemo-claw/openclaw/internal/security"
	"github.com/0xmemo-claw/openclaw/internal/setup"
	"github.com/0xmemo-claw/openclaw/internal/viewer"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// channelsPrefix is the path prefix under which plugin-channel requests
// are authorized via the full machine-scoped authorizer before the
// plugin handler sees them (spec.md §4.4 item 5). Not user-configurable:
// it is part of the wire contract between the gateway and its plugin
// collaborators.
const channelsPrefix = "/channels/"

func main() {
	rootCmd := &cobra.Command{
		Use:   "openclaw",
		Short: "Framebuffer viewing and webhook gateway for a remotely controlled browser session",
	}

	var configPath string
	var verbose bool

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(configPath, verbose)
		},
	}
	startCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	startCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version and build info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("OpenClaw Gateway %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config without starting",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("config validation failed: %w", err)
			}
			fmt.Printf("Configuration is valid.\n")
			fmt.Printf("  Listen:  %s\n", cfg.Server.ListenAddress)
			fmt.Printf("  Health:  %s\n", cfg.Health.ListenAddress)
			fmt.Printf("  Hooks:   enabled=%v base=%s\n", cfg.Hooks.Enabled, cfg.Hooks.BasePath)
			fmt.Printf("  Viewer:  enabled=%v base=%s\n", cfg.Viewer.Enabled, cfg.Viewer.BasePath)
			fmt.Printf("  Display: enabled=%v\n", cfg.Display.Enabled)
			fmt.Printf("  Launcher: enabled=%v\n", cfg.Launcher.Enabled)
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check health (exit 0 if healthy, 1 if not)",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, _ := cmd.Flags().GetString("url")
			return checkHealth(url)
		},
	}
	healthCmd.Flags().String("url", "http://127.0.0.1:8089/health", "Health endpoint URL")

	var setupConfigPath string
	setupCmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return setup.RunWizard(os.Stdin, os.Stdout, setup.WizardOptions{
				ConfigPath: setupConfigPath,
			})
		},
	}
	setupCmd.Flags().StringVar(&setupConfigPath, "config-path", "", "Override config file path (default: /etc/openclaw/config.yaml)")

	systemdCmd := &cobra.Command{
		Use:   "systemd",
		Short: "Generate systemd service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			printFlag, _ := cmd.Flags().GetBool("print")
			if printFlag {
				printSystemdUnit()
			}
			return nil
		},
	}
	systemdCmd.Flags().Bool("print", false, "Print systemd unit to stdout")

	rootCmd.AddCommand(startCmd, versionCmd, validateCmd, healthCmd, setupCmd, systemdCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// atomicHandler lets the root HTTP handler be rebuilt and swapped in on
// config reload without a lock on the request path.
type atomicHandler struct {
	p atomic.Pointer[http.Handler]
}

func (a *atomicHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h := *a.p.Load()
	h.ServeHTTP(w, r)
}

func (a *atomicHandler) store(h http.Handler) {
	a.p.Store(&h)
}

// gatewayComponents are the long-lived, stateful collaborators that
// survive a config reload unchanged: the display supervisor and
// browser launcher are owned for the lifetime of the process (restarting
// them requires a process restart, per config.IsReloadSafe), and the
// sibling registry accumulates live connections across reloads.
type gatewayComponents struct {
	registry   *auth.Registry
	session    *gatewaySession
	metrics    *metrics.Metrics
	metricsFor fbproxyMetrics
}

// fbproxyMetrics is the subset of *metrics.Metrics the upgrade
// dispatcher needs; satisfied by noopMetrics when metrics are disabled.
type fbproxyMetrics interface {
	FbproxySessionsTotal()
	FbproxyBytesTotal(direction string, n int)
	FbproxyErrorsTotal(reason string)
}

func logOptions(cfg config.LoggingConfig) logging.Options {
	return logging.Options{
		Level:      cfg.Level,
		Format:     cfg.Format,
		File:       cfg.File,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}

func runGateway(configPath string, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	ring := logring.NewRingBuffer(1000)
	baseHandler, lj := logging.SetupHandler(logOptions(cfg.Logging))
	slog.SetDefault(slog.New(logring.NewTeeHandler(baseHandler, ring)))
	if lj != nil {
		defer lj.Close()
	}

	slog.Info("starting openclaw gateway",
		"version", Version,
		"listen", cfg.Server.ListenAddress,
		"health", cfg.Health.ListenAddress,
	)

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	comps := &gatewayComponents{registry: auth.NewRegistry()}

	if cfg.Monitoring.MetricsEnabled {
		comps.metrics = metrics.New()
		comps.metricsFor = comps.metrics
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Monitoring.MetricsEndpoint)
	} else {
		comps.metricsFor = noopMetrics{}
	}

	var displaySupervisor *display.Supervisor
	if cfg.Display.Enabled {
		displaySupervisor = display.New(display.Config{
			DisplayBinary:    cfg.Display.DisplayBinary,
			FbServerBinary:   cfg.Display.FbServerBinary,
			DisplayNumber:    cfg.Display.DisplayNumber,
			LockFile:         cfg.Display.LockFile,
			FbPort:           cfg.Display.FbPort,
			LockWaitTimeout:  cfg.Display.LockWaitTimeout,
			LockPollInterval: cfg.Display.LockPollInterval,
			LockGrace:        cfg.Display.LockGrace,
			RestartDebounce:  cfg.Display.RestartDebounce,
			FbRestartDelay:   cfg.Display.FbRestartDelay,
		})
		if comps.metrics != nil {
			displaySupervisor.Metrics = comps.metrics
		}
		if err := displaySupervisor.Start(); err != nil {
			slog.Error("display: failed to start", "error", err)
			if comps.metrics != nil {
				comps.metrics.Error("display_start")
			}
		}
	} else {
		// health.NewHandler requires a non-nil supervisor; an unstarted
		// one reports DisplayRunning=false, which is the correct
		// "feature disabled" reading.
		displaySupervisor = display.New(display.Config{})
	}

	var browserLauncher *launcher.Launcher
	if cfg.Launcher.Enabled {
		browserLauncher = launcher.New(launcher.Config{
			ExecutableCandidates: cfg.Launcher.ExecutableCandidates,
			UserDataDir:          cfg.Launcher.UserDataDir,
			CDPPort:              cfg.Launcher.CDPPort,
			Headless:             cfg.Launcher.Headless,
			Stealth:              cfg.Launcher.Stealth,
			DisableSandbox:       cfg.Launcher.DisableSandbox,
			ProxyServer:          cfg.Launcher.ProxyServer,
			ExtensionPaths:       cfg.Launcher.ExtensionPaths,
			ExtraArgs:            cfg.Launcher.ExtraArgs,
			ReadyTimeout:         cfg.Launcher.ReadyTimeout,
			ReadyPollInterval:    cfg.Launcher.ReadyPollInterval,
			EarlyCrashWindow:     cfg.Launcher.EarlyCrashWindow,
			StopGrace:            cfg.Launcher.StopGrace,
			ProfileName:          cfg.Launcher.ProfileName,
			ProfileColor:         cfg.Launcher.ProfileColor,
		})
		if comps.metrics != nil {
			browserLauncher.Metrics = comps.metrics
		}
		if err := browserLauncher.Start(shutdownCtx); err != nil {
			slog.Error("launcher: failed to start", "error", err)
			if comps.metrics != nil {
				comps.metrics.Error("launcher_start")
			}
		}
	}
	comps.session = newGatewaySession(displaySupervisor, browserLauncher, cfg.Launcher.CDPPort, cfg.Launcher.Stealth)

	root := &atomicHandler{}
	root.store(buildRootHandler(cfg, comps))

	reloadConfig := func() error {
		newCfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("config reload failed: %w", err)
		}
		for _, w := range config.IsReloadSafe(cfg, newCfg) {
			slog.Warn("config reload warning", "warning", w)
		}
		cfg = cfg.ApplyReloadableFields(newCfg)

		newHandler, _ := logging.SetupHandler(logOptions(cfg.Logging))
		slog.SetDefault(slog.New(logring.NewTeeHandler(newHandler, ring)))

		root.store(buildRootHandler(cfg, comps))
		slog.Info("config reloaded successfully")
		return nil
	}

	proxyListener, err := net.Listen("tcp", cfg.Server.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to bind listener on %s: %w", cfg.Server.ListenAddress, err)
	}
	proxyServer := &http.Server{
		Handler:           root,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	var healthServer *http.Server
	var healthListener net.Listener
	if cfg.Health.Enabled {
		// A typed-nil *launcher.Launcher boxed into the BrowserRunner
		// interface would compare non-nil and panic on Running(), so
		// the interface value is left untyped nil when disabled.
		var launcherRunner health.BrowserRunner
		if browserLauncher != nil {
			launcherRunner = browserLauncher
		}
		healthHandler := health.NewHandler(displaySupervisor, launcherRunner, comps.registry, ring, Version, cfg.Health.Detailed)
		healthMux := http.NewServeMux()
		healthMux.Handle(cfg.Health.Endpoint, healthHandler)
		if cfg.Monitoring.MetricsEnabled {
			healthMux.Handle(cfg.Monitoring.MetricsEndpoint, promhttp.Handler())
		}

		healthListener, err = net.Listen("tcp", cfg.Health.ListenAddress)
		if err != nil {
			proxyListener.Close()
			return fmt.Errorf("failed to bind health listener on %s: %w", cfg.Health.ListenAddress, err)
		}
		healthServer = &http.Server{
			Handler:           healthMux,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
		}
	}

	if healthServer != nil {
		go func() {
			slog.Info("health endpoint listening", "address", cfg.Health.ListenAddress)
			if err := healthServer.Serve(healthListener); err != nil && err != http.ErrServerClosed {
				slog.Error("health server error", "error", err)
				if comps.metrics != nil {
					comps.metrics.Error("health_server")
				}
			}
		}()
	}

	go func() {
		slog.Info("gateway listening", "address", cfg.Server.ListenAddress)
		if err := proxyServer.Serve(proxyListener); err != nil && err != http.ErrServerClosed {
			slog.Error("gateway server error", "error", err)
			if comps.metrics != nil {
				comps.metrics.Error("gateway_server")
			}
		}
	}()

	sent, notifyErr := daemon.SdNotify(false, daemon.SdNotifyReady)
	if notifyErr != nil {
		slog.Error("sd_notify READY failed", "error", notifyErr)
	} else if !sent {
		slog.Warn("sd_notify READY not sent (NOTIFY_SOCKET not set — not running under systemd?)")
	} else {
		slog.Info("sd_notify READY sent")
	}

	watchdogCtx, watchdogCancel := context.WithCancel(context.Background())
	defer watchdogCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if sent, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
					slog.Warn("failed to notify watchdog", "error", err)
				} else if sent {
					slog.Debug("watchdog keepalive sent")
				}
			case <-watchdogCtx.Done():
				return
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	for sig := range sigChan {
		switch sig {
		case syscall.SIGHUP:
			slog.Info("received SIGHUP, reloading config")
			if err := reloadConfig(); err != nil {
				slog.Error("config reload failed", "error", err)
				if comps.metrics != nil {
					comps.metrics.Error("config_reload")
				}
			}

		case syscall.SIGTERM, syscall.SIGINT:
			slog.Info("received shutdown signal, draining",
				"signal", sig.String(),
				"drain_timeout", cfg.Server.DrainTimeout.String(),
			)

			watchdogCancel()
			daemon.SdNotify(false, daemon.SdNotifyStopping)

			dctx, dcancel := context.WithTimeout(context.Background(), cfg.Server.DrainTimeout)
			proxyServer.Shutdown(dctx)
			dcancel()

			// The gateway's long-lived work lives in the display
			// supervisor and browser launcher child processes, not in
			// open connections; each owns its own
			// SIGTERM-then-poll-then-SIGKILL teardown.
			comps.session.Stop(shutdownCtx)

			shutdownCancel()

			if healthServer != nil {
				hctx, hcancel := context.WithTimeout(context.Background(), 5*time.Second)
				healthServer.Shutdown(hctx)
				hcancel()
			}

			slog.Info("shutdown complete")
			return nil
		}
	}

	return nil
}

// buildRootHandler assembles the root HTTP handler from cfg: an upgrade
// check ahead of the ordered router chain, per spec.md §4.4 item 1 and
// §4.5.
func buildRootHandler(cfg *config.Config, comps *gatewayComponents) http.Handler {
	authCfg := auth.Config{
		Token:          cfg.Auth.Token,
		Password:       cfg.Auth.Password,
		MeshPermissive: cfg.Server.MeshPermissive,
		TrustedProxies: netutil.NewCIDRSet(cfg.Server.TrustedProxies),
		MeshCIDRs:      netutil.NewCIDRSet(cfg.Server.MeshCIDRs),
	}
	authLimiter := security.NewFailureTable(
		time.Duration(cfg.Auth.RateLimit.WindowSeconds)*time.Second,
		cfg.Auth.RateLimit.Limit,
		cfg.Auth.RateLimit.Capacity,
	)
	machineAuth := auth.NewMachineAuthorizer(authCfg, authLimiter, comps.registry, cfg.Auth.AllowSiblingFallback)
	if comps.metrics != nil {
		machineAuth.Metrics = comps.metrics
	}

	var hooksStage router.LeafHandler = router.NoopLeaf{}
	if cfg.Hooks.Enabled {
		hooksFailures := security.NewFailureTable(
			time.Duration(cfg.Hooks.FailureRateLimit.WindowSeconds)*time.Second,
			cfg.Hooks.FailureRateLimit.Limit,
			cfg.Hooks.FailureRateLimit.Capacity,
		)
		hooksStage = &hooks.Handler{
			Config: hooks.Config{
				Enabled:           cfg.Hooks.Enabled,
				BasePath:          cfg.Hooks.BasePath,
				Secret:            cfg.Hooks.Secret,
				TokenHeader:       cfg.Hooks.TokenHeader,
				MaxBodyBytes:      cfg.Hooks.MaxBodyBytes,
				BodyTimeout:       cfg.Hooks.BodyTimeout,
				AllowedAgents:     cfg.Hooks.AllowedAgents,
				DefaultSessionKey: cfg.Hooks.DefaultSessionKey,
				RequireSessionKey: cfg.Hooks.RequireSessionKey,
				AgentAliases:      cfg.Hooks.AgentAliases,
				RequestsPerSecond: cfg.Hooks.RequestsPerSecond,
				// WakeSink/AgentDispatcher are external collaborators;
				// unwired here means wake/agent dispatch replies 500
				// "not configured" rather than panicking.
			},
			Failures: hooksFailures,
			Body: hooks.BodyReader{
				MaxBytes: cfg.Hooks.MaxBodyBytes,
				Timeout:  cfg.Hooks.BodyTimeout,
			},
		}
		if comps.metrics != nil {
			hooksStage.(*hooks.Handler).Metrics = comps.metrics
		}
	}

	var viewerStage router.LeafHandler = router.NoopLeaf{}
	if cfg.Viewer.Enabled {
		viewerStage = viewer.New(viewer.Config{
			BasePath:    cfg.Viewer.BasePath,
			WSPath:      cfg.Viewer.WSPath,
			AssetDir:    cfg.Viewer.AssetDir,
			CacheMaxAge: cfg.Viewer.CacheMaxAge,
		}, comps.session)
	}

	stages := []router.Stage{
		{Name: "hooks", Handler: hooksStage},
		{Name: "tool-invocation", Handler: router.NoopLeaf{}},
		{Name: "slack", Handler: router.NoopLeaf{}},
		{Name: "plugin", Handler: router.NoopLeaf{}, RequireMachineAuth: true, PathPrefix: channelsPrefix},
		{Name: "protocol-translation", Handler: router.NoopLeaf{}},
		{Name: "viewer", Handler: viewerStage, RequireMachineAuth: cfg.Viewer.Enabled, PathPrefix: cfg.Viewer.BasePath},
		{Name: "canvas", Handler: router.NoopLeaf{}, RequireMachineAuth: cfg.Canvas.Enabled, PathPrefix: cfg.Canvas.BasePath},
		{Name: "control-ui", Handler: router.NoopLeaf{}},
	}

	rt := router.New(stages, machineAuth, router.BearerCredential)

	upgrade := &router.UpgradeDispatcher{
		FbPath:        cfg.Viewer.WSPath,
		FbBackendAddr: fmt.Sprintf("127.0.0.1:%d", cfg.Display.FbPort),
		CanvasPath:    cfg.Canvas.WSPath,
		Machine:       machineAuth,
		Metrics:       comps.metricsFor,
		Registry:      comps.registry,
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if router.IsUpgrade(r) {
			upgrade.ServeHTTP(w, r)
			return
		}
		rt.ServeHTTP(w, r)
	})
}

func checkHealth(healthURL string) error {
	client := &http.Client{
		Timeout: 5 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get(healthURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		fmt.Println("healthy")
		return nil
	}
	fmt.Fprintf(os.Stderr, "unhealthy (status: %d)\n", resp.StatusCode)
	os.Exit(1)
	return nil
}

func printSystemdUnit() {
	fmt.Print(`[Unit]
Description=OpenClaw Gateway - Framebuffer Viewer and Webhook Gateway
Documentation=https://github.com/0xmemo-claw/openclaw
After=network-online.target
Wants=network-online.target

[Service]
Type=notify
User=openclaw
Group=openclaw
ExecStartPre=/usr/local/bin/openclaw validate --config /etc/openclaw/config.yaml
ExecStart=/usr/local/bin/openclaw start --config /etc/openclaw/config.yaml
ExecReload=/bin/kill -HUP $MAINPID
Restart=always
RestartPreventExitStatus=0
RestartSec=5s
WatchdogSec=30s
TimeoutStartSec=30s

# Security hardening
ProtectSystem=strict
ProtectHome=true
NoNewPrivileges=true
PrivateTmp=true
PrivateDevices=true
ProtectKernelTunables=true
ProtectKernelModules=true
ProtectControlGroups=true
ProtectClock=true
RestrictNamespaces=true
RestrictRealtime=true
RestrictSUIDSGID=true
LockPersonality=true
SystemCallArchitectures=native
ReadOnlyPaths=/etc/openclaw
LogsDirectory=openclaw
StateDirectory=openclaw
LimitNOFILE=65535

# Memory safety net: the display/browser children dominate RSS, not the
# gateway process itself.
MemoryMax=512M

# Logging
StandardOutput=journal
StandardError=journal
SyslogIdentifier=openclaw

[Install]
WantedBy=multi-user.target
`)
}
