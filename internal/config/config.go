// Package config loads and validates the gateway's YAML configuration.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"reflect"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the OpenClaw gateway.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Hooks      HooksConfig      `yaml:"hooks"`
	Viewer     ViewerConfig     `yaml:"viewer"`
	Canvas     CanvasConfig     `yaml:"canvas"`
	Display    DisplayConfig    `yaml:"display"`
	Launcher   LauncherConfig   `yaml:"launcher"`
	Logging    LoggingConfig    `yaml:"logging"`
	Health     HealthConfig     `yaml:"health"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// ServerConfig contains the core listener settings.
type ServerConfig struct {
	ListenAddress     string        `yaml:"listen_address"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	DrainTimeout      time.Duration `yaml:"drain_timeout"`
	// TrustedProxies lists CIDRs of reverse proxies allowed to set
	// X-Forwarded-For / X-Real-IP. Addresses inside these ranges are
	// skipped when walking the forwarded chain for the real client IP.
	TrustedProxies []string `yaml:"trusted_proxies"`
	// MeshCIDRs lists CIDRs treated as a trusted TLS-mesh overlay
	// (e.g. a Tailscale or WireGuard range). Requests arriving from
	// these ranges bypass credential checks when MeshPermissive is set.
	MeshCIDRs      []string `yaml:"mesh_cidrs"`
	MeshPermissive bool     `yaml:"mesh_permissive"`
}

// AuthConfig contains the shared-secret and rate-limit settings for the
// bearer/password authorizer described in spec.md §4.1.
type AuthConfig struct {
	Token     string          `yaml:"token"`
	Password  string          `yaml:"password"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	// AllowSiblingFallback enables the machine-scoped sibling-IP fallback
	// (spec.md §4.1 machine-scoped variant, step 3). Deployments behind
	// shared-IP NAT must disable this (spec.md §9 open question).
	AllowSiblingFallback bool `yaml:"allow_sibling_fallback"`
}

// RateLimitConfig configures a sliding-window failure table (spec.md §4.2).
type RateLimitConfig struct {
	WindowSeconds int `yaml:"window_seconds"`
	Limit         int `yaml:"limit"`
	Capacity      int `yaml:"capacity"`
}

// HooksConfig configures the webhook ingress handler (spec.md §4.3).
type HooksConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BasePath string `yaml:"base_path"`
	Secret   string `yaml:"secret"`
	// TokenHeader is the named header accepted as an alternative to
	// "Authorization: Bearer <t>" for webhook callers.
	TokenHeader       string            `yaml:"token_header"`
	MaxBodyBytes      int64             `yaml:"max_body_bytes"`
	BodyTimeout       time.Duration     `yaml:"body_timeout"`
	AllowedAgents     []string          `yaml:"allowed_agents"`
	DefaultSessionKey string            `yaml:"default_session_key"`
	RequireSessionKey bool              `yaml:"require_session_key"`
	AgentAliases      map[string]string `yaml:"agent_aliases"`
	FailureRateLimit  RateLimitConfig   `yaml:"failure_rate_limit"`
	// RequestsPerSecond throttles raw request volume per client key,
	// independent of auth outcome, before the failure table is consulted.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// ViewerConfig configures the framebuffer viewer HTTP/WS subtree
// (spec.md §4.4 item 7, §6).
type ViewerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	BasePath    string        `yaml:"base_path"`
	WSPath      string        `yaml:"ws_path"`
	AssetDir    string        `yaml:"asset_dir"`
	CacheMaxAge time.Duration `yaml:"cache_max_age"`
}

// CanvasConfig configures the machine-scoped canvas subtree delegation
// (spec.md §4.4 item 8, §4.5). The canvas handler itself is external.
type CanvasConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BasePath string `yaml:"base_path"`
	WSPath   string `yaml:"ws_path"`
}

// DisplayConfig configures the virtual-display/framebuffer-server
// supervisor (spec.md §4.7).
type DisplayConfig struct {
	Enabled          bool          `yaml:"enabled"`
	DisplayBinary    string        `yaml:"display_binary"`
	FbServerBinary   string        `yaml:"fb_server_binary"`
	DisplayNumber    int           `yaml:"display_number"`
	LockFile         string        `yaml:"lock_file"`
	FbPort           int           `yaml:"fb_port"`
	LockWaitTimeout  time.Duration `yaml:"lock_wait_timeout"`
	LockPollInterval time.Duration `yaml:"lock_poll_interval"`
	LockGrace        time.Duration `yaml:"lock_grace"`
	RestartDebounce  time.Duration `yaml:"restart_debounce"`
	FbRestartDelay   time.Duration `yaml:"fb_restart_delay"`
}

// LauncherConfig configures the controlled-browser launcher (spec.md §4.8).
type LauncherConfig struct {
	Enabled              bool          `yaml:"enabled"`
	ExecutableCandidates []string      `yaml:"executable_candidates"`
	UserDataDir          string        `yaml:"user_data_dir"`
	CDPPort              int           `yaml:"cdp_port"`
	Headless             bool          `yaml:"headless"`
	Stealth              bool          `yaml:"stealth"`
	DisableSandbox       bool          `yaml:"disable_sandbox"`
	ProxyServer          string        `yaml:"proxy_server"`
	ExtensionPaths       []string      `yaml:"extension_paths"`
	ExtraArgs            []string      `yaml:"extra_args"`
	ReadyTimeout         time.Duration `yaml:"ready_timeout"`
	ReadyPollInterval    time.Duration `yaml:"ready_poll_interval"`
	EarlyCrashWindow     time.Duration `yaml:"early_crash_window"`
	StopGrace            time.Duration `yaml:"stop_grace"`
	ProfileName          string        `yaml:"profile_name"`
	ProfileColor         string        `yaml:"profile_color"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// HealthConfig contains health check endpoint settings.
type HealthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Endpoint      string `yaml:"endpoint"`
	ListenAddress string `yaml:"listen_address"`
	Detailed      bool   `yaml:"detailed"`
}

// MonitoringConfig contains metrics settings.
type MonitoringConfig struct {
	MetricsEnabled  bool   `yaml:"metrics_enabled"`
	MetricsEndpoint string `yaml:"metrics_endpoint"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress:     "127.0.0.1:8088",
			ReadHeaderTimeout: 10 * time.Second,
			DrainTimeout:      15 * time.Second,
			MeshCIDRs:         []string{"100.64.0.0/10", "fd7a:115c:a1e0::/48"},
		},
		Auth: AuthConfig{
			AllowSiblingFallback: true,
			RateLimit: RateLimitConfig{
				WindowSeconds: 60,
				Limit:         20,
				Capacity:      10000,
			},
		},
		Hooks: HooksConfig{
			Enabled:           true,
			BasePath:          "/hooks",
			TokenHeader:       "X-Hook-Token",
			MaxBodyBytes:      1 << 20,
			BodyTimeout:       10 * time.Second,
			DefaultSessionKey: "",
			RequestsPerSecond: 10,
			FailureRateLimit: RateLimitConfig{
				WindowSeconds: 60,
				Limit:         20,
				Capacity:      10000,
			},
		},
		Viewer: ViewerConfig{
			Enabled:     true,
			BasePath:    "/vnc",
			WSPath:      "/vnc/ws",
			AssetDir:    "assets/novnc",
			CacheMaxAge: 300 * time.Second,
		},
		Canvas: CanvasConfig{
			Enabled:  false,
			BasePath: "/canvas",
			WSPath:   "/canvas/ws",
		},
		Display: DisplayConfig{
			Enabled:          false,
			DisplayBinary:    "Xvfb",
			FbServerBinary:   "x11vnc",
			DisplayNumber:    99,
			LockFile:         "/tmp/.X99-lock",
			FbPort:           5999,
			LockWaitTimeout:  5 * time.Second,
			LockPollInterval: 100 * time.Millisecond,
			LockGrace:        200 * time.Millisecond,
			RestartDebounce:  5 * time.Second,
			FbRestartDelay:   2 * time.Second,
		},
		Launcher: LauncherConfig{
			Enabled:              false,
			ExecutableCandidates: []string{"google-chrome", "chromium", "chromium-browser"},
			UserDataDir:          "./.browser-profile",
			CDPPort:              9222,
			ReadyTimeout:         30 * time.Second,
			ReadyPollInterval:    200 * time.Millisecond,
			EarlyCrashWindow:     5 * time.Second,
			StopGrace:            2500 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Health: HealthConfig{
			Enabled:       true,
			Endpoint:      "/health",
			ListenAddress: "127.0.0.1:8089",
			Detailed:      true,
		},
		Monitoring: MonitoringConfig{
			MetricsEnabled:  false,
			MetricsEndpoint: "/metrics",
		},
	}
}

// Load reads a config file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file not found at %s (run 'openclaw setup' to create one)", path)
			}
			if os.IsPermission(err) {
				return nil, fmt.Errorf("permission denied reading %s", path)
			}
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w (check YAML indentation)", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address is required")
	}
	if _, _, err := net.SplitHostPort(c.Server.ListenAddress); err != nil {
		return fmt.Errorf("server.listen_address is invalid: %w", err)
	}
	if c.Server.DrainTimeout <= 0 {
		return fmt.Errorf("server.drain_timeout must be positive")
	}
	for _, cidr := range c.Server.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("server.trusted_proxies entry %q is invalid: %w", cidr, err)
		}
	}
	for _, cidr := range c.Server.MeshCIDRs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("server.mesh_cidrs entry %q is invalid: %w", cidr, err)
		}
	}

	if err := c.Auth.RateLimit.validate("auth.rate_limit"); err != nil {
		return err
	}

	if c.Hooks.Enabled {
		if c.Hooks.BasePath == "" || !strings.HasPrefix(c.Hooks.BasePath, "/") {
			return fmt.Errorf("hooks.base_path must start with /")
		}
		if c.Hooks.MaxBodyBytes <= 0 {
			return fmt.Errorf("hooks.max_body_bytes must be positive")
		}
		if c.Hooks.MaxBodyBytes > 64<<20 {
			return fmt.Errorf("hooks.max_body_bytes must not exceed 64MB")
		}
		if c.Hooks.BodyTimeout <= 0 {
			return fmt.Errorf("hooks.body_timeout must be positive")
		}
		if c.Hooks.RequestsPerSecond < 0 {
			return fmt.Errorf("hooks.requests_per_second must not be negative")
		}
		if err := c.Hooks.FailureRateLimit.validate("hooks.failure_rate_limit"); err != nil {
			return err
		}
	}

	if c.Viewer.Enabled {
		if !strings.HasPrefix(c.Viewer.BasePath, "/") {
			return fmt.Errorf("viewer.base_path must start with /")
		}
		if c.Viewer.AssetDir == "" {
			return fmt.Errorf("viewer.asset_dir is required when viewer is enabled")
		}
	}

	if c.Display.Enabled {
		if c.Display.DisplayNumber <= 0 {
			return fmt.Errorf("display.display_number must be positive")
		}
		if c.Display.LockWaitTimeout <= 0 {
			return fmt.Errorf("display.lock_wait_timeout must be positive")
		}
		if c.Display.FbPort <= 0 || c.Display.FbPort > 65535 {
			return fmt.Errorf("display.fb_port must be a valid TCP port")
		}
	}

	if c.Launcher.Enabled {
		if len(c.Launcher.ExecutableCandidates) == 0 {
			return fmt.Errorf("launcher.executable_candidates must not be empty when launcher is enabled")
		}
		if c.Launcher.UserDataDir == "" {
			return fmt.Errorf("launcher.user_data_dir is required when launcher is enabled")
		}
		if c.Launcher.ReadyTimeout <= 0 {
			return fmt.Errorf("launcher.ready_timeout must be positive")
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Health.Enabled {
		if c.Health.ListenAddress == "" {
			return fmt.Errorf("health.listen_address is required when health is enabled")
		}
		if _, _, err := net.SplitHostPort(c.Health.ListenAddress); err != nil {
			return fmt.Errorf("health.listen_address is invalid: %w", err)
		}
		if c.Server.ListenAddress == c.Health.ListenAddress {
			return fmt.Errorf("server.listen_address and health.listen_address must be different")
		}
	}

	return nil
}

func (r RateLimitConfig) validate(field string) error {
	if r.WindowSeconds <= 0 {
		return fmt.Errorf("%s.window_seconds must be positive", field)
	}
	if r.Limit <= 0 {
		return fmt.Errorf("%s.limit must be positive", field)
	}
	if r.Capacity <= 0 {
		return fmt.Errorf("%s.capacity must be positive", field)
	}
	if r.Capacity < r.Limit {
		return fmt.Errorf("%s.capacity must be at least %s.limit", field, field)
	}
	return nil
}

// ApplyReloadableFields returns a copy of c with reloadable fields from newCfg.
// Non-reloadable: listen addresses, display/launcher binaries, mesh settings.
func (c *Config) ApplyReloadableFields(newCfg *Config) *Config {
	updated := *c
	updated.Auth = newCfg.Auth
	updated.Hooks.Secret = newCfg.Hooks.Secret
	updated.Hooks.AllowedAgents = newCfg.Hooks.AllowedAgents
	updated.Hooks.AgentAliases = newCfg.Hooks.AgentAliases
	updated.Hooks.FailureRateLimit = newCfg.Hooks.FailureRateLimit
	updated.Hooks.RequestsPerSecond = newCfg.Hooks.RequestsPerSecond
	updated.Logging.Level = newCfg.Logging.Level
	return &updated
}

// IsReloadSafe reports which fields changed that require a restart to apply.
func IsReloadSafe(old, new *Config) []string {
	var warnings []string
	if old.Server.ListenAddress != new.Server.ListenAddress {
		warnings = append(warnings, "server.listen_address requires restart")
	}
	if old.Health.ListenAddress != new.Health.ListenAddress {
		warnings = append(warnings, "health.listen_address requires restart")
	}
	if !reflect.DeepEqual(old.Display, new.Display) {
		warnings = append(warnings, "display requires restart")
	}
	if !reflect.DeepEqual(old.Launcher, new.Launcher) {
		warnings = append(warnings, "launcher requires restart")
	}
	return warnings
}

// applyEnvOverrides applies OPENCLAW_ prefixed environment variables.
func applyEnvOverrides(cfg *Config) {
	envMap := map[string]func(string){
		"OPENCLAW_SERVER_LISTEN_ADDRESS": func(v string) { cfg.Server.ListenAddress = v },
		"OPENCLAW_AUTH_TOKEN":            func(v string) { cfg.Auth.Token = v },
		"OPENCLAW_AUTH_PASSWORD":         func(v string) { cfg.Auth.Password = v },
		"OPENCLAW_HOOKS_SECRET":          func(v string) { cfg.Hooks.Secret = v },
		"OPENCLAW_HOOKS_BASE_PATH":       func(v string) { cfg.Hooks.BasePath = v },
		"OPENCLAW_LOGGING_LEVEL":         func(v string) { cfg.Logging.Level = v },
		"OPENCLAW_LOGGING_FORMAT":        func(v string) { cfg.Logging.Format = v },
		"OPENCLAW_LOGGING_FILE":          func(v string) { cfg.Logging.File = v },
		"OPENCLAW_HEALTH_ENABLED":        func(v string) { cfg.Health.Enabled = parseBool(v, cfg.Health.Enabled) },
		"OPENCLAW_HEALTH_LISTEN_ADDRESS": func(v string) { cfg.Health.ListenAddress = v },
		"OPENCLAW_DISPLAY_ENABLED":       func(v string) { cfg.Display.Enabled = parseBool(v, cfg.Display.Enabled) },
		"OPENCLAW_LAUNCHER_ENABLED":      func(v string) { cfg.Launcher.Enabled = parseBool(v, cfg.Launcher.Enabled) },
	}

	for env, setter := range envMap {
		if v := os.Getenv(env); v != "" {
			setter(v)
		}
	}
}

func parseBool(s string, fallback bool) bool {
	switch strings.ToLower(s) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return fallback
	}
}

// ParseGatewayURL is a small helper kept for components (e.g. the setup
// wizard) that need to sanity-check a URL without pulling in a heavier
// validation library.
func ParseGatewayURL(raw string) (*url.URL, error) {
	return url.Parse(raw)
}
