// Package setup implements the interactive first-run configuration
// wizard (spec.md "ambient stack"): detect a mesh-overlay IP to bind
// to, collect the hooks secret and auth token, write a commented YAML
// config, validate it, and optionally start the systemd unit. This
// generalizes a Tailscale-gateway-URL prompt flow to the gateway's own
// listen-address/hooks/display/launcher schema.
package setup

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/0xmemo-claw/openclaw/internal/config"
)

const (
	defaultConfigPath = "/etc/openclaw/config.yaml"
	defaultListenPort = "8088"
	defaultHealthPort = "8089"
)

// WizardOptions configures the setup wizard.
type WizardOptions struct {
	ConfigPath  string        // Override default config path
	DetectMesh  func() string // Override mesh-IP detection (for testing)
}

// RunWizard runs the interactive setup wizard.
// It takes io.Reader/io.Writer for testability.
func RunWizard(in io.Reader, out io.Writer, opts WizardOptions) error {
	scanner := bufio.NewScanner(in)
	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = defaultConfigPath
	}

	isRoot := os.Geteuid() == 0
	if !isRoot && configPath == defaultConfigPath {
		configPath = "./config.yaml"
		fmt.Fprintf(out, "NOTE: Not running as root. Config will be written to %s\n", configPath)
		fmt.Fprintf(out, "      Run with sudo for system-wide install: sudo openclaw setup\n\n")
	}

	fmt.Fprintln(out, "OpenClaw Gateway Setup")
	fmt.Fprintln(out, "======================")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Detecting mesh-overlay address...")
	detect := detectMeshIP
	if opts.DetectMesh != nil {
		detect = opts.DetectMesh
	}
	meshIP := detect()
	if meshIP == "" {
		fmt.Fprintln(out, "  WARNING: No mesh-overlay IP detected (e.g. Tailscale, WireGuard).")
		fmt.Fprintln(out)
	} else {
		fmt.Fprintf(out, "  Found mesh address: %s\n\n", meshIP)
	}

	listenPort := promptPort(scanner, out,
		fmt.Sprintf("Listen port [%s]: ", defaultListenPort),
		defaultListenPort)

	listenHost := meshIP
	if listenHost == "" {
		listenHost = prompt(scanner, out,
			"Mesh address to bind (e.g. 100.64.0.1): ", "")
		if listenHost == "" {
			return fmt.Errorf("a bind address is required for server.listen_address")
		}
	}
	listenAddress := net.JoinHostPort(listenHost, listenPort)

	if reason := checkPortAvailable(listenHost, listenPort); reason != "" {
		fmt.Fprintf(out, "  WARNING: Port %s on %s %s\n\n", listenPort, listenHost, reason)
	}

	healthPort := promptPort(scanner, out,
		fmt.Sprintf("Health check port [%s]: ", defaultHealthPort),
		defaultHealthPort)
	healthAddress := net.JoinHostPort("127.0.0.1", healthPort)

	if reason := checkPortAvailable("127.0.0.1", healthPort); reason != "" {
		fmt.Fprintf(out, "  WARNING: Port %s on 127.0.0.1 %s\n\n", healthPort, reason)
	}

	hooksSecret := prompt(scanner, out,
		"Webhook secret (leave empty to disable webhook ingress): ", "")

	authToken := prompt(scanner, out,
		"Sibling auth token (leave empty for none): ", "")

	if _, err := os.Stat(configPath); err == nil {
		overwrite := prompt(scanner, out,
			fmt.Sprintf("Config already exists at %s. Overwrite? [y/N]: ", configPath), "n")
		if !strings.HasPrefix(strings.ToLower(overwrite), "y") {
			fmt.Fprintln(out, "Setup cancelled.")
			return nil
		}
	}

	fmt.Fprintf(out, "\nWriting config to %s...\n", configPath)
	configContent := generateConfig(listenAddress, healthAddress, hooksSecret, authToken)

	if err := writeConfig(configPath, configContent, isRoot); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintln(out, "  Config written successfully.")

	fmt.Fprintln(out, "  Validating config...")
	if _, err := config.Load(configPath); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	fmt.Fprintln(out, "  Config is valid.")

	if isRoot && isSystemdAvailable() {
		fmt.Fprintln(out)
		startService := prompt(scanner, out,
			"Start openclaw service now? [Y/n]: ", "y")
		if strings.HasPrefix(strings.ToLower(startService), "y") || startService == "" {
			if err := startSystemdService(out); err != nil {
				fmt.Fprintf(out, "  WARNING: Failed to start service: %v\n", err)
				fmt.Fprintln(out, "  You can start it manually: sudo systemctl start openclaw")
			}
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Setup complete!")
	fmt.Fprintln(out, "===============")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Config:       %s\n", configPath)
	fmt.Fprintf(out, "  Gateway:      http://%s\n", listenAddress)
	fmt.Fprintf(out, "  Health:       http://%s/health\n", healthAddress)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Useful commands:")
	fmt.Fprintf(out, "  Check health:   curl http://%s/health\n", healthAddress)
	fmt.Fprintln(out, "  View logs:      sudo journalctl -u openclaw -f")
	fmt.Fprintln(out, "  Validate:       openclaw validate --config "+configPath)

	return nil
}

// prompt displays a message and reads a line from the scanner.
// Returns defaultVal if input is empty or EOF.
func prompt(scanner *bufio.Scanner, out io.Writer, message, defaultVal string) string {
	fmt.Fprint(out, message)
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}

// validatePort checks that a port string is a valid TCP port (1-65535).
func validatePort(port string) bool {
	n, err := strconv.Atoi(port)
	if err != nil {
		return false
	}
	return n >= 1 && n <= 65535
}

// promptPort prompts for a port, re-prompting on invalid input.
func promptPort(scanner *bufio.Scanner, out io.Writer, message, defaultVal string) string {
	val := prompt(scanner, out, message, defaultVal)
	for !validatePort(val) {
		fmt.Fprintf(out, "  Invalid port %q: must be a number between 1 and 65535\n", val)
		val = prompt(scanner, out, message, defaultVal)
		if val == defaultVal {
			return defaultVal
		}
	}
	return val
}

// detectMeshIP finds a local non-loopback private address, standing in
// for a mesh-overlay interface (Tailscale, WireGuard) address.
func detectMeshIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ipNet.IP.IsLoopback() || ipNet.IP.To4() == nil {
			continue
		}
		if ipNet.IP.IsPrivate() {
			return ipNet.IP.String()
		}
	}
	return ""
}

// checkPortAvailable checks if a TCP port is free on the given host.
// Returns empty string if available, or a reason string if not.
func checkPortAvailable(host, port string) string {
	return isPortAvailable(host, port)
}

func isPortAvailable(host, port string) string {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, port))
	if err != nil {
		return "appears to be in use"
	}
	ln.Close()
	return ""
}

// isSystemdAvailable checks if systemctl is available.
func isSystemdAvailable() bool {
	_, err := exec.LookPath("systemctl")
	return err == nil
}

// startSystemdService starts (or restarts) the openclaw service.
func startSystemdService(out io.Writer) error {
	if err := exec.Command("systemctl", "daemon-reload").Run(); err != nil {
		return fmt.Errorf("daemon-reload: %w", err)
	}

	if err := exec.Command("systemctl", "restart", "openclaw").Run(); err != nil {
		if err := exec.Command("systemctl", "start", "openclaw").Run(); err != nil {
			return err
		}
	}

	time.Sleep(2 * time.Second)
	output, err := exec.Command("systemctl", "is-active", "openclaw").Output()
	if err != nil {
		return fmt.Errorf("service did not start (status: %s)", strings.TrimSpace(string(output)))
	}
	status := strings.TrimSpace(string(output))
	if status == "active" {
		fmt.Fprintln(out, "  Service started successfully.")
	} else {
		fmt.Fprintf(out, "  Service status: %s\n", status)
	}
	return nil
}

// yamlEscapeString escapes a string for use inside YAML double quotes.
func yamlEscapeString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

// generateConfig creates a commented YAML config string matching the
// config.Config schema.
func generateConfig(listenAddress, healthAddress, hooksSecret, authToken string) string {
	authTokenLine := `  token: ""`
	if authToken != "" {
		authTokenLine = fmt.Sprintf(`  token: "%s"`, yamlEscapeString(authToken))
	}

	hooksEnabled := "false"
	hooksSecretLine := `  secret: ""`
	if hooksSecret != "" {
		hooksEnabled = "true"
		hooksSecretLine = fmt.Sprintf(`  secret: "%s"`, yamlEscapeString(hooksSecret))
	}

	return fmt.Sprintf(`# OpenClaw Gateway Configuration
# Generated by: openclaw setup

server:
  # REQUIRED: Listen address (normally a mesh-overlay IP)
  listen_address: "%s"
  read_header_timeout: "10s"
  drain_timeout: "15s"
  mesh_cidrs: ["100.64.0.0/10", "fd7a:115c:a1e0::/48"]
  mesh_permissive: false

auth:
%s
  password: ""
  allow_sibling_fallback: true
  rate_limit:
    window_seconds: 60
    limit: 20
    capacity: 10000

hooks:
  enabled: %s
%s
  base_path: "/hooks"
  token_header: "X-Hook-Token"
  max_body_bytes: 1048576
  body_timeout: "10s"
  requests_per_second: 10
  failure_rate_limit:
    window_seconds: 60
    limit: 20
    capacity: 10000

viewer:
  enabled: true
  base_path: "/vnc"
  ws_path: "/vnc/ws"
  asset_dir: "assets/novnc"
  cache_max_age: "300s"

display:
  enabled: false
  display_binary: "Xvfb"
  fb_server_binary: "x11vnc"

launcher:
  enabled: false

logging:
  level: "info"
  format: "json"
  file: ""  # Empty = stdout (journald captures this)

health:
  enabled: true
  endpoint: "/health"
  listen_address: "%s"
  detailed: true

monitoring:
  metrics_enabled: false
  metrics_endpoint: "/metrics"
`, yamlEscapeString(listenAddress), authTokenLine, hooksEnabled, hooksSecretLine, yamlEscapeString(healthAddress))
}

// writeConfig writes the config file, creating parent directories as needed.
func writeConfig(path, content string, setOwnership bool) error {
	path = filepath.Clean(path)

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating config directory %s: %w", dir, err)
		}
	}

	if err := os.WriteFile(path, []byte(content), 0640); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	_ = setOwnership // ownership handoff to a dedicated service account is deployment-specific
	return nil
}
