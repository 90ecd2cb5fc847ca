// Package auth implements the gateway's tiered authorization model: a
// bearer/password credential check backed by a sliding-window rate
// limiter, a TLS-mesh permissive override, and a machine-scoped local-IP
// fallback gated by a registry of already-authenticated sibling
// connections (spec.md §4.1, §3).
package auth

import (
	"net"
	"net/http"
	"time"

	"github.com/0xmemo-claw/openclaw/internal/netutil"
	"github.com/0xmemo-claw/openclaw/internal/security"
)

// resultKind is the unexported tag backing Result, the idiomatic Go
// substitute for a tagged union (spec.md §3 "Authentication result").
type resultKind int

const (
	resultOK resultKind = iota
	resultUnauthorized
	resultRateLimited
)

// Result is the outcome of an authorization check. Use the OK,
// Unauthorized, and RateLimited predicates to inspect it; RetryAfterMS is
// only meaningful when RateLimited() is true.
type Result struct {
	kind         resultKind
	retryAfterMS int64
}

// OK reports whether the request is authorized.
func (r Result) OK() bool { return r.kind == resultOK }

// Unauthorized reports whether the request was rejected outright (as
// opposed to rate limited).
func (r Result) Unauthorized() bool { return r.kind == resultUnauthorized }

// RateLimited reports whether the request was rejected because the
// caller is currently throttled.
func (r Result) RateLimited() bool { return r.kind == resultRateLimited }

// RetryAfterMS is the number of milliseconds the caller should wait
// before retrying. Valid only when RateLimited() is true.
func (r Result) RetryAfterMS() int64 { return r.retryAfterMS }

func ok() Result                        { return Result{kind: resultOK} }
func unauthorized() Result               { return Result{kind: resultUnauthorized} }
func rateLimited(retryAfterMS int64) Result {
	return Result{kind: resultRateLimited, retryAfterMS: retryAfterMS}
}

// Config is the resolved, immutable-per-request authentication
// configuration (spec.md §3 "Resolved authentication configuration").
// It is rebuilt only on explicit config reload.
type Config struct {
	Token          string
	Password       string
	MeshPermissive bool
	TrustedProxies *netutil.CIDRSet
	MeshCIDRs      *netutil.CIDRSet
}

// Credential is a presented credential pair; either field may be empty.
type Credential struct {
	Token    string
	Password string
}

// Metrics receives authorization outcome counts. Implemented by
// internal/metrics.Metrics; nil disables reporting.
type Metrics interface {
	AuthResult(result string)
}

// Authorizer composes the bearer/password check, the rate limiter, and
// the TLS-mesh override, per spec.md §4.1's non-machine-scoped policy.
type Authorizer struct {
	cfg     Config
	limiter *security.FailureTable
	Metrics Metrics
}

// NewAuthorizer builds an Authorizer from a resolved Config and a shared
// failure table. limiter may be nil, in which case unauthorized
// credentials are always rejected outright rather than rate limited.
func NewAuthorizer(cfg Config, limiter *security.FailureTable) *Authorizer {
	return &Authorizer{cfg: cfg, limiter: limiter}
}

// Authorize evaluates the non-machine-scoped policy (spec.md §4.1,
// numbered steps 1-3) for r, presenting cred if the caller supplied one.
func (a *Authorizer) Authorize(r *http.Request, cred Credential, now time.Time) Result {
	res := a.authorize(r, cred, now)
	if a.Metrics != nil {
		a.Metrics.AuthResult(resultLabel(res))
	}
	return res
}

func (a *Authorizer) authorize(r *http.Request, cred Credential, now time.Time) Result {
	if a.cfg.MeshPermissive && a.cfg.MeshCIDRs != nil {
		if ip := parseHost(netutil.SplitHostPort(r.RemoteAddr)); ip != nil && a.cfg.MeshCIDRs.Contains(ip) {
			return ok()
		}
	}

	if a.credentialMatches(cred) {
		return ok()
	}

	return a.consultLimiter(netutil.ClientIP(r, a.cfg.TrustedProxies), now)
}

func resultLabel(r Result) string {
	switch {
	case r.OK():
		return "ok"
	case r.RateLimited():
		return "rate_limited"
	default:
		return "unauthorized"
	}
}

func (a *Authorizer) credentialMatches(cred Credential) bool {
	if cred.Token != "" && a.cfg.Token != "" && security.SecretEqual(cred.Token, a.cfg.Token) {
		return true
	}
	if cred.Password != "" && a.cfg.Password != "" && security.SecretEqual(cred.Password, a.cfg.Password) {
		return true
	}
	return false
}

func (a *Authorizer) consultLimiter(key string, now time.Time) Result {
	if a.limiter == nil {
		return unauthorized()
	}
	res := a.limiter.RecordFailure(key, now)
	if res.Throttled {
		return rateLimited(res.RetryAfterMS)
	}
	return unauthorized()
}

// clearFailures resets the failure entry for key, per spec.md §4.1's
// "on match, clear the failure entry for this client key" (hook handler)
// and the general rule that successful auth resets the table.
func (a *Authorizer) clearFailures(key string) {
	if a.limiter != nil {
		a.limiter.Clear(key)
	}
}

// MachineAuthorizer implements the machine-scoped variant used by the
// framebuffer and canvas endpoints (spec.md §4.1 "Machine-scoped
// variant"): direct-loopback short-circuit, then bearer auth with the
// TLS-mesh override suppressed, then a private/loopback sibling-IP
// fallback against the authenticated-client registry.
type MachineAuthorizer struct {
	base     *Authorizer
	registry *Registry
	enabled  bool // Config.AllowSiblingFallback
	Metrics  Metrics
}

// NewMachineAuthorizer builds a MachineAuthorizer. siblingFallback
// disables step 3 of the machine-scoped policy when false — required for
// deployments behind shared-IP NAT, per spec.md §9's open question.
func NewMachineAuthorizer(cfg Config, limiter *security.FailureTable, registry *Registry, siblingFallback bool) *MachineAuthorizer {
	meshless := cfg
	meshless.MeshPermissive = false
	return &MachineAuthorizer{
		base:     NewAuthorizer(meshless, limiter),
		registry: registry,
		enabled:  siblingFallback,
	}
}

// ClientIP resolves the effective client IP for r under this
// authorizer's trusted-proxy filter, for callers (the upgrade
// dispatcher) that need to key the authenticated-client registry the
// same way the sibling-IP fallback does.
func (m *MachineAuthorizer) ClientIP(r *http.Request) string {
	return netutil.ClientIP(r, m.base.cfg.TrustedProxies)
}

// Authorize evaluates the machine-scoped policy for r.
func (m *MachineAuthorizer) Authorize(r *http.Request, cred Credential, now time.Time) Result {
	res := m.authorize(r, cred, now)
	if m.Metrics != nil {
		m.Metrics.AuthResult(resultLabel(res))
	}
	return res
}

func (m *MachineAuthorizer) authorize(r *http.Request, cred Credential, now time.Time) Result {
	if netutil.IsDirectLoopback(r.RemoteAddr) {
		return ok()
	}

	res := m.base.authorize(r, cred, now)
	if res.OK() {
		m.base.clearFailures(netutil.ClientIP(r, m.base.cfg.TrustedProxies))
		return res
	}
	if res.RateLimited() {
		return res
	}

	if !m.enabled || m.registry == nil {
		return unauthorized()
	}

	effectiveIP := netutil.ClientIP(r, m.base.cfg.TrustedProxies)
	ip := parseHost(effectiveIP)
	if ip == nil || !netutil.IsPrivateOrLoopback(ip) {
		return unauthorized()
	}
	if m.registry.HasLive(effectiveIP) {
		return ok()
	}
	return unauthorized()
}

func parseHost(host string) net.IP {
	return net.ParseIP(host)
}
