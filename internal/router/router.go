// Package router implements the gateway's single ordered HTTP pipeline
// (spec.md §4.4): a ladder of independent leaf handlers, each reporting
// whether it handled the request, with machine-scoped authorization
// gating the stages that require it. This generalizes a staged
// path-match -> auth-check -> dispatch reverse-proxy handler into an
// ordered chain of independently pluggable stages.
package router

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/0xmemo-claw/openclaw/internal/auth"
)

// LeafHandler is the uniform contract every stage of the router
// satisfies: report whether the request was handled, or an error to be
// converted to a 500 at the router boundary (spec.md §4.4, §7).
type LeafHandler interface {
	Handle(w http.ResponseWriter, r *http.Request) (handled bool, err error)
}

// LeafHandlerFunc adapts a plain function to LeafHandler.
type LeafHandlerFunc func(w http.ResponseWriter, r *http.Request) (bool, error)

// Handle calls f.
func (f LeafHandlerFunc) Handle(w http.ResponseWriter, r *http.Request) (bool, error) {
	return f(w, r)
}

// NoopLeaf always reports not-handled. It stands in for an optional
// external collaborator (tool invocation, Slack, plugin, protocol
// translation, canvas host, control UI, avatar) that is not wired into
// a given deployment, so the router remains fully constructible and
// testable without those collaborators present.
type NoopLeaf struct{}

// Handle always returns (false, nil).
func (NoopLeaf) Handle(w http.ResponseWriter, r *http.Request) (bool, error) { return false, nil }

// Stage pairs a leaf handler with whether requests reaching it must
// first pass machine-scoped authorization (spec.md §4.4 items 5 and 8:
// the plugin channel prefix and the canvas subtree).
type Stage struct {
	Name                string
	Handler             LeafHandler
	RequireMachineAuth  bool
	// PathPrefix restricts RequireMachineAuth to requests under this
	// prefix; empty means "the whole stage requires auth" (used by the
	// plugin channels-prefix carve-out and the canvas subtree).
	PathPrefix string
}

// CredentialExtractor pulls a presented bearer token / password from a
// request, for stages that require machine-scoped authorization.
type CredentialExtractor func(r *http.Request) auth.Credential

// Router runs an ordered list of stages, short-circuiting at the first
// handled one.
type Router struct {
	stages     []Stage
	machine    *auth.MachineAuthorizer
	extractor  CredentialExtractor
	now        func() time.Time
}

// New creates a Router. machine may be nil if no stage sets
// RequireMachineAuth.
func New(stages []Stage, machine *auth.MachineAuthorizer, extractor CredentialExtractor) *Router {
	if extractor == nil {
		extractor = BearerCredential
	}
	return &Router{stages: stages, machine: machine, extractor: extractor, now: time.Now}
}

// BearerCredential extracts a token from "Authorization: Bearer <t>".
func BearerCredential(r *http.Request) auth.Credential {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return auth.Credential{Token: h[len(prefix):]}
	}
	return auth.Credential{}
}

// ServeHTTP implements http.Handler: a panic-recovery boundary wraps the
// ordered stage walk, converting both panics and handler errors to 500
// without leaking detail (spec.md §4.4 last line, §7).
func (router *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("router: panic in leaf handler", "panic", rec, "stack", string(debug.Stack()))
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
	}()

	for _, stage := range router.stages {
		if stage.Handler == nil {
			continue
		}
		if stage.RequireMachineAuth && pathMatches(r.URL.Path, stage.PathPrefix) {
			if !router.authorizeMachine(w, r) {
				return
			}
		}

		handled, err := stage.Handler.Handle(w, r)
		if err != nil {
			slog.Error("router: leaf handler error", "stage", stage.Name, "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if handled {
			return
		}
	}

	http.NotFound(w, r)
}

func pathMatches(path, prefix string) bool {
	if prefix == "" {
		return true
	}
	return len(path) >= len(prefix) && path[:len(prefix)] == prefix
}

func (router *Router) authorizeMachine(w http.ResponseWriter, r *http.Request) bool {
	if router.machine == nil {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return false
	}
	res := router.machine.Authorize(r, router.extractor(r), router.now())
	if res.OK() {
		return true
	}
	if res.RateLimited() {
		w.Header().Set("Retry-After", strconv.FormatInt((res.RetryAfterMS()+999)/1000, 10))
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return false
	}
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
	return false
}

// WriteJSON writes a JSON response with the gateway's standard
// Content-Type, including the charset suffix (spec.md §6 preamble).
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("router: failed to encode JSON response", "error", err)
	}
}
