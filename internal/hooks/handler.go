package hooks

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/0xmemo-claw/openclaw/internal/security"
	"golang.org/x/time/rate"
)

// Metrics receives dispatch and rejection counts. Implemented by
// internal/metrics.Metrics; nil disables reporting.
type Metrics interface {
	Dispatched(kind string)
	Rejected(status int)
}

// Handler implements the webhook ingress pipeline described in spec.md
// §4.3. It satisfies the router package's LeafHandler contract
// structurally (Handle(w, r) (handled bool, err error)) without importing
// it, keeping hooks independent of the router package.
type Handler struct {
	Config          Config
	Failures        *security.FailureTable
	WakeSink        WakeSink
	AgentDispatcher AgentDispatcher
	Body            BodyReader
	Metrics         Metrics

	// ClientKey resolves the opaque per-client key used by the failure
	// table and the request-volume throttle. Defaults to the request's
	// raw RemoteAddr host if nil.
	ClientKey func(*http.Request) string

	// Now is overridable for deterministic tests.
	Now func() time.Time

	volumeMu sync.Mutex
	volume   map[string]*rate.Limiter
}

// Handle implements the hooks stage of the router's ordered chain. It
// runs before any other authorization-bearing handler, per spec.md §4.3's
// "runs BEFORE any other authorization chain" requirement.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) (bool, error) {
	if !h.Config.Enabled {
		return false, nil
	}
	if !strings.HasPrefix(r.URL.Path, h.Config.BasePath) {
		return false, nil
	}

	if r.URL.Query().Get("token") != "" {
		writeText(w, http.StatusBadRequest, "tokens must travel in Authorization: Bearer <t> or the "+h.tokenHeaderName()+" header, not the query string")
		h.reject(http.StatusBadRequest)
		return true, nil
	}

	key := h.clientKey(r)
	now := h.now()

	if h.throttledByVolume(key, now) {
		w.Header().Set("Retry-After", "1")
		writeText(w, http.StatusTooManyRequests, "too many requests")
		h.reject(http.StatusTooManyRequests)
		return true, nil
	}

	token := extractToken(r, h.Config.TokenHeader)
	if !security.SecretEqual(token, h.Config.Secret) {
		if h.Failures != nil {
			res := h.Failures.RecordFailure(key, now)
			if res.Throttled {
				w.Header().Set("Retry-After", strconv.FormatInt(ceilSeconds(res.RetryAfterMS), 10))
				writeText(w, http.StatusTooManyRequests, "too many authentication failures")
				h.reject(http.StatusTooManyRequests)
				return true, nil
			}
		}
		writeText(w, http.StatusUnauthorized, "unauthorized")
		h.reject(http.StatusUnauthorized)
		return true, nil
	}
	if h.Failures != nil {
		h.Failures.Clear(key)
	}

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeText(w, http.StatusMethodNotAllowed, "method not allowed")
		h.reject(http.StatusMethodNotAllowed)
		return true, nil
	}

	subPath := strings.TrimPrefix(r.URL.Path, h.Config.BasePath)
	subPath = strings.TrimPrefix(subPath, "/")
	if subPath == "" {
		writeText(w, http.StatusNotFound, "not found")
		h.reject(http.StatusNotFound)
		return true, nil
	}

	payload, outcome := h.Body.Read(r.Context(), r)
	switch outcome {
	case BodyTooLarge:
		writeText(w, http.StatusRequestEntityTooLarge, "request body too large")
		h.reject(http.StatusRequestEntityTooLarge)
		return true, nil
	case BodyTimedOut:
		writeText(w, http.StatusRequestTimeout, "timed out reading request body")
		h.reject(http.StatusRequestTimeout)
		return true, nil
	case BodyMalformed:
		writeText(w, http.StatusBadRequest, "malformed JSON body")
		h.reject(http.StatusBadRequest)
		return true, nil
	}

	event := Event{Payload: payload, Headers: r.Header, URL: r.URL, Path: subPath}

	switch subPath {
	case "wake":
		h.dispatchWake(w, payload)
	case "agent":
		h.dispatchAgent(w, payload)
	default:
		h.dispatchMapped(w, event)
	}
	return true, nil
}

func (h *Handler) reject(status int) {
	if h.Metrics != nil {
		h.Metrics.Rejected(status)
	}
}

func (h *Handler) dispatched(kind string) {
	if h.Metrics != nil {
		h.Metrics.Dispatched(kind)
	}
}

func (h *Handler) dispatchWake(w http.ResponseWriter, payload map[string]any) {
	wp, err := normalizeWake(payload)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	if h.WakeSink == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "wake sink not configured"})
		return
	}
	if err := h.WakeSink.Wake(wp); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	h.dispatched("wake")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "mode": string(wp.Mode)})
}

func (h *Handler) dispatchAgent(w http.ResponseWriter, payload map[string]any) {
	ap, err := normalizeAgent(payload, h.Config)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	if h.AgentDispatcher == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "agent dispatcher not configured"})
		return
	}
	runID, err := h.AgentDispatcher.Dispatch(ap)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	h.dispatched("agent")
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "runId": runID})
}

func (h *Handler) dispatchMapped(w http.ResponseWriter, event Event) {
	for _, rule := range h.Config.Rules {
		action, matched, err := rule(event)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
			h.reject(http.StatusInternalServerError)
			return
		}
		if !matched {
			continue
		}
		switch action.Kind {
		case ActionDrop:
			h.dispatched("mapped")
			w.WriteHeader(http.StatusNoContent)
		case ActionWake:
			if h.WakeSink == nil {
				writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "wake sink not configured"})
				return
			}
			if err := h.WakeSink.Wake(action.Wake); err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
				return
			}
			h.dispatched("mapped")
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "mode": string(action.Wake.Mode)})
		case ActionAgent:
			if h.AgentDispatcher == nil {
				writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "agent dispatcher not configured"})
				return
			}
			runID, err := h.AgentDispatcher.Dispatch(action.Agent)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
				return
			}
			h.dispatched("mapped")
			writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "runId": runID})
		}
		return
	}
	h.reject(http.StatusNotFound)
	writeText(w, http.StatusNotFound, "no mapping matched")
}

func (h *Handler) tokenHeaderName() string {
	if h.Config.TokenHeader != "" {
		return h.Config.TokenHeader
	}
	return "X-Hook-Token"
}

func (h *Handler) clientKey(r *http.Request) string {
	if h.ClientKey != nil {
		return h.ClientKey(r)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *Handler) throttledByVolume(key string, now time.Time) bool {
	if h.Config.RequestsPerSecond <= 0 {
		return false
	}
	h.volumeMu.Lock()
	if h.volume == nil {
		h.volume = make(map[string]*rate.Limiter)
	}
	lim, ok := h.volume[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(h.Config.RequestsPerSecond), maxBurst(h.Config.RequestsPerSecond))
		h.volume[key] = lim
	}
	h.volumeMu.Unlock()
	return !lim.AllowN(now, 1)
}

func maxBurst(rps float64) int {
	b := int(rps)
	if b < 1 {
		b = 1
	}
	return b
}

func extractToken(r *http.Request, namedHeader string) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if namedHeader != "" {
		return r.Header.Get(namedHeader)
	}
	return ""
}

func ceilSeconds(ms int64) int64 {
	s := ms / 1000
	if ms%1000 != 0 {
		s++
	}
	if s < 1 {
		s = 1
	}
	return s
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintln(w, msg)
}
