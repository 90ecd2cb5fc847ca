package router

import (
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"

	"github.com/0xmemo-claw/openclaw/internal/auth"
	"github.com/0xmemo-claw/openclaw/internal/fbproxy"
)

// WSHandler serves an already-accepted WebSocket upgrade request. The
// canvas host and the main WebSocket server are external collaborators
// in this deployment; NoopWSHandler stands in when one isn't wired.
type WSHandler interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// NoopWSHandler responds 404 to any upgrade it is asked to serve.
type NoopWSHandler struct{}

// ServeWS implements WSHandler.
func (NoopWSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	http.NotFound(w, r)
}

// UpgradeDispatcher routes WebSocket upgrade requests before they reach
// the ordered HTTP pipeline (spec.md §4.5): the framebuffer WS path goes
// straight to the framebuffer proxy with no additional auth (the HTTP
// gate on asset/status fetches is assumed sufficient); the canvas WS
// path requires machine-scoped auth, failing which a plain-text HTTP
// response is written and the connection destroyed before any upgrade
// occurs; everything else goes to the main WebSocket server.
type UpgradeDispatcher struct {
	FbPath        string
	FbBackendAddr string
	CanvasPath    string

	Machine   *auth.MachineAuthorizer
	Extractor CredentialExtractor
	Now       func() time.Time

	Canvas  WSHandler
	MainWS  WSHandler
	Metrics fbproxy.Metrics

	// Registry records canvas WS connections that passed machine-scoped
	// auth, so the sibling-IP fallback can recognize a second private-IP
	// connection from the same host. The framebuffer WS path is left
	// unregistered: it skips auth entirely (spec.md §9 open question), so
	// its connections carry no authenticated identity to vouch for a
	// sibling.
	Registry *auth.Registry
}

// IsUpgrade reports whether r is a WebSocket upgrade request.
func IsUpgrade(r *http.Request) bool {
	return equalFoldHeader(r.Header.Get("Upgrade"), "websocket")
}

func equalFoldHeader(v, want string) bool {
	if len(v) != len(want) {
		return false
	}
	for i := 0; i < len(v); i++ {
		a, b := v[i], want[i]
		if 'A' <= a && a <= 'Z' {
			a += 'a' - 'A'
		}
		if 'A' <= b && b <= 'Z' {
			b += 'a' - 'A'
		}
		if a != b {
			return false
		}
	}
	return true
}

// ServeHTTP dispatches an upgrade request per spec.md §4.5.
func (d *UpgradeDispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case d.FbPath != "" && r.URL.Path == d.FbPath:
		d.serveFramebuffer(w, r)
	case d.CanvasPath != "" && r.URL.Path == d.CanvasPath:
		d.serveCanvas(w, r)
	default:
		mainWS := d.MainWS
		if mainWS == nil {
			mainWS = NoopWSHandler{}
		}
		mainWS.ServeWS(w, r)
	}
}

func (d *UpgradeDispatcher) serveFramebuffer(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	sess, err := fbproxy.Dial(r.Context(), conn, d.FbBackendAddr, d.Metrics)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "backend unreachable")
		return
	}
	sess.Run(r.Context())
}

func (d *UpgradeDispatcher) serveCanvas(w http.ResponseWriter, r *http.Request) {
	extractor := d.Extractor
	if extractor == nil {
		extractor = BearerCredential
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}

	if d.Machine == nil {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	res := d.Machine.Authorize(r, extractor(r), now())
	if !res.OK() {
		if res.RateLimited() {
			w.Header().Set("Retry-After", strconv.FormatInt((res.RetryAfterMS()+999)/1000, 10))
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		} else {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		}
		return
	}

	if d.Registry != nil {
		ip := d.Machine.ClientIP(r)
		d.Registry.Add(ip)
		defer d.Registry.Remove(ip)
	}

	canvas := d.Canvas
	if canvas == nil {
		canvas = NoopWSHandler{}
	}
	canvas.ServeWS(w, r)
}
