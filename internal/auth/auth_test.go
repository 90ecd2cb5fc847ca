package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/0xmemo-claw/openclaw/internal/netutil"
	"github.com/0xmemo-claw/openclaw/internal/security"
)

func TestAuthorizer_TokenMatch(t *testing.T) {
	a := NewAuthorizer(Config{Token: "secret-token"}, security.NewFailureTable(time.Minute, 20, 1000))
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.1:1234"

	res := a.Authorize(r, Credential{Token: "secret-token"}, time.Now())
	if !res.OK() {
		t.Fatal("expected OK on matching token")
	}
}

func TestAuthorizer_WrongTokenRateLimited(t *testing.T) {
	limiter := security.NewFailureTable(time.Minute, 2, 1000)
	a := NewAuthorizer(Config{Token: "secret-token"}, limiter)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.1:1234"
	now := time.Now()

	for i := 0; i < 2; i++ {
		res := a.Authorize(r, Credential{Token: "wrong"}, now)
		if !res.Unauthorized() {
			t.Fatalf("attempt %d: expected Unauthorized, got %+v", i, res)
		}
	}

	res := a.Authorize(r, Credential{Token: "wrong"}, now)
	if !res.RateLimited() {
		t.Fatal("expected RateLimited after exceeding limit")
	}
	if res.RetryAfterMS() <= 0 {
		t.Error("expected positive RetryAfterMS")
	}
}

func TestAuthorizer_MeshPermissive(t *testing.T) {
	mesh := netutil.NewCIDRSet([]string{"100.64.0.0/10"})
	a := NewAuthorizer(Config{MeshPermissive: true, MeshCIDRs: mesh, Token: "x"}, nil)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "100.64.1.2:1234"

	res := a.Authorize(r, Credential{}, time.Now())
	if !res.OK() {
		t.Fatal("expected OK for mesh-permissive address with no credential")
	}
}

func TestMachineAuthorizer_DirectLoopback(t *testing.T) {
	m := NewMachineAuthorizer(Config{Token: "x"}, nil, nil, true)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "127.0.0.1:9999"

	res := m.Authorize(r, Credential{}, time.Now())
	if !res.OK() {
		t.Fatal("expected OK for direct loopback")
	}
}

func TestMachineAuthorizer_SiblingFallback(t *testing.T) {
	trusted := netutil.NewCIDRSet(nil)
	reg := NewRegistry()
	reg.Add("10.0.0.5")

	cfg := Config{Token: "secret", TrustedProxies: trusted}
	limiter := security.NewFailureTable(time.Minute, 20, 1000)
	m := NewMachineAuthorizer(cfg, limiter, reg, true)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.99:5555" // not loopback, no credential
	r.Header.Set("X-Forwarded-For", "10.0.0.5")

	res := m.Authorize(r, Credential{}, time.Now())
	if !res.OK() {
		t.Fatalf("expected sibling-fallback OK, got %+v", res)
	}
}

func TestMachineAuthorizer_SiblingFallbackDisabled(t *testing.T) {
	reg := NewRegistry()
	reg.Add("10.0.0.5")

	cfg := Config{Token: "secret"}
	limiter := security.NewFailureTable(time.Minute, 20, 1000)
	m := NewMachineAuthorizer(cfg, limiter, reg, false)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.5:5555"

	res := m.Authorize(r, Credential{}, time.Now())
	if res.OK() {
		t.Fatal("expected sibling fallback disabled to reject")
	}
}

func TestMachineAuthorizer_PublicIPRejectedEvenIfRegistered(t *testing.T) {
	reg := NewRegistry()
	reg.Add("203.0.113.9")

	cfg := Config{Token: "secret"}
	limiter := security.NewFailureTable(time.Minute, 20, 1000)
	m := NewMachineAuthorizer(cfg, limiter, reg, true)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.9:5555"

	res := m.Authorize(r, Credential{}, time.Now())
	if res.OK() {
		t.Fatal("expected public address to be rejected regardless of registry")
	}
}

func TestRegistry_AddRemove(t *testing.T) {
	r := NewRegistry()
	if r.HasLive("1.2.3.4") {
		t.Fatal("expected empty registry to have no live entries")
	}
	r.Add("1.2.3.4")
	r.Add("1.2.3.4")
	if !r.HasLive("1.2.3.4") {
		t.Fatal("expected live entry after Add")
	}
	r.Remove("1.2.3.4")
	if !r.HasLive("1.2.3.4") {
		t.Fatal("expected entry to survive one Remove after two Adds")
	}
	r.Remove("1.2.3.4")
	if r.HasLive("1.2.3.4") {
		t.Fatal("expected entry removed after matching Remove calls")
	}
}
