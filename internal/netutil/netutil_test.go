package netutil

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIP_NoForwardedHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.5:5000"
	ip := ClientIP(r, NewCIDRSet(nil))
	if ip != "203.0.113.5" {
		t.Errorf("ClientIP = %q, want %q", ip, "203.0.113.5")
	}
}

func TestClientIP_XRealIPFallback(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5000"
	r.Header.Set("X-Real-IP", "198.51.100.9")
	ip := ClientIP(r, NewCIDRSet(nil))
	if ip != "198.51.100.9" {
		t.Errorf("ClientIP = %q, want %q", ip, "198.51.100.9")
	}
}

func TestClientIP_WalksTrustedProxyChain(t *testing.T) {
	trusted := NewCIDRSet([]string{"10.0.0.0/8"})
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5000"
	r.Header.Set("X-Forwarded-For", "198.51.100.9, 10.0.0.5, 10.0.0.1")

	ip := ClientIP(r, trusted)
	if ip != "198.51.100.9" {
		t.Errorf("ClientIP = %q, want %q", ip, "198.51.100.9")
	}
}

func TestClientIP_AllTrusted(t *testing.T) {
	trusted := NewCIDRSet([]string{"10.0.0.0/8"})
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5000"
	r.Header.Set("X-Forwarded-For", "10.0.0.9, 10.0.0.5")

	ip := ClientIP(r, trusted)
	if ip != "10.0.0.1" {
		t.Errorf("ClientIP = %q, want raw socket fallback %q", ip, "10.0.0.1")
	}
}

func TestIsPrivateOrLoopback(t *testing.T) {
	cases := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"192.168.1.1", true},
		{"172.16.0.5", true},
		{"8.8.8.8", false},
		{"203.0.113.1", false},
	}
	for _, c := range cases {
		got := IsPrivateOrLoopback(net.ParseIP(c.ip))
		if got != c.want {
			t.Errorf("IsPrivateOrLoopback(%s) = %v, want %v", c.ip, got, c.want)
		}
	}
}

func TestCIDRSet_Contains(t *testing.T) {
	s := NewCIDRSet([]string{"100.64.0.0/10", "fd7a:115c:a1e0::/48"})
	if !s.Contains(net.ParseIP("100.64.1.2")) {
		t.Error("expected 100.64.1.2 to be contained")
	}
	if s.Contains(net.ParseIP("8.8.8.8")) {
		t.Error("expected 8.8.8.8 to not be contained")
	}
}

func TestIsDirectLoopback(t *testing.T) {
	if !IsDirectLoopback("127.0.0.1:1234") {
		t.Error("expected loopback")
	}
	if IsDirectLoopback("203.0.113.1:1234") {
		t.Error("expected non-loopback")
	}
}
