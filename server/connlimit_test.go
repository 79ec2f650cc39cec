package server

import (
	"net/http"
	"testing"
)

func TestConnLimiterPerIP(t *testing.T) {
	l := NewConnLimiter(2, 100)

	if !l.TryAcquire("192.168.1.1") || !l.TryAcquire("192.168.1.1") {
		t.Fatal("first two connections should be allowed")
	}
	if l.TryAcquire("192.168.1.1") {
		t.Error("third connection from the same IP should be refused")
	}
	if !l.TryAcquire("192.168.1.2") {
		t.Error("another IP should be allowed")
	}

	l.Release("192.168.1.1")
	if !l.TryAcquire("192.168.1.1") {
		t.Error("slot should be reusable after release")
	}
}

func TestConnLimiterTotal(t *testing.T) {
	l := NewConnLimiter(10, 2)
	l.TryAcquire("a")
	l.TryAcquire("b")
	if l.TryAcquire("c") {
		t.Error("total limit exceeded")
	}
	if total, ips := l.Stats(); total != 2 || ips != 2 {
		t.Errorf("Stats = (%d, %d), want (2, 2)", total, ips)
	}
}

func TestConnLimiterUnlimited(t *testing.T) {
	l := NewConnLimiter(0, 0)
	for i := 0; i < 100; i++ {
		if !l.TryAcquire("a") {
			t.Fatal("zero limits mean unlimited")
		}
	}
}

func TestConnLimiterReleaseUnknown(t *testing.T) {
	l := NewConnLimiter(1, 1)
	l.Release("ghost")
	if total, ips := l.Stats(); total != 0 || ips != 0 {
		t.Errorf("Stats = (%d, %d) after releasing an unknown IP", total, ips)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remote     string
		forwarded  string
		trustProxy bool
		want       string
	}{
		{"remote addr", "203.0.113.5:5555", "", false, "203.0.113.5"},
		{"ipv6", "[2001:db8::1]:443", "", false, "2001:db8::1"},
		{"no port", "203.0.113.5", "", false, "203.0.113.5"},
		{"forwarded ignored", "10.0.0.1:80", "198.51.100.7", false, "10.0.0.1"},
		{"forwarded trusted", "10.0.0.1:80", "198.51.100.7, 10.0.0.1", true, "198.51.100.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{RemoteAddr: tt.remote, Header: http.Header{}}
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := clientIP(r, tt.trustProxy); got != tt.want {
				t.Errorf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
