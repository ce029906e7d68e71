package util

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithSecurityHeadersBaseline(t *testing.T) {
	h := WithSecurityHeaders(nil, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/emails", nil))

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Referrer-Policy":         "no-referrer",
		"Cache-Control":           "no-store",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'; base-uri 'none'",
	}
	for name, value := range want {
		if got := rec.Header().Get(name); got != value {
			t.Fatalf("%s = %q, want %q", name, got, value)
		}
	}
}

func TestWithSecurityHeadersHSTS(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatalf("trusted proxies: %v", err)
	}
	cases := []struct {
		name   string
		remote string
		proto  string
		tls    bool
		want   bool
	}{
		{name: "plain http", remote: "203.0.113.5:4000", want: false},
		{name: "direct tls", remote: "203.0.113.5:4000", tls: true, want: true},
		{name: "trusted proxy forwards https", remote: "10.1.2.3:4000", proto: "HTTPS", want: true},
		{name: "trusted proxy forwards http", remote: "10.1.2.3:4000", proto: "http", want: false},
		{name: "untrusted peer claims https", remote: "203.0.113.5:4000", proto: "https", want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := WithSecurityHeaders(trusted, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			req.RemoteAddr = tc.remote
			if tc.proto != "" {
				req.Header.Set("X-Forwarded-Proto", tc.proto)
			}
			if tc.tls {
				req.TLS = &tls.ConnectionState{}
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if got := rec.Header().Get("Strict-Transport-Security") != ""; got != tc.want {
				t.Fatalf("HSTS set = %v, want %v", got, tc.want)
			}
		})
	}
}
