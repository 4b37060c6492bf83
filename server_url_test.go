package main

import "testing"

func TestListenerURLs(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		address  string
		tls      bool
		wantHTTP string
		wantWS   string
	}{
		"default_port_only":    {address: ":43127", wantHTTP: "http://localhost:43127", wantWS: "ws://localhost:43127/ws"},
		"explicit_ipv4_any":    {address: "0.0.0.0:9000", wantHTTP: "http://localhost:9000", wantWS: "ws://localhost:9000/ws"},
		"explicit_ipv4_local":  {address: "127.0.0.1:43127", wantHTTP: "http://127.0.0.1:43127", wantWS: "ws://127.0.0.1:43127/ws"},
		"explicit_ipv6_any":    {address: "[::]:43127", wantHTTP: "http://localhost:43127", wantWS: "ws://localhost:43127/ws"},
		"explicit_ipv6_custom": {address: "[2001:db8::1]:43127", wantHTTP: "http://[2001:db8::1]:43127", wantWS: "ws://[2001:db8::1]:43127/ws"},
		"tls_enabled":          {address: ":43127", tls: true, wantHTTP: "https://localhost:43127", wantWS: "wss://localhost:43127/ws"},
	}

	for name, tc := range tests {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			gotHTTP, gotWS := listenerURLs(tc.address, tc.tls)
			if gotHTTP != tc.wantHTTP || gotWS != tc.wantWS {
				t.Fatalf("listenerURLs(%q, %t) = %q, %q; want %q, %q", tc.address, tc.tls, gotHTTP, gotWS, tc.wantHTTP, tc.wantWS)
			}
		})
	}
}

func TestNormaliseHostPortNoPort(t *testing.T) {
	t.Parallel()

	if got := normaliseHostPort(""); got != "localhost" {
		t.Fatalf("expected localhost for empty address, got %q", got)
	}
	if got := normaliseHostPort("study.example"); got != "study.example" {
		t.Fatalf("expected bare host to pass through, got %q", got)
	}
}
