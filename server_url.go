package main

import (
	"fmt"
	"net"
	"strings"
)

// listenerURLs returns the operational base URL and the participant WebSocket URL for the
// listener address.
func listenerURLs(address string, tlsEnabled bool) (httpURL, wsURL string) {
	httpScheme, wsScheme := "http", "ws"
	if tlsEnabled {
		httpScheme, wsScheme = "https", "wss"
	}
	host := normaliseHostPort(address)
	return fmt.Sprintf("%s://%s", httpScheme, host), fmt.Sprintf("%s://%s/ws", wsScheme, host)
}

func normaliseHostPort(address string) string {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return "localhost"
	}
	host, port, err := net.SplitHostPort(trimmed)
	if err != nil {
		if strings.HasPrefix(trimmed, ":") {
			return "localhost" + trimmed
		}
		return trimmed
	}
	switch strings.TrimSpace(host) {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
