package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chicken/broker/internal/auth"
)

// resumeAuthenticator hands out and checks the tokens a participant presents to rejoin its
// session after a dropped connection.
type resumeAuthenticator interface {
	Issue(sessionID string) (string, error)
	Authenticate(token string) (string, error)
}

type tokenResumeAuthenticator struct {
	issuer *auth.TokenIssuer
}

// newResumeAuthenticator builds the authenticator. An empty secret is replaced by a random
// one, which invalidates outstanding tokens whenever the server restarts.
func newResumeAuthenticator(secret string, ttl time.Duration) (resumeAuthenticator, bool, error) {
	generated := false
	if strings.TrimSpace(secret) == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, false, err
		}
		secret = hex.EncodeToString(buf)
		generated = true
	}
	issuer, err := auth.NewTokenIssuer(secret, ttl, 2*time.Second)
	if err != nil {
		return nil, false, err
	}
	return &tokenResumeAuthenticator{issuer: issuer}, generated, nil
}

func (a *tokenResumeAuthenticator) Issue(sessionID string) (string, error) {
	if a == nil || a.issuer == nil {
		return "", errors.New("issuer not configured")
	}
	return a.issuer.Issue(sessionID)
}

// Authenticate validates the token and returns the session it grants access to.
func (a *tokenResumeAuthenticator) Authenticate(token string) (string, error) {
	if a == nil || a.issuer == nil {
		return "", errors.New("issuer not configured")
	}
	claims, err := a.issuer.Verify(token)
	if err != nil {
		return "", err
	}
	return claims.SessionID, nil
}

// WithResumeAuthenticator wires a custom authenticator into the broker.
func WithResumeAuthenticator(authenticator resumeAuthenticator) BrokerOption {
	return func(b *Broker) {
		if b == nil || authenticator == nil {
			return
		}
		b.resume = authenticator
	}
}

// originChecker admits same-host requests, requests without an Origin header and any
// origin in the allow list.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[strings.ToLower(strings.TrimRight(origin, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			return true
		}
		if _, ok := set["*"]; ok {
			return true
		}
		if _, ok := set[strings.ToLower(strings.TrimRight(origin, "/"))]; ok {
			return true
		}
		parsed, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(parsed.Host, r.Host)
	}
}
