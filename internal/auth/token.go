package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken indicates the token failed signature checks or had malformed structure.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken signals that the token's expiry is in the past.
	ErrExpiredToken = errors.New("token expired")
)

// Issuer is the iss claim stamped on every resume token.
const Issuer = "chicken-broker"

// ResumeClaims ties a participant connection to the session it may rejoin.
type ResumeClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 resume tokens handed to participants on hello.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	leeway time.Duration
	now    func() time.Time
}

// NewTokenIssuer constructs an issuer for the supplied secret, token lifetime and clock
// skew allowance.
func NewTokenIssuer(secret string, ttl, leeway time.Duration) (*TokenIssuer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("token secret must not be empty")
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	if leeway < 0 {
		leeway = 0
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, leeway: leeway, now: time.Now}, nil
}

// Issue signs a token allowing the holder to resume sessionID.
func (i *TokenIssuer) Issue(sessionID string) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", errors.New("session id must not be empty")
	}
	now := i.now()
	claims := ResumeClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign resume token: %w", err)
	}
	return signed, nil
}

// Verify parses the token and validates the signature, issuer and expiry, returning the
// embedded claims.
func (i *TokenIssuer) Verify(token string) (*ResumeClaims, error) {
	if i == nil || len(i.secret) == 0 {
		return nil, errors.New("issuer not initialised")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims := &ResumeClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(i.leeway),
		jwt.WithTimeFunc(i.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	case !parsed.Valid || strings.TrimSpace(claims.SessionID) == "":
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// WithClock overrides the issuer clock, enabling deterministic unit tests.
func (i *TokenIssuer) WithClock(clock func() time.Time) {
	if clock == nil {
		return
	}
	i.now = clock
}
