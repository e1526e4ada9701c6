package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tbourn/go-users-backend/internal/apperr"
)

// TokenKind distinguishes the two token audiences. Each is signed with its
// own secret, so a refresh token never verifies as an access token.
type TokenKind string

const (
	AccessToken  TokenKind = "access"
	RefreshToken TokenKind = "refresh"
)

// ErrInvalidToken is returned for any token that fails to parse or verify.
var ErrInvalidToken = errors.New("invalid token")

// Pair is the token pair issued on login and refresh.
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Claims is the JWT payload; Subject carries the user id.
type Claims struct {
	Kind TokenKind `json:"typ"`
	jwt.RegisteredClaims
}

// Signer issues and verifies HS256 tokens.
type Signer struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func (s *Signer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Pair issues an access and a refresh token for userID.
func (s *Signer) Pair(userID string) (Pair, error) {
	access, err := s.Sign(AccessToken, userID)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := s.Sign(RefreshToken, userID)
	if err != nil {
		return Pair{}, err
	}
	return Pair{AccessToken: access, RefreshToken: refresh}, nil
}

// Sign issues one token of the given kind. Missing secrets or TTLs and
// signing failures are reported as token-generation conditions.
func (s *Signer) Sign(kind TokenKind, userID string) (string, error) {
	secret, ttl, err := s.keyFor(kind)
	if err != nil {
		return "", err
	}
	now := s.now()
	claims := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", apperr.TokenGeneration(err.Error())
	}
	return signed, nil
}

// Parse verifies raw as a token of the given kind and returns its subject.
// Every verification failure wraps ErrInvalidToken.
func (s *Signer) Parse(kind TokenKind, raw string) (string, error) {
	secret, _, err := s.keyFor(kind)
	if err != nil {
		return "", err
	}
	var claims Claims
	_, err = jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Kind != kind || claims.Subject == "" {
		return "", fmt.Errorf("%w: wrong token type", ErrInvalidToken)
	}
	return claims.Subject, nil
}

func (s *Signer) keyFor(kind TokenKind) (string, time.Duration, error) {
	switch kind {
	case AccessToken:
		if s.AccessSecret == "" || s.AccessTTL <= 0 {
			return "", 0, apperr.TokenGeneration("JWT_SECRET_KEY or ACCESS_TOKEN_TTL is not defined")
		}
		return s.AccessSecret, s.AccessTTL, nil
	case RefreshToken:
		if s.RefreshSecret == "" || s.RefreshTTL <= 0 {
			return "", 0, apperr.TokenGeneration("JWT_REFRESH_SECRET_KEY or REFRESH_TOKEN_TTL is not defined")
		}
		return s.RefreshSecret, s.RefreshTTL, nil
	default:
		return "", 0, fmt.Errorf("unknown token kind %q", kind)
	}
}
