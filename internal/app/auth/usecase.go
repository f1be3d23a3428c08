package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinAPIKeyLength is the shortest API key accepted.
const MinAPIKeyLength = 32

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

const (
	MethodDisabled = "disabled"
	MethodAPIKey   = "api_key"
	MethodJWT      = "jwt"
)

type VerifyRequest struct {
	APIKey        string
	Authorization string
}

type Principal struct {
	Subject string
	Method  string
}

// VerifyUseCase checks gateway credentials: an API key of sufficient length
// or an HS256 bearer token carrying a subject.
type VerifyUseCase struct {
	Enabled   bool
	JWTSecret []byte
	Now       func() time.Time
}

func (u VerifyUseCase) Execute(_ context.Context, req VerifyRequest) (Principal, error) {
	if !u.Enabled {
		return Principal{Method: MethodDisabled}, nil
	}

	if key := strings.TrimSpace(req.APIKey); key != "" {
		if len(key) < MinAPIKeyLength {
			return Principal{}, ErrInvalidCredentials
		}
		return Principal{Subject: "api-key", Method: MethodAPIKey}, nil
	}

	token, found := strings.CutPrefix(strings.TrimSpace(req.Authorization), "Bearer ")
	if !found || strings.TrimSpace(token) == "" {
		return Principal{}, ErrMissingCredentials
	}
	sub, err := u.parseToken(strings.TrimSpace(token))
	if err != nil {
		return Principal{}, err
	}
	return Principal{Subject: sub, Method: MethodJWT}, nil
}

func (u VerifyUseCase) parseToken(raw string) (string, error) {
	if len(u.JWTSecret) == 0 {
		return "", fmt.Errorf("%w: jwt secret not configured", ErrInvalidCredentials)
	}
	now := u.Now
	if now == nil {
		now = time.Now
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return u.JWTSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrInvalidCredentials)
	}
	return claims.Subject, nil
}

// IssueToken signs an HS256 token for subject, valid for ttl.
func (u VerifyUseCase) IssueToken(subject string, ttl time.Duration) (string, error) {
	if len(u.JWTSecret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now
	if u.Now != nil {
		now = u.Now
	}
	issued := now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(issued),
		ExpiresAt: jwt.NewNumericDate(issued.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(u.JWTSecret)
}
