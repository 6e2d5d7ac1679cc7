// Package auth validates bearer tokens and maps principals to permissions.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when the token is malformed or its signature does not verify
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidIssuer is returned when the token issuer is invalid
	ErrInvalidIssuer = errors.New("invalid issuer")

	// ErrInvalidAudience is returned when the token audience is invalid
	ErrInvalidAudience = errors.New("invalid audience")

	// ErrMissingSubject is returned when neither sub nor email is present
	ErrMissingSubject = errors.New("token has no subject")
)

// Principal is the authenticated caller.
type Principal struct {
	Subject string
	Email   string
	Roles   []Role
}

// ID returns the identifier recorded in audit logs: the email when present,
// else the subject.
func (p Principal) ID() string {
	if p.Email != "" {
		return p.Email
	}
	return p.Subject
}

// TokenClaims are the claims carried by gateway tokens.
type TokenClaims struct {
	jwt.RegisteredClaims
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// Config holds validator settings. Issuer and Audience are checked only
// when set.
type Config struct {
	Secret   string
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Validator verifies HS256 tokens.
type Validator struct {
	secret []byte
	parser *jwt.Parser
	issuer string
}

// NewValidator creates a Validator.
func NewValidator(cfg Config) (*Validator, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &Validator{
		secret: []byte(cfg.Secret),
		parser: jwt.NewParser(opts...),
		issuer: cfg.Issuer,
	}, nil
}

// ValidateToken verifies tokenString and returns its principal.
func (v *Validator) ValidateToken(ctx context.Context, tokenString string) (*Principal, error) {
	claims := &TokenClaims{}
	_, err := v.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenInvalidIssuer):
			return nil, ErrInvalidIssuer
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			return nil, ErrInvalidAudience
		default:
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	}

	if claims.Subject == "" && claims.Email == "" {
		return nil, ErrMissingSubject
	}
	return &Principal{
		Subject: claims.Subject,
		Email:   claims.Email,
		Roles:   ParseRoles(claims.Roles),
	}, nil
}

// IssueToken signs a token for p valid for ttl. It is used by the token
// subcommand and by tests.
func (v *Validator) IssueToken(p Principal, audience string, ttl time.Duration) (string, error) {
	now := time.Now()
	roles := make([]string, len(p.Roles))
	for i, r := range p.Roles {
		roles[i] = string(r)
	}
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: p.Email,
		Roles: roles,
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
