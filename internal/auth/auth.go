// Package auth verifies dashboard access tokens issued by the web
// backend. Tokens are HS256 JWTs sharing a secret with the backend.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenInvalid = errors.New("access token is invalid")
	ErrTokenExpired = errors.New("access token is expired")
)

// Identity is the verified subject of an access token.
type Identity struct {
	UserID      string
	CharacterID string
	Role        string
}

// Verifier validates an access token into an Identity.
type Verifier interface {
	Verify(token string) (Identity, error)
}

// Config defines how access tokens are verified.
type Config struct {
	Secret []byte
	Issuer string
	Now    func() time.Time
}

// accessClaims is the internal claims type used for JWT parsing.
type accessClaims struct {
	jwt.RegisteredClaims
	UserID      string `json:"user_id"`
	CharacterID string `json:"character_id"`
	Role        string `json:"role"`
}

// HMACVerifier verifies HS256 tokens with a shared secret.
type HMACVerifier struct {
	cfg Config
}

// NewHMACVerifier builds a verifier. Secret and issuer are required.
func NewHMACVerifier(cfg Config) (*HMACVerifier, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("auth: secret is required")
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, errors.New("auth: issuer is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &HMACVerifier{cfg: cfg}, nil
}

// Verify parses and validates the token. It checks the signature, the
// issuer, the expiry against the configured clock, and the presence of
// a user id.
func (v *HMACVerifier) Verify(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, fmt.Errorf("%w: empty token", ErrTokenInvalid)
	}

	var parsed accessClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(t *jwt.Token) (any, error) {
		return v.cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return Identity{}, fmt.Errorf("%w: bad signature", ErrTokenInvalid)
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if parsed.Issuer != v.cfg.Issuer {
		return Identity{}, fmt.Errorf("%w: issuer mismatch", ErrTokenInvalid)
	}
	if parsed.ExpiresAt == nil {
		return Identity{}, fmt.Errorf("%w: exp is required", ErrTokenInvalid)
	}

	now := v.cfg.Now().UTC()
	if !parsed.ExpiresAt.Time.UTC().After(now) {
		return Identity{}, ErrTokenExpired
	}
	if parsed.NotBefore != nil && now.Before(parsed.NotBefore.Time.UTC()) {
		return Identity{}, fmt.Errorf("%w: not active yet", ErrTokenInvalid)
	}

	if strings.TrimSpace(parsed.UserID) == "" {
		return Identity{}, fmt.Errorf("%w: user_id is required", ErrTokenInvalid)
	}

	return Identity{
		UserID:      parsed.UserID,
		CharacterID: parsed.CharacterID,
		Role:        parsed.Role,
	}, nil
}
