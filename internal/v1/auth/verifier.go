package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/davidatlihan/codesafe/internal/v1/types"
)

// ErrInvalidToken is returned when a token parses but fails validation.
var ErrInvalidToken = errors.New("invalid token")

// Claims carried by a collaboration token. The user id travels in the
// registered subject claim.
type Claims struct {
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates the HMAC-signed tokens minted by this server's login
// endpoint. It implements types.TokenVerifier.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for tokens signed with the given secret.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// Verify parses and validates tokenString, returning the identity it
// asserts. Tokens signed with any algorithm other than HS256 are rejected
// before signature verification.
func (v *Verifier) Verify(tokenString string) (types.Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return types.Identity{}, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return types.Identity{}, ErrInvalidToken
	}
	return identityFromClaims(claims.Subject, claims.Username, claims.Role)
}

// identityFromClaims maps raw claim values onto an Identity. A token must
// assert all three identity claims with a recognized role; anything less
// is rejected rather than patched up.
func identityFromClaims(subject, username, role string) (types.Identity, error) {
	if subject == "" {
		return types.Identity{}, errors.New("token missing subject claim")
	}
	if username == "" {
		return types.Identity{}, errors.New("token missing username claim")
	}
	parsed, ok := types.ParseRole(role)
	if !ok {
		return types.Identity{}, fmt.Errorf("token role %q not recognized", role)
	}
	return types.Identity{UserID: subject, Username: username, Role: parsed}, nil
}

// Issuer mints collaboration tokens for authenticated users.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer creates an Issuer signing with the given secret. Non-positive
// ttl values fall back to 24 hours.
func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: secret, ttl: ttl}
}

// Issue signs a token asserting the given identity.
func (i *Issuer) Issue(user types.Identity) (string, error) {
	now := time.Now()
	claims := &Claims{
		Username: user.Username,
		Role:     string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.UserID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
