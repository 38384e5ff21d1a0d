package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/davidatlihan/codesafe/internal/v1/types"
)

// jwksClaims are the claims expected from an external identity provider.
type jwksClaims struct {
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWKSVerifier validates RS256 tokens issued by an external identity
// provider, fetching signing keys from the provider's JWKS endpoint.
// It implements types.TokenVerifier and can replace the built-in HMAC
// Verifier when deployments delegate authentication.
type JWKSVerifier struct {
	keyFunc  jwt.Keyfunc
	issuer   string
	audience string
}

// NewJWKSVerifier creates a JWKSVerifier for the given provider domain.
// It registers the provider's JWKS endpoint with a refreshing cache and
// fetches the keys once to ensure connectivity. Additional regOpts are
// passed through to the cache registration for testability.
func NewJWKSVerifier(ctx context.Context, domain, audience string, regOpts ...jwk.RegisterOption) (*JWKSVerifier, error) {
	issuerURL, err := url.Parse("https://" + domain + "/")
	if err != nil {
		return nil, fmt.Errorf("failed to parse issuer URL: %w", err)
	}

	jwksURL := issuerURL.JoinPath(".well-known/jwks.json").String()

	cache := jwk.NewCache(ctx)
	opts := []jwk.RegisterOption{jwk.WithRefreshInterval(1 * time.Hour)}
	opts = append(opts, regOpts...)
	if err := cache.Register(jwksURL, opts...); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL in cache: %w", err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("failed to fetch initial JWKS: %w", err)
	}

	keyFunc := func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("kid header not found")
		}
		keys, err := cache.Get(ctx, jwksURL)
		if err != nil {
			return nil, fmt.Errorf("failed to get keys from cache: %w", err)
		}
		key, found := keys.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("key with kid %s not found", kid)
		}
		var pubKey any
		if err := key.Raw(&pubKey); err != nil {
			return nil, fmt.Errorf("failed to get raw public key: %w", err)
		}
		return pubKey, nil
	}

	return &JWKSVerifier{
		keyFunc:  keyFunc,
		issuer:   issuerURL.String(),
		audience: audience,
	}, nil
}

// Verify parses and validates tokenString against the provider's keys,
// issuer, and audience, returning the identity it asserts.
func (v *JWKSVerifier) Verify(tokenString string) (types.Identity, error) {
	claims := &jwksClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.keyFunc,
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithValidMethods([]string{"RS256"}),
	)
	if err != nil {
		return types.Identity{}, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return types.Identity{}, ErrInvalidToken
	}

	username := claims.Username
	if username == "" {
		username = claims.Name
	}
	return identityFromClaims(claims.Subject, username, claims.Role)
}
