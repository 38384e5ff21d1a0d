// Package api exposes the REST surface: login, project permission and
// suggestion management, and assembly of the full HTTP router.
package api

import (
	"context"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/davidatlihan/codesafe/internal/v1/room"
	"github.com/davidatlihan/codesafe/internal/v1/store"
	"github.com/davidatlihan/codesafe/internal/v1/types"
)

// identityKey is the gin context key RequireAuth stores the caller's
// identity under. The rate limiter reads the same key so authenticated
// requests are billed per user instead of per IP.
const identityKey = "identity"

// UserDirectory resolves usernames to stable user records.
type UserDirectory interface {
	EnsureUser(ctx context.Context, username string) (store.User, error)
}

// TokenIssuer mints bearer tokens for resolved users.
type TokenIssuer interface {
	Issue(user types.Identity) (string, error)
}

// Handlers carries the shared dependencies of the REST handlers.
type Handlers struct {
	registry *room.Registry
	users    UserDirectory
	verifier types.TokenVerifier
	issuer   TokenIssuer
	draining *atomic.Bool
}

// NewHandlers wires the REST handlers. The draining flag is shared with
// the WebSocket hub so both surfaces refuse new work during shutdown.
func NewHandlers(registry *room.Registry, users UserDirectory, verifier types.TokenVerifier, issuer TokenIssuer, draining *atomic.Bool) *Handlers {
	if draining == nil {
		draining = new(atomic.Bool)
	}
	return &Handlers{
		registry: registry,
		users:    users,
		verifier: verifier,
		issuer:   issuer,
		draining: draining,
	}
}

// Identity returns the authenticated identity RequireAuth stored on the
// request, if any.
func Identity(c *gin.Context) (types.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return types.Identity{}, false
	}
	id, ok := v.(types.Identity)
	return id, ok
}
