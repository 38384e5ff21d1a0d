package transport

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/davidatlihan/codesafe/internal/v1/logging"
	"github.com/davidatlihan/codesafe/internal/v1/metrics"
	"github.com/davidatlihan/codesafe/internal/v1/ratelimit"
	"github.com/davidatlihan/codesafe/internal/v1/room"
	"github.com/davidatlihan/codesafe/internal/v1/types"
)

// Hub accepts WebSocket connections, authenticates them, and binds each
// socket to its project room. Room lifecycle lives in the registry; the
// hub owns only the accept path.
type Hub struct {
	registry       *room.Registry
	verifier       types.TokenVerifier
	limiter        *ratelimit.RateLimiter
	allowedOrigins []string
	draining       *atomic.Bool
}

// NewHub creates a Hub and configures it with its dependencies. The
// draining flag is shared with the REST layer so both surfaces refuse
// new work during shutdown.
func NewHub(registry *room.Registry, verifier types.TokenVerifier, limiter *ratelimit.RateLimiter, allowedOrigins []string, draining *atomic.Bool) *Hub {
	if draining == nil {
		draining = new(atomic.Bool)
	}
	return &Hub{
		registry:       registry,
		verifier:       verifier,
		limiter:        limiter,
		allowedOrigins: allowedOrigins,
		draining:       draining,
	}
}

// ServeWs runs the accept sequence for one connection. Origin, token, and
// room checks happen after the upgrade so browsers receive a readable
// close code instead of an opaque handshake failure.
func (h *Hub) ServeWs(c *gin.Context) {
	// IP rate limit first, before any work. A rejected handshake is a
	// plain 429 since the socket does not exist yet.
	if h.limiter != nil && !h.limiter.CheckWebSocket(c) {
		return
	}

	conn, err := h.upgrade(c)
	if err != nil {
		// Upgrade failures write their own HTTP error response.
		logging.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	if h.draining.Load() {
		closeAndDrop(conn, types.CloseServiceRestart, "server shutting down")
		return
	}

	if err := validateOrigin(c.Request, h.allowedOrigins); err != nil {
		logging.Warn(c.Request.Context(), "rejecting websocket origin", zap.Error(err))
		closeAndDrop(conn, types.ClosePolicyViolation, "origin not allowed")
		return
	}

	identity, roomID, err := h.acceptParams(c)
	if err != nil {
		closeAndDrop(conn, types.ClosePolicyViolation, err.Error())
		return
	}

	if h.limiter != nil {
		if err := h.limiter.CheckWebSocketUser(c.Request.Context(), identity.UserID); err != nil {
			closeAndDrop(conn, websocket.CloseTryAgainLater, "too many connections")
			return
		}
	}

	client, err := h.bind(c.Request.Context(), conn, roomID, identity)
	if err != nil {
		if errors.Is(err, room.ErrShuttingDown) {
			closeAndDrop(conn, types.CloseServiceRestart, "server shutting down")
		} else {
			logging.Error(c.Request.Context(), "room initialization failed",
				zap.String("room_id", string(roomID)), zap.Error(err))
			closeAndDrop(conn, types.CloseInternalError, "room initialization failed")
		}
		return
	}

	metrics.IncConnection()
	logging.Info(c.Request.Context(), "websocket accepted",
		zap.String("room_id", string(roomID)),
		zap.String("user_id", identity.UserID),
		zap.String("client_id", client.GetID()),
	)

	go client.writePump()
	go client.readPump()
}

// acceptParams pulls the room id and bearer token out of the query string
// and authenticates the caller.
func (h *Hub) acceptParams(c *gin.Context) (types.Identity, types.RoomID, error) {
	roomID := c.Query("room")
	if roomID == "" {
		return types.Identity{}, "", errors.New("room not provided")
	}

	token := c.Query("token")
	if token == "" {
		return types.Identity{}, "", errors.New("token not provided")
	}

	identity, err := h.verifier.Verify(token)
	if err != nil {
		logging.Warn(c.Request.Context(), "websocket token rejected", zap.Error(err))
		return types.Identity{}, "", errors.New("invalid token")
	}

	if !types.ValidRoomID(roomID) {
		return types.Identity{}, "", errors.New("invalid room id")
	}

	return identity, types.RoomID(roomID), nil
}

// bind acquires the room and attaches a fresh client to it. Attach can
// lose a race against a teardown that started after the registry lookup;
// when it does, the next lookup waits for the release and recreates.
func (h *Hub) bind(ctx context.Context, conn wsConnection, roomID types.RoomID, identity types.Identity) (*Client, error) {
	for {
		r, err := h.registry.GetOrCreate(ctx, roomID)
		if err != nil {
			return nil, err
		}

		client := newClient(conn, r, identity)
		err = r.Attach(client)
		if err == nil {
			return client, nil
		}
		if !errors.Is(err, room.ErrRoomClosed) {
			return nil, err
		}
	}
}

// Shutdown stops accepting new sockets and tears down every active room,
// flushing each document to the store.
func (h *Hub) Shutdown(ctx context.Context) {
	h.draining.Store(true)
	h.registry.Shutdown(ctx)
}
