package transport

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/davidatlihan/codesafe/internal/v1/logging"
)

// validateOrigin checks the request origin against the allowed list by
// scheme and host. Requests without an Origin header pass: non-browser
// clients (CLIs, server-side integrations) do not send one. An empty
// allow-list admits every origin, matching the REST CORS configuration.
func validateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" || len(allowedOrigins) == 0 {
		return nil
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin %q: %w", origin, err)
	}

	for _, allowed := range allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

// upgrade performs the WebSocket handshake. CheckOrigin always accepts:
// origin enforcement happens after the upgrade in ServeWs, where a
// rejected browser gets a policy-violation close frame it can actually
// read instead of a failed handshake.
func (h *Hub) upgrade(c *gin.Context) (wsConnection, error) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
		WriteBufferPool: &sync.Pool{
			New: func() any {
				return make([]byte, 4096)
			},
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// closeAndDrop writes a close frame carrying the rejection code, then
// drops the connection without ever attaching it to a room.
func closeAndDrop(conn wsConnection, code int, reason string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason)); err != nil {
		logging.GetLogger().Debug("failed to write close frame", zap.Error(err))
	}
	_ = conn.Close()
}
