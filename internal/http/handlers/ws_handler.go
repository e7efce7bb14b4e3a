// README: WebSocket handler: upgrades and registers live push sessions.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"hail/internal/http/middleware"
	"hail/internal/modules/driver"
	"hail/internal/notify"
	"hail/internal/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type WSHandler struct {
	registry *notify.WSRegistry
	drivers  *driver.Service
	log      *zap.Logger
}

func NewWSHandler(registry *notify.WSRegistry, drivers *driver.Service, log *zap.Logger) *WSHandler {
	return &WSHandler{registry: registry, drivers: drivers, log: log}
}

// Connect upgrades the request and holds the connection open until the
// client goes away. Drivers get their session registered under the driver
// profile id as well, since offers address drivers by that id.
func (h *WSHandler) Connect(c *gin.Context) {
	uid := types.ID(middleware.CallerUID(c))
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.log != nil {
			h.log.Warn("ws upgrade failed", zap.String("uid", string(uid)), zap.Error(err))
		}
		return
	}

	ids := []types.ID{uid}
	if d, err := h.drivers.GetByUser(c.Request.Context(), uid); err == nil {
		ids = append(ids, d.ID)
	}
	for _, id := range ids {
		h.registry.Add(id, conn)
	}
	defer func() {
		for _, id := range ids {
			h.registry.Remove(id)
		}
		conn.Close()
	}()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	})
	_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	}
}
