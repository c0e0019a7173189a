// Package http exposes the operator API: health, status, the player
// registry, Prometheus metrics and a WebSocket status feed.
package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"slimcast/internal/core/domain"
	"slimcast/internal/core/ports"
	apperrors "slimcast/pkg/errors"
)

// StatusSource yields a consistent snapshot of the dispatcher.
type StatusSource interface {
	Snapshot() domain.StreamStatus
}

type StatusHandler struct {
	status   StatusSource
	players  ports.PlayerRepository
	interval time.Duration
	log      *zap.SugaredLogger
	upgrader websocket.Upgrader
}

func NewStatusHandler(
	status StatusSource,
	players ports.PlayerRepository,
	interval time.Duration,
	log *zap.SugaredLogger,
) *StatusHandler {
	return &StatusHandler{
		status:   status,
		players:  players,
		interval: interval,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *StatusHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws/status", h.StatusFeed)

	api := router.Group("/api/v1")
	{
		api.GET("/status", h.Status)
		api.GET("/players", h.ListPlayers)
	}
}

func (h *StatusHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *StatusHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.status.Snapshot())
}

func (h *StatusHandler) ListPlayers(c *gin.Context) {
	players, err := h.players.List(c.Request.Context())
	if err != nil {
		h.log.Errorw("player listing failed", "error", err)
		appErr := apperrors.WrapError(err, apperrors.ErrCodeInternal,
			"failed to list players", http.StatusInternalServerError)
		c.JSON(appErr.HTTPStatus, gin.H{"error": appErr.Message, "code": appErr.Code})
		return
	}
	c.JSON(http.StatusOK, gin.H{"players": players, "count": len(players)})
}

// StatusFeed upgrades to a WebSocket and pushes a status snapshot on every
// interval until the peer goes away.
func (h *StatusHandler) StatusFeed(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warnw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	h.log.Debugw("status feed subscriber connected", "remote", conn.RemoteAddr().String())

	// Drain control frames so pongs and close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	// First snapshot goes out immediately.
	for {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(h.status.Snapshot()); err != nil {
			h.log.Debugw("status feed subscriber gone", "error", err)
			return
		}
		<-ticker.C
	}
}
