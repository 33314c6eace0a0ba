// Package http exposes the server's read-only status surface: JSON
// snapshots, a health probe, Prometheus metrics and a debounced
// websocket feed for the GUI.
package http

import (
	"net/http"
	"reflect"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mirrorcast/internal/core/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The status surface is bound to the trusted local segment.
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// StatusProvider yields point-in-time server snapshots.
type StatusProvider interface {
	Snapshot() domain.StatusSnapshot
}

// StatusHandler serves the status endpoints.
type StatusHandler struct {
	provider StatusProvider
	logger   *zap.SugaredLogger

	// feedInterval is the debounce period of the websocket feed.
	feedInterval time.Duration
}

// NewStatusHandler creates a handler over provider.
func NewStatusHandler(provider StatusProvider, logger *zap.SugaredLogger) *StatusHandler {
	return &StatusHandler{
		provider:     provider,
		logger:       logger,
		feedInterval: 500 * time.Millisecond,
	}
}

// Router builds the gin engine with all status routes mounted.
func (h *StatusHandler) Router(prometheusEnabled bool) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(h.logger))
	h.SetupRoutes(router, prometheusEnabled)
	return router
}

// SetupRoutes mounts the status routes on router.
func (h *StatusHandler) SetupRoutes(router *gin.Engine, prometheusEnabled bool) {
	router.GET("/health", h.Health)
	router.GET("/ws/status", h.StatusFeed)

	api := router.Group("/api/v1")
	{
		api.GET("/status", h.Status)
	}

	if prometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
}

func (h *StatusHandler) Health(c *gin.Context) {
	snap := h.provider.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"state":  snap.State,
	})
}

func (h *StatusHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.provider.Snapshot())
}

// StatusFeed pushes debounced snapshots over a websocket whenever the
// snapshot changes. It realizes the change-notification channel the
// GUI binds to.
func (h *StatusHandler) StatusFeed(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Reader pump: we never expect inbound data, but reading is what
	// surfaces the peer's close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.feedInterval)
	defer ticker.Stop()

	var last domain.StatusSnapshot
	first := true
	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
		}

		snap := h.provider.Snapshot()
		if !first && reflect.DeepEqual(snap, last) {
			continue
		}
		if err := conn.WriteJSON(snap); err != nil {
			return
		}
		last = snap
		first = false
	}
}
