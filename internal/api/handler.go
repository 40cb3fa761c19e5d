// Package api exposes the control core over HTTP and a WebSocket
// snapshot stream.
package api

import (
	"context"
	"time"

	"codeberg.org/mutker/laptopctl/internal/control"
	"codeberg.org/mutker/laptopctl/internal/logger"
	"codeberg.org/mutker/laptopctl/internal/profile"
	"codeberg.org/mutker/laptopctl/internal/sensor"
	"codeberg.org/mutker/laptopctl/internal/thermal"
	"github.com/gin-gonic/gin"
)

// Service is the core surface the handlers need.
type Service interface {
	GetSnapshot() sensor.Snapshot
	GetHistory(n int) []sensor.Snapshot
	SubmitCommand(ctx context.Context, cmd control.Command) error
	GetActiveProfile() profile.HardwareProfile
	ListProfiles() []string
	GetThermalState() thermal.State
	GetRgbState() control.RgbState
	GetAlerts() []thermal.Alert
	SetInterval(d time.Duration) error
	Interval() time.Duration
	SensorError() error
}

type Handler struct {
	svc Service
	log logger.Logger
}

func NewHandler(svc Service, log logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{svc: svc, log: log}
}

// InitRoutes builds the router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), h.requestLogger)

	router.GET("/health", h.health)
	router.GET("/ws", h.wsConnect)

	api := router.Group("/api/v1")
	{
		api.GET("/snapshot", h.getSnapshot)
		api.GET("/history", h.getHistory)
		api.GET("/history.csv", h.getHistoryCSV)
		api.POST("/commands", h.submitCommand)
		api.GET("/profiles", h.listProfiles)
		api.GET("/profiles/active", h.getActiveProfile)
		api.GET("/thermal", h.getThermal)
		api.GET("/rgb", h.getRgb)
		api.GET("/interval", h.getInterval)
		api.PUT("/interval", h.setInterval)
	}

	return router
}

func (h *Handler) requestLogger(c *gin.Context) {
	start := time.Now()
	c.Next()

	h.log.Debug().
		Str("method", c.Request.Method).
		Str("path", c.FullPath()).
		Int("status", c.Writer.Status()).
		Dur("took", time.Since(start)).
		Msg("Request handled")
}
