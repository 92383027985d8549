package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/open-apime/relay/internal/config"
)

type HealthHandler struct {
	// stats, quando definido, é incluído em /health como "queues".
	stats func() any
	now   func() time.Time
}

func NewHealthHandler(stats func() any) *HealthHandler {
	return &HealthHandler{stats: stats, now: time.Now}
}

func (h *HealthHandler) Register(r gin.IRoutes) {
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": config.Version,
			"name":    "Relay",
		})
	})

	r.GET("/health", func(c *gin.Context) {
		body := gin.H{
			"status":    "online",
			"timestamp": h.now().UTC().Format(time.RFC3339Nano),
		}
		if h.stats != nil {
			body["queues"] = h.stats()
		}
		c.JSON(http.StatusOK, body)
	})
}
