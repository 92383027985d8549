package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/open-apime/relay/internal/logsink"
	"github.com/open-apime/relay/internal/pkg/response"
)

const (
	logEventName      = "new_log"
	heartbeatInterval = 25 * time.Second
)

type LogSource interface {
	Entries() []logsink.Entry
	Subscribe() (<-chan logsink.Entry, func())
}

type LogHandler struct {
	source    LogSource
	heartbeat time.Duration
}

func NewLogHandler(source LogSource) *LogHandler {
	return &LogHandler{source: source, heartbeat: heartbeatInterval}
}

func (h *LogHandler) Register(r gin.IRoutes) {
	r.GET("/logs", h.list)
	r.GET("/logs/stream", h.stream)
}

func (h *LogHandler) list(c *gin.Context) {
	response.Success(c, http.StatusOK, h.source.Entries())
}

// stream envia cada nova entrada como evento SSE "new_log" até o cliente
// desconectar.
func (h *LogHandler) stream(c *gin.Context) {
	entries, cancel := h.source.Subscribe()
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case e := <-entries:
			c.SSEvent(logEventName, e)
			return true
		case <-ticker.C:
			_, err := io.WriteString(w, ": ping\n\n")
			return err == nil
		}
	})
}
