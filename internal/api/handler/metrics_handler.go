package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/open-apime/relay/internal/metrics"
	"github.com/open-apime/relay/internal/pkg/response"
)

type MetricsReader interface {
	Get(instanceID string) metrics.Record
	All() (map[string]metrics.Record, error)
}

type MetricsHandler struct {
	store MetricsReader
}

func NewMetricsHandler(store MetricsReader) *MetricsHandler {
	return &MetricsHandler{store: store}
}

func (h *MetricsHandler) Register(r gin.IRoutes) {
	r.GET("/metrics", h.all)
	r.GET("/instances/:id/metrics", h.get)
}

func (h *MetricsHandler) all(c *gin.Context) {
	all, err := h.store.All()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err)
		return
	}
	response.Success(c, http.StatusOK, all)
}

// get devolve contadores zerados para instâncias sem histórico.
func (h *MetricsHandler) get(c *gin.Context) {
	response.Success(c, http.StatusOK, h.store.Get(c.Param("id")))
}
